package timeline

import "fmt"

// CommandType tags Command payloads. The command set is closed: ApplyCommand
// switches exhaustively and rejects anything it does not know.
type CommandType string

const (
	CmdInsertNode               CommandType = "insert_node"
	CmdRemoveNode               CommandType = "remove_node"
	CmdUpdateNode               CommandType = "update_node"
	CmdAddEdge                  CommandType = "add_edge"
	CmdRemoveEdge               CommandType = "remove_edge"
	CmdUpsertTrack              CommandType = "upsert_track"
	CmdRemoveTrack              CommandType = "remove_track"
	CmdMoveTrack                CommandType = "move_track"
	CmdAddAutomationLane        CommandType = "add_automation_lane"
	CmdUpdateAutomationLane     CommandType = "update_automation_lane"
	CmdRemoveAutomationLane     CommandType = "remove_automation_lane"
	CmdInsertAutomationKeyframe CommandType = "insert_automation_keyframe"
	CmdRemoveAutomationKeyframe CommandType = "remove_automation_keyframe"
	CmdAddMarker                CommandType = "add_marker"
	CmdRemoveMarker             CommandType = "remove_marker"
	CmdUpdateMarker             CommandType = "update_marker"
)

// TrackPlacement pins a node into a track's ordered node list. A nil
// Position means append.
type TrackPlacement struct {
	TrackID  TrackID `json:"track_id"`
	Position *int    `json:"position,omitempty"`
}

// Command is a single undoable mutation of the timeline graph. Exactly the
// fields relevant to Type are set; the rest stay zero.
type Command struct {
	Type CommandType `json:"command"`

	Node       *TimelineNode    `json:"node,omitempty"`
	NodeID     NodeID           `json:"node_id,omitempty"`
	Placements []TrackPlacement `json:"placements,omitempty"`
	Edges      []TimelineEdge   `json:"edges,omitempty"`

	Edge *TimelineEdge `json:"edge,omitempty"`

	Track   *TrackBinding `json:"track,omitempty"`
	TrackID TrackID       `json:"track_id,omitempty"`
	Index   int           `json:"index,omitempty"`

	Lane     *AutomationLane     `json:"lane,omitempty"`
	LaneID   LaneID              `json:"lane_id,omitempty"`
	Keyframe *AutomationKeyframe `json:"keyframe,omitempty"`
	Frame    Frame               `json:"frame,omitempty"`

	Marker   *Marker  `json:"marker,omitempty"`
	MarkerID MarkerID `json:"marker_id,omitempty"`
	Label    *string  `json:"label,omitempty"`
}

/*
LEARNING: VALIDATE-THEN-MUTATE & COMPUTED INVERSES

Every command validates ALL of its preconditions before touching the graph,
so a rejected command never leaves a partial mutation behind. On success the
command returns the exact command that undoes it - RemoveNode's inverse
reconstructs the node plus every track placement and incident edge it had,
in original order. Undo/redo is then just "apply the inverse".
*/

// ApplyCommand mutates the graph and returns the inverse command, or an
// error with the graph untouched.
func ApplyCommand(g *TimelineGraph, cmd Command) (Command, error) {
	switch cmd.Type {
	case CmdInsertNode:
		return insertNode(g, cmd)
	case CmdRemoveNode:
		return removeNode(g, cmd.NodeID)
	case CmdUpdateNode:
		return updateNode(g, cmd.Node)
	case CmdAddEdge:
		return addEdge(g, cmd.Edge)
	case CmdRemoveEdge:
		return removeEdge(g, cmd.Edge)
	case CmdUpsertTrack:
		return upsertTrack(g, cmd.Track)
	case CmdRemoveTrack:
		return removeTrack(g, cmd.TrackID)
	case CmdMoveTrack:
		return moveTrack(g, cmd.TrackID, cmd.Index)
	case CmdAddAutomationLane:
		return addLane(g, cmd.Lane)
	case CmdUpdateAutomationLane:
		return updateLane(g, cmd.Lane)
	case CmdRemoveAutomationLane:
		return removeLane(g, cmd.LaneID)
	case CmdInsertAutomationKeyframe:
		return insertKeyframe(g, cmd.LaneID, cmd.Keyframe)
	case CmdRemoveAutomationKeyframe:
		return removeKeyframe(g, cmd.LaneID, cmd.Frame)
	case CmdAddMarker:
		return addMarker(g, cmd.Marker)
	case CmdRemoveMarker:
		return removeMarker(g, cmd.MarkerID)
	case CmdUpdateMarker:
		return updateMarker(g, cmd.MarkerID, cmd.Frame, cmd.Label)
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidOp, cmd.Type)
	}
}

func insertNode(g *TimelineGraph, cmd Command) (Command, error) {
	node := cmd.Node
	if node == nil {
		return Command{}, fmt.Errorf("%w: insert_node requires a node", ErrInvalidOp)
	}
	if _, ok := g.Nodes[node.ID]; ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	if err := validatePlacements(g, cmd.Placements); err != nil {
		return Command{}, err
	}
	if err := validateEdgesForInsert(g, cmd.Edges, node.ID); err != nil {
		return Command{}, err
	}

	g.Nodes[node.ID] = CloneNode(node)

	for _, placement := range cmd.Placements {
		track := g.Track(placement.TrackID)
		if track == nil {
			continue
		}
		idx := len(track.NodeIDs)
		if placement.Position != nil {
			idx = *placement.Position
		}
		track.NodeIDs = append(track.NodeIDs, "")
		copy(track.NodeIDs[idx+1:], track.NodeIDs[idx:])
		track.NodeIDs[idx] = node.ID
	}

	g.Edges = append(g.Edges, cmd.Edges...)

	return Command{Type: CmdRemoveNode, NodeID: node.ID}, nil
}

func removeNode(g *TimelineGraph, nodeID NodeID) (Command, error) {
	node, ok := g.Nodes[nodeID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	delete(g.Nodes, nodeID)

	// Collect original placements so the inverse restores exact positions.
	var placements []TrackPlacement
	for _, track := range g.Tracks {
		i := 0
		for i < len(track.NodeIDs) {
			if track.NodeIDs[i] == nodeID {
				pos := i
				track.NodeIDs = append(track.NodeIDs[:i], track.NodeIDs[i+1:]...)
				placements = append(placements, TrackPlacement{TrackID: track.ID, Position: &pos})
			} else {
				i++
			}
		}
	}

	var removedEdges []TimelineEdge
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if e.From == nodeID || e.To == nodeID {
			removedEdges = append(removedEdges, e)
		} else {
			kept = append(kept, e)
		}
	}
	g.Edges = kept

	return Command{
		Type:       CmdInsertNode,
		Node:       node,
		Placements: placements,
		Edges:      removedEdges,
	}, nil
}

func updateNode(g *TimelineGraph, node *TimelineNode) (Command, error) {
	if node == nil {
		return Command{}, fmt.Errorf("%w: update_node requires a node", ErrInvalidOp)
	}
	previous, ok := g.Nodes[node.ID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNodeNotFound, node.ID)
	}
	g.Nodes[node.ID] = CloneNode(node)
	return Command{Type: CmdUpdateNode, Node: previous}, nil
}

func addEdge(g *TimelineGraph, edge *TimelineEdge) (Command, error) {
	if edge == nil {
		return Command{}, fmt.Errorf("%w: add_edge requires an edge", ErrInvalidOp)
	}
	if _, ok := g.Nodes[edge.From]; !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNodeNotFound, edge.From)
	}
	if _, ok := g.Nodes[edge.To]; !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNodeNotFound, edge.To)
	}
	if g.EdgeIndex(*edge) >= 0 {
		return Command{}, fmt.Errorf("%w: %s -> %s", ErrEdgeExists, edge.From, edge.To)
	}
	g.Edges = append(g.Edges, *edge)
	return Command{Type: CmdRemoveEdge, Edge: edge}, nil
}

func removeEdge(g *TimelineGraph, edge *TimelineEdge) (Command, error) {
	if edge == nil {
		return Command{}, fmt.Errorf("%w: remove_edge requires an edge", ErrInvalidOp)
	}
	idx := g.EdgeIndex(*edge)
	if idx < 0 {
		return Command{}, fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, edge.From, edge.To)
	}
	g.Edges = append(g.Edges[:idx], g.Edges[idx+1:]...)
	return Command{Type: CmdAddEdge, Edge: edge}, nil
}

func upsertTrack(g *TimelineGraph, track *TrackBinding) (Command, error) {
	if track == nil {
		return Command{}, fmt.Errorf("%w: upsert_track requires a track", ErrInvalidOp)
	}
	if idx := g.TrackIndex(track.ID); idx >= 0 {
		previous := g.Tracks[idx]
		g.Tracks[idx] = CloneTrack(track)
		return Command{Type: CmdUpsertTrack, Track: previous}, nil
	}
	g.Tracks = append(g.Tracks, CloneTrack(track))
	return Command{Type: CmdRemoveTrack, TrackID: track.ID}, nil
}

func removeTrack(g *TimelineGraph, trackID TrackID) (Command, error) {
	idx := g.TrackIndex(trackID)
	if idx < 0 {
		return Command{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	track := g.Tracks[idx]
	g.Tracks = append(g.Tracks[:idx], g.Tracks[idx+1:]...)
	return Command{Type: CmdUpsertTrack, Track: track}, nil
}

func moveTrack(g *TimelineGraph, trackID TrackID, index int) (Command, error) {
	if index < 0 {
		return Command{}, fmt.Errorf("%w: move_track index %d", ErrInvalidOp, index)
	}
	current := g.TrackIndex(trackID)
	if current < 0 {
		return Command{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	track := g.Tracks[current]
	g.Tracks = append(g.Tracks[:current], g.Tracks[current+1:]...)
	target := index
	if target > len(g.Tracks) {
		target = len(g.Tracks)
	}
	g.Tracks = append(g.Tracks, nil)
	copy(g.Tracks[target+1:], g.Tracks[target:])
	g.Tracks[target] = track
	return Command{Type: CmdMoveTrack, TrackID: trackID, Index: current}, nil
}

func addLane(g *TimelineGraph, lane *AutomationLane) (Command, error) {
	if lane == nil {
		return Command{}, fmt.Errorf("%w: add_automation_lane requires a lane", ErrInvalidOp)
	}
	if g.Lane(lane.ID) != nil {
		return Command{}, fmt.Errorf("%w: %s", ErrLaneExists, lane.ID)
	}
	g.Automation = append(g.Automation, CloneLane(lane))
	return Command{Type: CmdRemoveAutomationLane, LaneID: lane.ID}, nil
}

func updateLane(g *TimelineGraph, lane *AutomationLane) (Command, error) {
	if lane == nil {
		return Command{}, fmt.Errorf("%w: update_automation_lane requires a lane", ErrInvalidOp)
	}
	idx := g.LaneIndex(lane.ID)
	if idx < 0 {
		return Command{}, fmt.Errorf("%w: %s", ErrLaneNotFound, lane.ID)
	}
	previous := g.Automation[idx]
	g.Automation[idx] = CloneLane(lane)
	return Command{Type: CmdUpdateAutomationLane, Lane: previous}, nil
}

func removeLane(g *TimelineGraph, laneID LaneID) (Command, error) {
	idx := g.LaneIndex(laneID)
	if idx < 0 {
		return Command{}, fmt.Errorf("%w: %s", ErrLaneNotFound, laneID)
	}
	lane := g.Automation[idx]
	g.Automation = append(g.Automation[:idx], g.Automation[idx+1:]...)
	return Command{Type: CmdAddAutomationLane, Lane: lane}, nil
}

func insertKeyframe(g *TimelineGraph, laneID LaneID, kf *AutomationKeyframe) (Command, error) {
	if kf == nil {
		return Command{}, fmt.Errorf("%w: insert_automation_keyframe requires a keyframe", ErrInvalidOp)
	}
	lane := g.Lane(laneID)
	if lane == nil {
		return Command{}, fmt.Errorf("%w: %s", ErrLaneNotFound, laneID)
	}

	// Same-frame insert replaces; the inverse then restores the old value.
	if idx := lane.KeyframeIndex(kf.Frame); idx >= 0 {
		previous := lane.Keyframes[idx]
		lane.Keyframes[idx] = *kf
		return Command{Type: CmdInsertAutomationKeyframe, LaneID: laneID, Keyframe: &previous}, nil
	}

	pos := len(lane.Keyframes)
	for i, existing := range lane.Keyframes {
		if existing.Frame > kf.Frame {
			pos = i
			break
		}
	}
	lane.Keyframes = append(lane.Keyframes, AutomationKeyframe{})
	copy(lane.Keyframes[pos+1:], lane.Keyframes[pos:])
	lane.Keyframes[pos] = *kf
	return Command{Type: CmdRemoveAutomationKeyframe, LaneID: laneID, Frame: kf.Frame}, nil
}

func removeKeyframe(g *TimelineGraph, laneID LaneID, frame Frame) (Command, error) {
	lane := g.Lane(laneID)
	if lane == nil {
		return Command{}, fmt.Errorf("%w: %s", ErrLaneNotFound, laneID)
	}
	idx := lane.KeyframeIndex(frame)
	if idx < 0 {
		return Command{}, fmt.Errorf("%w: no keyframe at frame %d", ErrInvalidOp, frame)
	}
	removed := lane.Keyframes[idx]
	lane.Keyframes = append(lane.Keyframes[:idx], lane.Keyframes[idx+1:]...)
	return Command{Type: CmdInsertAutomationKeyframe, LaneID: laneID, Keyframe: &removed}, nil
}

func addMarker(g *TimelineGraph, marker *Marker) (Command, error) {
	if marker == nil {
		return Command{}, fmt.Errorf("%w: add_marker requires a marker", ErrInvalidOp)
	}
	if _, ok := g.Markers[marker.ID]; ok {
		return Command{}, fmt.Errorf("%w: %s", ErrMarkerExists, marker.ID)
	}
	g.Markers[marker.ID] = CloneMarker(marker)
	return Command{Type: CmdRemoveMarker, MarkerID: marker.ID}, nil
}

func removeMarker(g *TimelineGraph, markerID MarkerID) (Command, error) {
	marker, ok := g.Markers[markerID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrMarkerNotFound, markerID)
	}
	delete(g.Markers, markerID)
	return Command{Type: CmdAddMarker, Marker: marker}, nil
}

func updateMarker(g *TimelineGraph, markerID MarkerID, frame Frame, label *string) (Command, error) {
	marker, ok := g.Markers[markerID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrMarkerNotFound, markerID)
	}
	prevFrame := marker.Frame
	prevLabel := marker.Label
	marker.Frame = frame
	if label != nil {
		marker.Label = *label
	}
	return Command{
		Type:     CmdUpdateMarker,
		MarkerID: markerID,
		Frame:    prevFrame,
		Label:    &prevLabel,
	}, nil
}

func validatePlacements(g *TimelineGraph, placements []TrackPlacement) error {
	for _, placement := range placements {
		track := g.Track(placement.TrackID)
		if track == nil {
			return fmt.Errorf("%w: %s", ErrTrackNotFound, placement.TrackID)
		}
		if placement.Position != nil {
			if *placement.Position < 0 || *placement.Position > len(track.NodeIDs) {
				return fmt.Errorf("%w: placement index %d out of bounds for track %s",
					ErrInvalidOp, *placement.Position, track.ID)
			}
		}
	}
	return nil
}

func validateEdgesForInsert(g *TimelineGraph, edges []TimelineEdge, newNode NodeID) error {
	for _, edge := range edges {
		if edge.From != newNode {
			if _, ok := g.Nodes[edge.From]; !ok {
				return fmt.Errorf("%w: %s", ErrNodeNotFound, edge.From)
			}
		}
		if edge.To != newNode {
			if _, ok := g.Nodes[edge.To]; !ok {
				return fmt.Errorf("%w: %s", ErrNodeNotFound, edge.To)
			}
		}
		if g.EdgeIndex(edge) >= 0 {
			return fmt.Errorf("%w: %s -> %s", ErrEdgeExists, edge.From, edge.To)
		}
	}
	return nil
}
