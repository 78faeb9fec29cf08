package collab

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipsync/internal/timeline"
)

// Opaque collaboration identifiers. Globally unique, never reused.
type (
	UserID      string
	SessionID   string
	OperationID string
)

func NewUserID() UserID           { return UserID(uuid.NewString()) }
func NewSessionID() SessionID     { return SessionID(uuid.NewString()) }
func NewOperationID() OperationID { return OperationID(uuid.NewString()) }

// OpType tags OperationKind payloads.
type OpType string

const (
	// Node operations
	OpAddNode            OpType = "add_node"
	OpRemoveNode         OpType = "remove_node"
	OpUpdateNodePosition OpType = "update_node_position"
	OpUpdateNodeDuration OpType = "update_node_duration"
	OpUpdateNodeMetadata OpType = "update_node_metadata"
	OpLockNode           OpType = "lock_node"

	// Track operations
	OpAddTrack            OpType = "add_track"
	OpRemoveTrack         OpType = "remove_track"
	OpRenameTrack         OpType = "rename_track"
	OpReorderTracks       OpType = "reorder_tracks"
	OpAddNodeToTrack      OpType = "add_node_to_track"
	OpRemoveNodeFromTrack OpType = "remove_node_from_track"

	// Marker operations
	OpAddMarker    OpType = "add_marker"
	OpRemoveMarker OpType = "remove_marker"
	OpUpdateMarker OpType = "update_marker"

	// Automation operations
	OpCreateAutomationLane OpType = "create_automation_lane"
	OpRemoveAutomationLane OpType = "remove_automation_lane"
	OpAddKeyframe          OpType = "add_keyframe"
	OpRemoveKeyframe       OpType = "remove_keyframe"
	OpUpdateKeyframe       OpType = "update_keyframe"
	OpUpdateCurveType      OpType = "update_curve_type"

	// Compound edit operations
	OpRippleEdit OpType = "ripple_edit"
	OpRollEdit   OpType = "roll_edit"
	OpSlideEdit  OpType = "slide_edit"
)

// OperationKind is the replicated counterpart of timeline.Command. Unlike
// commands it is built for replay-based convergence, not inversion:
// upsert-style variants are idempotent and removals of absent entities are
// no-ops, so the same log replays cleanly on any replica.
type OperationKind struct {
	Type OpType `json:"type"`

	Node   *timeline.TimelineNode `json:"node,omitempty"`
	NodeID timeline.NodeID        `json:"node_id,omitempty"`

	NewStart timeline.Frame       `json:"new_start,omitempty"`
	NewRange *timeline.FrameRange `json:"new_range,omitempty"`
	Metadata json.RawMessage      `json:"metadata,omitempty"`
	Locked   bool                 `json:"locked,omitempty"`

	Track      *timeline.TrackBinding `json:"track,omitempty"`
	TrackID    timeline.TrackID       `json:"track_id,omitempty"`
	NewName    string                 `json:"new_name,omitempty"`
	TrackOrder []timeline.TrackID     `json:"track_order,omitempty"`

	Marker   *timeline.Marker  `json:"marker,omitempty"`
	MarkerID timeline.MarkerID `json:"marker_id,omitempty"`
	NewFrame timeline.Frame    `json:"new_frame,omitempty"`
	NewLabel *string           `json:"new_label,omitempty"`

	LaneID        timeline.LaneID              `json:"lane_id,omitempty"`
	TargetNode    timeline.NodeID              `json:"target_node,omitempty"`
	ParameterPath string                       `json:"parameter_path,omitempty"`
	Keyframe      *timeline.AutomationKeyframe `json:"keyframe,omitempty"`
	Frame         timeline.Frame               `json:"frame,omitempty"`
	NewValue      float64                      `json:"new_value,omitempty"`
	CurveType     timeline.Interpolation       `json:"curve_type,omitempty"`

	LeftNode    timeline.NodeID `json:"left_node,omitempty"`
	RightNode   timeline.NodeID `json:"right_node,omitempty"`
	EditPoint   timeline.Frame  `json:"edit_point,omitempty"`
	MediaOffset timeline.Frame  `json:"media_offset,omitempty"`
}

// Operation is one replicated mutation, stamped by its author.
type Operation struct {
	ID     OperationID  `json:"id"`
	UserID UserID       `json:"user_id"`
	Clock  LamportClock `json:"clock"`
	// Seq is the author's vector-clock component at creation time; the
	// basis for exact catch-up sync.
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Kind      OperationKind `json:"kind"`
	// Parents is the author's causal frontier when the operation was
	// created. An operation must not be applied until every parent is in
	// the local log.
	Parents []OperationID `json:"parents,omitempty"`
}

// NewOperation stamps a fresh operation for the given author.
func NewOperation(user UserID, clock LamportClock, seq uint64, kind OperationKind) Operation {
	return Operation{
		ID:        NewOperationID(),
		UserID:    user,
		Clock:     clock,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}

// Apply mutates the graph according to the operation kind. Never panics: a
// malformed operation degrades to an error the caller can log and reject.
func (k *OperationKind) Apply(g *timeline.TimelineGraph) error {
	switch k.Type {
	case OpAddNode:
		if k.Node == nil {
			return fmt.Errorf("add_node: missing node payload")
		}
		g.Nodes[k.Node.ID] = timeline.CloneNode(k.Node)
		return nil

	case OpRemoveNode:
		delete(g.Nodes, k.NodeID)
		for _, track := range g.Tracks {
			track.NodeIDs = removeNodeID(track.NodeIDs, k.NodeID)
		}
		kept := g.Edges[:0]
		for _, e := range g.Edges {
			if e.From != k.NodeID && e.To != k.NodeID {
				kept = append(kept, e)
			}
		}
		g.Edges = kept
		return nil

	case OpUpdateNodePosition:
		if node, ok := g.Nodes[k.NodeID]; ok {
			if node.Clip != nil {
				node.Clip.TimelineRange.Start = k.NewStart
			} else if node.Generator != nil {
				node.Generator.TimelineRange.Start = k.NewStart
			}
		}
		return nil

	case OpUpdateNodeDuration:
		if k.NewRange == nil {
			return fmt.Errorf("update_node_duration: missing range payload")
		}
		if node, ok := g.Nodes[k.NodeID]; ok {
			if node.Clip != nil {
				node.Clip.TimelineRange = *k.NewRange
			} else if node.Generator != nil {
				node.Generator.TimelineRange = *k.NewRange
			}
		}
		return nil

	case OpUpdateNodeMetadata:
		if node, ok := g.Nodes[k.NodeID]; ok {
			node.Metadata = append(json.RawMessage(nil), k.Metadata...)
		}
		return nil

	case OpLockNode:
		if node, ok := g.Nodes[k.NodeID]; ok {
			node.Locked = k.Locked
		}
		return nil

	case OpAddTrack:
		if k.Track == nil {
			return fmt.Errorf("add_track: missing track payload")
		}
		if idx := g.TrackIndex(k.Track.ID); idx >= 0 {
			g.Tracks[idx] = timeline.CloneTrack(k.Track)
		} else {
			g.Tracks = append(g.Tracks, timeline.CloneTrack(k.Track))
		}
		return nil

	case OpRemoveTrack:
		if idx := g.TrackIndex(k.TrackID); idx >= 0 {
			g.Tracks = append(g.Tracks[:idx], g.Tracks[idx+1:]...)
		}
		return nil

	case OpRenameTrack:
		if track := g.Track(k.TrackID); track != nil {
			track.Name = k.NewName
		}
		return nil

	case OpReorderTracks:
		reordered := make([]*timeline.TrackBinding, 0, len(g.Tracks))
		for _, id := range k.TrackOrder {
			if track := g.Track(id); track != nil {
				reordered = append(reordered, track)
			}
		}
		g.Tracks = reordered
		return nil

	case OpAddNodeToTrack:
		if track := g.Track(k.TrackID); track != nil {
			for _, id := range track.NodeIDs {
				if id == k.NodeID {
					return nil
				}
			}
			track.NodeIDs = append(track.NodeIDs, k.NodeID)
		}
		return nil

	case OpRemoveNodeFromTrack:
		if track := g.Track(k.TrackID); track != nil {
			track.NodeIDs = removeNodeID(track.NodeIDs, k.NodeID)
		}
		return nil

	case OpAddMarker:
		if k.Marker == nil {
			return fmt.Errorf("add_marker: missing marker payload")
		}
		g.Markers[k.Marker.ID] = timeline.CloneMarker(k.Marker)
		return nil

	case OpRemoveMarker:
		delete(g.Markers, k.MarkerID)
		return nil

	case OpUpdateMarker:
		if marker, ok := g.Markers[k.MarkerID]; ok {
			marker.Frame = k.NewFrame
			if k.NewLabel != nil {
				marker.Label = *k.NewLabel
			}
		}
		return nil

	case OpCreateAutomationLane:
		if g.Lane(k.LaneID) != nil {
			return nil
		}
		g.Automation = append(g.Automation, &timeline.AutomationLane{
			ID: k.LaneID,
			Target: timeline.AutomationTarget{
				Node:      k.TargetNode,
				Parameter: k.ParameterPath,
			},
			Interpolation: timeline.InterpolationLinear,
		})
		return nil

	case OpRemoveAutomationLane:
		if idx := g.LaneIndex(k.LaneID); idx >= 0 {
			g.Automation = append(g.Automation[:idx], g.Automation[idx+1:]...)
		}
		return nil

	case OpAddKeyframe:
		if k.Keyframe == nil {
			return fmt.Errorf("add_keyframe: missing keyframe payload")
		}
		if lane := g.Lane(k.LaneID); lane != nil {
			upsertKeyframe(lane, *k.Keyframe)
		}
		return nil

	case OpRemoveKeyframe:
		if lane := g.Lane(k.LaneID); lane != nil {
			if idx := lane.KeyframeIndex(k.Frame); idx >= 0 {
				lane.Keyframes = append(lane.Keyframes[:idx], lane.Keyframes[idx+1:]...)
			}
		}
		return nil

	case OpUpdateKeyframe:
		if lane := g.Lane(k.LaneID); lane != nil {
			upsertKeyframe(lane, timeline.AutomationKeyframe{Frame: k.Frame, Value: k.NewValue})
		}
		return nil

	case OpUpdateCurveType:
		if lane := g.Lane(k.LaneID); lane != nil {
			lane.Interpolation = k.CurveType
		}
		return nil

	// Compound edits validate against live graph state. When a replica's
	// concurrent history differs (the clip was removed, the cut point
	// drifted out of range), the edit degrades to a no-op on that replica
	// instead of poisoning the log for replay.
	case OpRippleEdit:
		if k.NodeID == "" {
			return fmt.Errorf("ripple_edit: missing node id")
		}
		_, _ = timeline.RippleMoveClip(g, k.NodeID, k.NewStart)
		return nil

	case OpRollEdit:
		if k.LeftNode == "" || k.RightNode == "" {
			return fmt.Errorf("roll_edit: missing node ids")
		}
		_ = timeline.RollEdit(g, k.LeftNode, k.RightNode, k.EditPoint)
		return nil

	case OpSlideEdit:
		if k.NodeID == "" {
			return fmt.Errorf("slide_edit: missing node id")
		}
		_ = timeline.SlideEdit(g, k.NodeID, k.MediaOffset)
		return nil

	default:
		return fmt.Errorf("unknown operation type %q", k.Type)
	}
}

// ConflictsWith reports whether two kinds target the same entity in a way
// that could diverge replica state. Symmetric.
func (k *OperationKind) ConflictsWith(other *OperationKind) bool {
	if conflictsDirected(k, other) {
		return true
	}
	return conflictsDirected(other, k)
}

func conflictsDirected(a, b *OperationKind) bool {
	switch a.Type {
	case OpAddNode:
		return b.Type == OpAddNode && a.Node != nil && b.Node != nil && a.Node.ID == b.Node.ID

	case OpRemoveNode:
		switch b.Type {
		case OpRemoveNode, OpUpdateNodePosition, OpUpdateNodeDuration, OpLockNode:
			return a.NodeID == b.NodeID
		}
		return false

	case OpUpdateNodePosition:
		return b.Type == OpUpdateNodePosition && a.NodeID == b.NodeID

	case OpUpdateNodeMetadata:
		return b.Type == OpUpdateNodeMetadata && a.NodeID == b.NodeID

	case OpAddTrack:
		return b.Type == OpAddTrack && a.Track != nil && b.Track != nil && a.Track.ID == b.Track.ID

	case OpRemoveTrack:
		switch b.Type {
		case OpRemoveTrack, OpRenameTrack:
			return a.TrackID == b.TrackID
		}
		return false

	case OpAddMarker:
		return b.Type == OpAddMarker && a.Marker != nil && b.Marker != nil && a.Marker.ID == b.Marker.ID

	case OpRemoveMarker:
		switch b.Type {
		case OpRemoveMarker, OpUpdateMarker:
			return a.MarkerID == b.MarkerID
		}
		return false

	case OpUpdateMarker:
		return b.Type == OpUpdateMarker && a.MarkerID == b.MarkerID

	case OpCreateAutomationLane:
		return b.Type == OpCreateAutomationLane && a.LaneID == b.LaneID

	case OpRemoveAutomationLane:
		switch b.Type {
		case OpRemoveAutomationLane, OpAddKeyframe, OpRemoveKeyframe, OpUpdateKeyframe, OpUpdateCurveType:
			return a.LaneID == b.LaneID
		}
		return false

	case OpRippleEdit:
		return b.Type == OpRippleEdit && a.NodeID == b.NodeID
	}
	return false
}

func removeNodeID(ids []timeline.NodeID, target timeline.NodeID) []timeline.NodeID {
	kept := ids[:0]
	for _, id := range ids {
		if id != target {
			kept = append(kept, id)
		}
	}
	return kept
}

func upsertKeyframe(lane *timeline.AutomationLane, kf timeline.AutomationKeyframe) {
	if idx := lane.KeyframeIndex(kf.Frame); idx >= 0 {
		lane.Keyframes[idx] = kf
		return
	}
	pos := len(lane.Keyframes)
	for i, existing := range lane.Keyframes {
		if existing.Frame > kf.Frame {
			pos = i
			break
		}
	}
	lane.Keyframes = append(lane.Keyframes, timeline.AutomationKeyframe{})
	copy(lane.Keyframes[pos+1:], lane.Keyframes[pos:])
	lane.Keyframes[pos] = kf
}
