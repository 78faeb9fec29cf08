package timeline

import (
	"encoding/json"

	"github.com/google/uuid"
)

/*
LEARNING: GRAPH-AS-ARENA PATTERN

The timeline document is a graph of clips, tracks, edges and automation
lanes. Instead of nodes holding pointers to each other, everything is owned
by the TimelineGraph maps/slices and cross-referenced by opaque ids.

Why ids instead of pointers?
- No ownership cycles - the graph can be copied, serialized, diffed freely
- Operations and commands can reference entities on ANY replica
- Structural equality works for convergence checks
*/

// Frame is a time position/length in integer frames. Signed so offsets can
// go negative; no floating point in the document model.
type Frame int64

// Opaque identifiers. Globally unique (uuid v4), never reused.
type (
	NodeID   string
	TrackID  string
	LaneID   string
	MarkerID string
)

func NewNodeID() NodeID     { return NodeID(uuid.NewString()) }
func NewTrackID() TrackID   { return TrackID(uuid.NewString()) }
func NewLaneID() LaneID     { return LaneID(uuid.NewString()) }
func NewMarkerID() MarkerID { return MarkerID(uuid.NewString()) }

// FrameRange is a half-open span of frames on either the media or the
// timeline axis. Duration must be > 0 for any committed clip.
type FrameRange struct {
	Start    Frame `json:"start"`
	Duration Frame `json:"duration"`
}

func (r FrameRange) End() Frame { return r.Start + r.Duration }

// NodeKind discriminates TimelineNode payloads.
type NodeKind string

const (
	NodeKindClip      NodeKind = "clip"
	NodeKindGenerator NodeKind = "generator"
)

// ClipNode is a media clip placed on the timeline. AssetID references an
// external asset store and is not owned by the graph.
type ClipNode struct {
	AssetID       string          `json:"asset_id,omitempty"`
	MediaRange    FrameRange      `json:"media_range"`
	TimelineRange FrameRange      `json:"timeline_range"`
	PlaybackRate  float64         `json:"playback_rate"`
	Reverse       bool            `json:"reverse,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// GeneratorNode produces synthetic content (solids, titles) over a range.
type GeneratorNode struct {
	GeneratorID   string          `json:"generator_id"`
	TimelineRange FrameRange      `json:"timeline_range"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// TimelineNode is a single entry in the graph's node arena. Exactly one of
// Clip/Generator is set, selected by Kind.
type TimelineNode struct {
	ID        NodeID          `json:"id"`
	Label     string          `json:"label,omitempty"`
	Kind      NodeKind        `json:"kind"`
	Clip      *ClipNode       `json:"clip,omitempty"`
	Generator *GeneratorNode  `json:"generator,omitempty"`
	Locked    bool            `json:"locked,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// TimelineRange returns the span this node occupies on the timeline axis.
func (n *TimelineNode) TimelineRange() FrameRange {
	switch n.Kind {
	case NodeKindClip:
		if n.Clip != nil {
			return n.Clip.TimelineRange
		}
	case NodeKindGenerator:
		if n.Generator != nil {
			return n.Generator.TimelineRange
		}
	}
	return FrameRange{}
}

// TrackKind distinguishes video from audio tracks.
type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// TrackBinding is an ordered list of node ids bound to one track. Every id
// must exist in graph.Nodes; the command layer keeps a node on at most one
// track by construction.
type TrackBinding struct {
	ID      TrackID   `json:"id"`
	Name    string    `json:"name"`
	Kind    TrackKind `json:"kind"`
	NodeIDs []NodeID  `json:"node_ids"`
}

// EdgeKind classifies relationships between nodes.
type EdgeKind string

const (
	EdgeKindSequential EdgeKind = "sequential"
	EdgeKindLayer      EdgeKind = "layer"
	EdgeKindAutomation EdgeKind = "automation"
)

// TimelineEdge links two nodes. The graph never holds two edges with the
// same (from, to, kind) triple.
type TimelineEdge struct {
	From NodeID   `json:"from"`
	To   NodeID   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Interpolation modes for automation lanes.
type Interpolation string

const (
	InterpolationStep   Interpolation = "step"
	InterpolationLinear Interpolation = "linear"
	InterpolationBezier Interpolation = "bezier"
)

// AutomationTarget addresses a parameter of a node by path.
type AutomationTarget struct {
	Node      NodeID `json:"node"`
	Parameter string `json:"parameter"`
}

// AutomationKeyframe is a (frame, value) pair; frames are unique per lane.
type AutomationKeyframe struct {
	Frame Frame   `json:"frame"`
	Value float64 `json:"value"`
}

// AutomationLane animates one node parameter over time. Keyframes stay
// sorted ascending by frame.
type AutomationLane struct {
	ID            LaneID               `json:"id"`
	Target        AutomationTarget     `json:"target"`
	Interpolation Interpolation        `json:"interpolation"`
	Keyframes     []AutomationKeyframe `json:"keyframes"`
}

// KeyframeIndex returns the index of the keyframe at the given frame, or -1.
func (l *AutomationLane) KeyframeIndex(frame Frame) int {
	for i, kf := range l.Keyframes {
		if kf.Frame == frame {
			return i
		}
	}
	return -1
}

// Marker is a named point on the timeline (chapter, comment, in/out point).
type Marker struct {
	ID    MarkerID `json:"id"`
	Frame Frame    `json:"frame"`
	Label string   `json:"label"`
	Color string   `json:"color,omitempty"`
	Note  string   `json:"note,omitempty"`
}

// TimelineGraph is the full materialized document. It has no history of its
// own - history lives in the operation log.
type TimelineGraph struct {
	Version    int                      `json:"version"`
	Nodes      map[NodeID]*TimelineNode `json:"nodes"`
	Tracks     []*TrackBinding          `json:"tracks"`
	Edges      []TimelineEdge           `json:"edges"`
	Automation []*AutomationLane        `json:"automation"`
	Markers    map[MarkerID]*Marker     `json:"markers"`
	Metadata   json.RawMessage          `json:"metadata,omitempty"`
}

// NewGraph creates an empty document at schema version 1.
func NewGraph() *TimelineGraph {
	return &TimelineGraph{
		Version: 1,
		Nodes:   make(map[NodeID]*TimelineNode),
		Markers: make(map[MarkerID]*Marker),
	}
}

// Track returns the track with the given id, or nil.
func (g *TimelineGraph) Track(id TrackID) *TrackBinding {
	for _, t := range g.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TrackIndex returns the position of a track in the track order, or -1.
func (g *TimelineGraph) TrackIndex(id TrackID) int {
	for i, t := range g.Tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Lane returns the automation lane with the given id, or nil.
func (g *TimelineGraph) Lane(id LaneID) *AutomationLane {
	for _, l := range g.Automation {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LaneIndex returns the position of a lane in the automation list, or -1.
func (g *TimelineGraph) LaneIndex(id LaneID) int {
	for i, l := range g.Automation {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// EdgeIndex returns the position of an exact (from, to, kind) edge, or -1.
func (g *TimelineGraph) EdgeIndex(edge TimelineEdge) int {
	for i, e := range g.Edges {
		if e == edge {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the whole document, safe to hand to readers
// while operations keep mutating the original.
func (g *TimelineGraph) Clone() *TimelineGraph {
	out := &TimelineGraph{
		Version:  g.Version,
		Nodes:    make(map[NodeID]*TimelineNode, len(g.Nodes)),
		Tracks:   make([]*TrackBinding, 0, len(g.Tracks)),
		Edges:    append([]TimelineEdge(nil), g.Edges...),
		Markers:  make(map[MarkerID]*Marker, len(g.Markers)),
		Metadata: cloneRaw(g.Metadata),
	}
	for id, n := range g.Nodes {
		out.Nodes[id] = CloneNode(n)
	}
	for _, t := range g.Tracks {
		out.Tracks = append(out.Tracks, CloneTrack(t))
	}
	for _, l := range g.Automation {
		out.Automation = append(out.Automation, CloneLane(l))
	}
	for id, m := range g.Markers {
		out.Markers[id] = CloneMarker(m)
	}
	return out
}

// CloneNode returns a deep copy of a node so inverse commands and operation
// payloads never alias graph-owned memory.
func CloneNode(n *TimelineNode) *TimelineNode {
	if n == nil {
		return nil
	}
	out := *n
	if n.Clip != nil {
		clip := *n.Clip
		clip.Metadata = cloneRaw(n.Clip.Metadata)
		out.Clip = &clip
	}
	if n.Generator != nil {
		gen := *n.Generator
		gen.Metadata = cloneRaw(n.Generator.Metadata)
		out.Generator = &gen
	}
	out.Metadata = cloneRaw(n.Metadata)
	return &out
}

// CloneTrack returns a deep copy of a track binding.
func CloneTrack(t *TrackBinding) *TrackBinding {
	if t == nil {
		return nil
	}
	out := *t
	out.NodeIDs = append([]NodeID(nil), t.NodeIDs...)
	return &out
}

// CloneLane returns a deep copy of an automation lane.
func CloneLane(l *AutomationLane) *AutomationLane {
	if l == nil {
		return nil
	}
	out := *l
	out.Keyframes = append([]AutomationKeyframe(nil), l.Keyframes...)
	return &out
}

// CloneMarker returns a copy of a marker.
func CloneMarker(m *Marker) *Marker {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
