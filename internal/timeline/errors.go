package timeline

import "errors"

// Sentinel errors for command validation. All of these are surfaced before
// any mutation happens, so a failed command leaves the graph untouched.
// Match with errors.Is.
var (
	ErrNodeExists     = errors.New("node already exists")
	ErrNodeNotFound   = errors.New("node not found")
	ErrTrackNotFound  = errors.New("track not found")
	ErrLaneNotFound   = errors.New("automation lane not found")
	ErrLaneExists     = errors.New("automation lane already exists")
	ErrEdgeExists     = errors.New("edge already exists")
	ErrEdgeNotFound   = errors.New("edge not found")
	ErrMarkerExists   = errors.New("marker already exists")
	ErrMarkerNotFound = errors.New("marker not found")
	ErrHistoryEmpty   = errors.New("history empty")
	ErrInvalidOp      = errors.New("invalid operation")
)
