package timeline

import "fmt"

/*
LEARNING: COMPOUND EDITS

Professional editors bundle several clip mutations into one gesture: a
ripple move shifts everything downstream of the moved clip, a roll slides
the cut point between two neighbours, a slide changes which part of the
media plays without touching the timeline position. These helpers validate
every precondition before touching the graph, so a rejected edit leaves it
untouched.
*/

// clipOf returns the clip payload of a node, or an error when the node is
// missing or not a clip. Generators have no media axis and cannot take
// these edits.
func clipOf(g *TimelineGraph, nodeID NodeID) (*ClipNode, error) {
	node, ok := g.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if node.Kind != NodeKindClip || node.Clip == nil {
		return nil, fmt.Errorf("%w: %s is not a clip", ErrInvalidOp, nodeID)
	}
	return node.Clip, nil
}

// trackOf finds the track holding a node.
func trackOf(g *TimelineGraph, nodeID NodeID) (*TrackBinding, error) {
	for _, track := range g.Tracks {
		for _, id := range track.NodeIDs {
			if id == nodeID {
				return track, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no track holds %s", ErrTrackNotFound, nodeID)
}

// RippleMoveClip moves a clip to a new start frame and shifts every clip on
// the same track that begins at or after the moved clip's original end by
// the same delta. Returns the ids of the shifted clips.
func RippleMoveClip(g *TimelineGraph, nodeID NodeID, newStart Frame) ([]NodeID, error) {
	clip, err := clipOf(g, nodeID)
	if err != nil {
		return nil, err
	}
	track, err := trackOf(g, nodeID)
	if err != nil {
		return nil, err
	}

	oldStart := clip.TimelineRange.Start
	delta := newStart - oldStart
	oldEnd := clip.TimelineRange.End()

	var shifted []NodeID
	for _, otherID := range track.NodeIDs {
		if otherID == nodeID {
			continue
		}
		other, ok := g.Nodes[otherID]
		if !ok || other.Clip == nil {
			continue
		}
		if other.Clip.TimelineRange.Start >= oldEnd {
			shifted = append(shifted, otherID)
		}
	}

	clip.TimelineRange.Start = newStart
	for _, id := range shifted {
		g.Nodes[id].Clip.TimelineRange.Start += delta
	}
	return shifted, nil
}

// RollEdit moves the cut point between two clips: the left clip's end and
// the right clip's start both become editPoint, with durations and media
// ranges adjusted to match. The edit point must fall strictly between the
// left clip's start and the right clip's end, and neither clip may be
// pushed past its media bounds.
func RollEdit(g *TimelineGraph, leftID, rightID NodeID, editPoint Frame) error {
	left, err := clipOf(g, leftID)
	if err != nil {
		return err
	}
	right, err := clipOf(g, rightID)
	if err != nil {
		return err
	}

	leftStart := left.TimelineRange.Start
	rightEnd := right.TimelineRange.End()
	if editPoint <= leftStart || editPoint >= rightEnd {
		return fmt.Errorf("%w: edit point %d outside (%d, %d)", ErrInvalidOp, editPoint, leftStart, rightEnd)
	}

	newLeftDuration := editPoint - leftStart
	newRightDuration := rightEnd - editPoint

	if left.MediaRange.Start+newLeftDuration > left.MediaRange.End() {
		return fmt.Errorf("%w: left clip media exhausted at %d", ErrInvalidOp, editPoint)
	}
	newRightMediaStart := right.MediaRange.Start + (editPoint - right.TimelineRange.Start)
	if newRightMediaStart >= right.MediaRange.End() {
		return fmt.Errorf("%w: right clip media exhausted at %d", ErrInvalidOp, editPoint)
	}

	left.TimelineRange.Duration = newLeftDuration
	left.MediaRange.Duration = newLeftDuration
	right.TimelineRange.Start = editPoint
	right.TimelineRange.Duration = newRightDuration
	right.MediaRange.Start = newRightMediaStart
	right.MediaRange.Duration = newRightDuration
	return nil
}

// SlideEdit shifts which portion of the media plays inside a clip without
// moving the clip on the timeline. A positive offset slides the media
// window later, a negative one earlier; the window must stay inside the
// media bounds.
func SlideEdit(g *TimelineGraph, nodeID NodeID, mediaOffset Frame) error {
	clip, err := clipOf(g, nodeID)
	if err != nil {
		return err
	}

	newMediaStart := clip.MediaRange.Start + mediaOffset
	if newMediaStart < 0 {
		return fmt.Errorf("%w: slide before media start", ErrInvalidOp)
	}
	if newMediaStart+clip.TimelineRange.Duration > clip.MediaRange.End() {
		return fmt.Errorf("%w: slide beyond media end", ErrInvalidOp)
	}

	clip.MediaRange.Start = newMediaStart
	return nil
}
