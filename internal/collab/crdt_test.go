package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/timeline"
)

func addNodeKind(id timeline.NodeID, start timeline.Frame) OperationKind {
	return OperationKind{
		Type: OpAddNode,
		Node: &timeline.TimelineNode{
			ID:   id,
			Kind: timeline.NodeKindClip,
			Clip: &timeline.ClipNode{
				TimelineRange: timeline.FrameRange{Start: start, Duration: 100},
				PlaybackRate:  1.0,
			},
		},
	}
}

func addTrackKind(id timeline.TrackID) OperationKind {
	return OperationKind{
		Type:  OpAddTrack,
		Track: &timeline.TrackBinding{ID: id, Name: "V1", Kind: timeline.TrackKindVideo},
	}
}

func TestApplyLocalOperation(t *testing.T) {
	replica := NewCRDTTimeline(UserID("alice"))
	nodeID := timeline.NewNodeID()

	op, err := replica.ApplyLocalOperation(addNodeKind(nodeID, 0))
	require.NoError(t, err)

	assert.Equal(t, UserID("alice"), op.UserID)
	assert.Equal(t, LamportClock(1), op.Clock)
	assert.Equal(t, uint64(1), op.Seq)
	assert.Empty(t, op.Parents)
	assert.Contains(t, replica.Graph().Nodes, nodeID)
	assert.Equal(t, 1, replica.Log().Len())

	// The second operation cites the first as its causal parent.
	op2, err := replica.ApplyLocalOperation(addTrackKind(timeline.NewTrackID()))
	require.NoError(t, err)
	assert.Equal(t, []OperationID{op.ID}, op2.Parents)
	assert.Equal(t, uint64(2), op2.Seq)
}

func TestApplyLocalOperationRejectsMalformed(t *testing.T) {
	replica := NewCRDTTimeline(UserID("alice"))

	_, err := replica.ApplyLocalOperation(OperationKind{Type: OpAddNode})
	require.Error(t, err)

	// Nothing was logged and the clock did not advance.
	assert.Equal(t, 0, replica.Log().Len())
	assert.Equal(t, LamportClock(0), replica.Clock())
}

func TestApplyRemoteOperation(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	nodeID := timeline.NewNodeID()
	op, err := alice.ApplyLocalOperation(addNodeKind(nodeID, 0))
	require.NoError(t, err)

	require.NoError(t, bob.ApplyRemoteOperation(op))
	assert.Contains(t, bob.Graph().Nodes, nodeID)
	assert.GreaterOrEqual(t, bob.Clock(), op.Clock)

	// Duplicate delivery is a no-op.
	require.NoError(t, bob.ApplyRemoteOperation(op))
	assert.Equal(t, 1, bob.Log().Len())
}

func TestRemoteOperationBuffersUntilParentsArrive(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	trackID := timeline.NewTrackID()
	nodeID := timeline.NewNodeID()

	op1, err := alice.ApplyLocalOperation(addTrackKind(trackID))
	require.NoError(t, err)
	op2, err := alice.ApplyLocalOperation(addNodeKind(nodeID, 0))
	require.NoError(t, err)
	op3, err := alice.ApplyLocalOperation(OperationKind{
		Type: OpAddNodeToTrack, TrackID: trackID, NodeID: nodeID,
	})
	require.NoError(t, err)

	// Deliver the causal chain in reverse. op3 and op2 must wait.
	require.NoError(t, bob.ApplyRemoteOperation(op3))
	assert.Equal(t, 1, bob.PendingCount())
	assert.Equal(t, 0, bob.Log().Len())

	require.NoError(t, bob.ApplyRemoteOperation(op2))
	assert.Equal(t, 2, bob.PendingCount())

	// The missing parent arrives: the whole chain drains in one pass.
	require.NoError(t, bob.ApplyRemoteOperation(op1))
	assert.Equal(t, 0, bob.PendingCount())
	assert.Equal(t, 3, bob.Log().Len())
	assert.Equal(t, []timeline.NodeID{nodeID}, bob.Graph().Track(trackID).NodeIDs)
}

func TestMergeConverges(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	_, err := alice.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 0))
	require.NoError(t, err)
	_, err = alice.ApplyLocalOperation(addTrackKind(timeline.NewTrackID()))
	require.NoError(t, err)
	_, err = bob.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 200))
	require.NoError(t, err)

	require.NoError(t, alice.Merge(bob))
	require.NoError(t, bob.Merge(alice))

	// Same log order on both sides, therefore the same document.
	aliceOps := alice.Log().Operations()
	bobOps := bob.Log().Operations()
	require.Equal(t, len(aliceOps), len(bobOps))
	for i := range aliceOps {
		assert.Equal(t, aliceOps[i].ID, bobOps[i].ID)
	}
	assert.Equal(t, alice.Graph(), bob.Graph())
}

func TestMergeIsIdempotent(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	_, err := alice.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 0))
	require.NoError(t, err)

	require.NoError(t, bob.Merge(alice))
	first := bob.Log().Operations()

	require.NoError(t, bob.Merge(alice))
	assert.Equal(t, first, bob.Log().Operations())
}

func TestGetOperationsSince(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))

	_, err := alice.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 0))
	require.NoError(t, err)
	checkpoint := alice.VectorClock()

	op2, err := alice.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 100))
	require.NoError(t, err)
	op3, err := alice.ApplyLocalOperation(addTrackKind(timeline.NewTrackID()))
	require.NoError(t, err)

	missing := alice.GetOperationsSince(checkpoint)
	require.Len(t, missing, 2)
	assert.Equal(t, op2.ID, missing[0].ID)
	assert.Equal(t, op3.ID, missing[1].ID)

	// A fully caught-up clock gets nothing.
	assert.Empty(t, alice.GetOperationsSince(alice.VectorClock()))

	// An empty clock gets everything.
	assert.Len(t, alice.GetOperationsSince(NewVectorClock()), 3)
}

func TestFrontierTracksChildlessOperations(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	opA, err := alice.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 0))
	require.NoError(t, err)
	opB, err := bob.ApplyLocalOperation(addNodeKind(timeline.NewNodeID(), 100))
	require.NoError(t, err)

	// Alice sees Bob's concurrent op: both heads are now frontier.
	require.NoError(t, alice.ApplyRemoteOperation(opB))
	assert.ElementsMatch(t, []OperationID{opA.ID, opB.ID}, alice.Frontier())

	// Alice's next op consumes the whole frontier.
	opC, err := alice.ApplyLocalOperation(addTrackKind(timeline.NewTrackID()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []OperationID{opA.ID, opB.ID}, opC.Parents)
	assert.Equal(t, []OperationID{opC.ID}, alice.Frontier())
}

func TestRippleEditReplicates(t *testing.T) {
	alice := NewCRDTTimeline(UserID("alice"))
	bob := NewCRDTTimeline(UserID("bob"))

	trackID := timeline.NewTrackID()
	first, second := timeline.NewNodeID(), timeline.NewNodeID()

	var ops []Operation
	for _, kind := range []OperationKind{
		addTrackKind(trackID),
		addNodeKind(first, 0),
		addNodeKind(second, 100),
		{Type: OpAddNodeToTrack, TrackID: trackID, NodeID: first},
		{Type: OpAddNodeToTrack, TrackID: trackID, NodeID: second},
		{Type: OpRippleEdit, NodeID: first, NewStart: 50},
	} {
		op, err := alice.ApplyLocalOperation(kind)
		require.NoError(t, err)
		ops = append(ops, op)
	}

	for _, op := range ops {
		require.NoError(t, bob.ApplyRemoteOperation(op))
	}

	// The ripple moved the first clip and shifted its downstream neighbor.
	assert.Equal(t, timeline.Frame(50), alice.Graph().Nodes[first].Clip.TimelineRange.Start)
	assert.Equal(t, timeline.Frame(150), alice.Graph().Nodes[second].Clip.TimelineRange.Start)
	assert.Equal(t, alice.Graph(), bob.Graph())
}
