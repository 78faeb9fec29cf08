package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/timeline"
)

func moveOp(user UserID, clock LamportClock, node timeline.NodeID, start timeline.Frame) Operation {
	return NewOperation(user, clock, uint64(clock), OperationKind{
		Type: OpUpdateNodePosition, NodeID: node, NewStart: start,
	})
}

func TestDetectConcurrentMove(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	first := moveOp("alice", 1, node, 100)
	second := moveOp("bob", 2, node, 200)

	conflict, ok := r.DetectConflict(first, second)
	require.True(t, ok)
	assert.Equal(t, ConflictConcurrentMove, conflict.Kind)

	res := r.Resolve(conflict)
	assert.Equal(t, OutcomeUseSecond, res.Outcome)
	require.NotNil(t, res.Winner)
	assert.Equal(t, second.ID, res.Winner.ID)
}

func TestSameAuthorNeverConflicts(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	_, ok := r.DetectConflict(moveOp("alice", 1, node, 100), moveOp("alice", 2, node, 200))
	assert.False(t, ok)
}

func TestCausallyRelatedOpsNeverConflict(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	parent := moveOp("alice", 1, node, 100)
	child := moveOp("bob", 2, node, 200)
	child.Parents = []OperationID{parent.ID}

	_, ok := r.DetectConflict(parent, child)
	assert.False(t, ok)
}

func TestDisjointTargetsNeverConflict(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)

	_, ok := r.DetectConflict(
		moveOp("alice", 1, timeline.NewNodeID(), 100),
		moveOp("bob", 2, timeline.NewNodeID(), 200),
	)
	assert.False(t, ok)
}

func TestClassification(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	del1 := NewOperation("alice", 1, 1, OperationKind{Type: OpRemoveNode, NodeID: node})
	del2 := NewOperation("bob", 2, 1, OperationKind{Type: OpRemoveNode, NodeID: node})
	conflict, ok := r.DetectConflict(del1, del2)
	require.True(t, ok)
	assert.Equal(t, ConflictDuplicateDelete, conflict.Kind)

	sameNode := &timeline.TimelineNode{ID: node, Kind: timeline.NodeKindClip, Clip: &timeline.ClipNode{}}
	add1 := NewOperation("alice", 1, 1, OperationKind{Type: OpAddNode, Node: sameNode})
	add2 := NewOperation("bob", 2, 1, OperationKind{Type: OpAddNode, Node: sameNode})
	conflict, ok = r.DetectConflict(add1, add2)
	require.True(t, ok)
	assert.Equal(t, ConflictDuplicateCreate, conflict.Kind)

	marker := timeline.NewMarkerID()
	upd1 := NewOperation("alice", 1, 1, OperationKind{Type: OpUpdateMarker, MarkerID: marker, NewFrame: 10})
	upd2 := NewOperation("bob", 2, 1, OperationKind{Type: OpUpdateMarker, MarkerID: marker, NewFrame: 20})
	conflict, ok = r.DetectConflict(upd1, upd2)
	require.True(t, ok)
	assert.Equal(t, ConflictProperty, conflict.Kind)

	// Delete vs concurrent edit of the same node has no finer class.
	edit := NewOperation("bob", 2, 1, OperationKind{Type: OpLockNode, NodeID: node, Locked: true})
	conflict, ok = r.DetectConflict(del1, edit)
	require.True(t, ok)
	assert.Equal(t, ConflictOperation, conflict.Kind)
}

func TestLastWriteWinsTiebreaks(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	// Equal clocks: newer wall-clock timestamp wins.
	first := moveOp("alice", 5, node, 100)
	second := moveOp("bob", 5, node, 200)
	first.Timestamp = second.Timestamp.Add(time.Second)

	conflict, ok := r.DetectConflict(first, second)
	require.True(t, ok)
	res := r.Resolve(conflict)
	assert.Equal(t, OutcomeUseFirst, res.Outcome)

	// Full tie keeps the second operation.
	first.Timestamp = second.Timestamp
	conflict, ok = r.DetectConflict(first, second)
	require.True(t, ok)
	res = r.Resolve(conflict)
	assert.Equal(t, OutcomeUseSecond, res.Outcome)
}

func TestUserPriorityResolution(t *testing.T) {
	r := NewConflictResolver(StrategyUserPriority)
	r.SetPriorityOrder("owner", "moderator")
	node := timeline.NewNodeID()

	// A listed user beats an unlisted one even with a lower clock.
	conflict, ok := r.DetectConflict(moveOp("owner", 1, node, 100), moveOp("guest", 2, node, 200))
	require.True(t, ok)
	res := r.Resolve(conflict)
	assert.Equal(t, OutcomeUseFirst, res.Outcome)
	assert.Equal(t, UserID("owner"), res.Winner.UserID)

	// Between listed users, the earlier position wins.
	conflict, ok = r.DetectConflict(moveOp("moderator", 1, node, 100), moveOp("owner", 2, node, 200))
	require.True(t, ok)
	res = r.Resolve(conflict)
	assert.Equal(t, OutcomeUseSecond, res.Outcome)
	assert.Equal(t, UserID("owner"), res.Winner.UserID)

	// Two unlisted users fall back to last-write-wins.
	conflict, ok = r.DetectConflict(moveOp("guest1", 1, node, 100), moveOp("guest2", 2, node, 200))
	require.True(t, ok)
	res = r.Resolve(conflict)
	assert.Equal(t, OutcomeUseSecond, res.Outcome)
	assert.Equal(t, UserID("guest2"), res.Winner.UserID)
}

func TestMergeStrategyResolvesPerKind(t *testing.T) {
	r := NewConflictResolver(StrategyMerge)
	node := timeline.NewNodeID()

	// Duplicate deletes are idempotent: the first stands, the second is
	// redundant.
	del1 := NewOperation("alice", 1, 1, OperationKind{Type: OpRemoveNode, NodeID: node})
	del2 := NewOperation("bob", 2, 1, OperationKind{Type: OpRemoveNode, NodeID: node})
	conflict, ok := r.DetectConflict(del1, del2)
	require.True(t, ok)
	assert.Equal(t, OutcomeUseFirst, r.Resolve(conflict).Outcome)

	// Same for duplicate creates of the same id.
	clip := &timeline.TimelineNode{ID: node, Kind: timeline.NodeKindClip, Clip: &timeline.ClipNode{}}
	add1 := NewOperation("alice", 1, 1, OperationKind{Type: OpAddNode, Node: clip})
	add2 := NewOperation("bob", 2, 1, OperationKind{Type: OpAddNode, Node: clip})
	conflict, ok = r.DetectConflict(add1, add2)
	require.True(t, ok)
	assert.Equal(t, OutcomeUseFirst, r.Resolve(conflict).Outcome)

	// Concurrent moves have a meaningful last writer.
	conflict, ok = r.DetectConflict(moveOp("alice", 1, node, 100), moveOp("bob", 2, node, 200))
	require.True(t, ok)
	assert.Equal(t, OutcomeUseSecond, r.Resolve(conflict).Outcome)

	// Unclassified operation conflicts are deferred for a human.
	rm := NewOperation("alice", 1, 1, OperationKind{Type: OpRemoveNode, NodeID: node})
	lock := NewOperation("bob", 2, 1, OperationKind{Type: OpLockNode, NodeID: node, Locked: true})
	conflict, ok = r.DetectConflict(rm, lock)
	require.True(t, ok)
	assert.Equal(t, OutcomeDeferred, r.Resolve(conflict).Outcome)
}

func TestMergeStrategyParksDeferredConflicts(t *testing.T) {
	m := NewConflictManager(StrategyMerge)
	node := timeline.NewNodeID()

	m.CheckConflicts(NewOperation("alice", 1, 1, OperationKind{Type: OpRemoveNode, NodeID: node}))
	results := m.CheckConflicts(NewOperation("bob", 2, 1, OperationKind{Type: OpLockNode, NodeID: node, Locked: true}))
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeDeferred, results[0].Outcome)
	assert.Len(t, m.PendingConflicts(), 1)
}

func TestConflictManagerManualFlow(t *testing.T) {
	m := NewConflictManager(StrategyManual)
	node := timeline.NewNodeID()

	m.CheckConflicts(moveOp("alice", 1, node, 100))
	results := m.CheckConflicts(moveOp("bob", 2, node, 200))
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeDeferred, results[0].Outcome)

	pending := m.PendingConflicts()
	require.Len(t, pending, 1)

	res, err := m.ResolveManually(pending[0].ID, OutcomeUseFirst)
	require.NoError(t, err)
	assert.Equal(t, UserID("alice"), res.Winner.UserID)
	assert.Empty(t, m.PendingConflicts())

	_, err = m.ResolveManually(pending[0].ID, OutcomeUseFirst)
	assert.Error(t, err)
}

func TestConflictManagerAutoResolves(t *testing.T) {
	m := NewConflictManager(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	assert.Empty(t, m.CheckConflicts(moveOp("alice", 1, node, 100)))
	results := m.CheckConflicts(moveOp("bob", 2, node, 200))
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeUseSecond, results[0].Outcome)
	assert.Empty(t, m.PendingConflicts())
	assert.Len(t, m.Resolutions(), 1)
}

func TestRippleEditsOnSameClipConflict(t *testing.T) {
	r := NewConflictResolver(StrategyLastWriteWins)
	node := timeline.NewNodeID()

	a := NewOperation("alice", 1, 1, OperationKind{Type: OpRippleEdit, NodeID: node, NewStart: 50})
	b := NewOperation("bob", 2, 1, OperationKind{Type: OpRippleEdit, NodeID: node, NewStart: 80})
	conflict, ok := r.DetectConflict(a, b)
	require.True(t, ok)
	assert.Equal(t, OutcomeUseSecond, r.Resolve(conflict).Outcome)

	// Ripples on different clips coexist.
	c := NewOperation("bob", 2, 1, OperationKind{Type: OpRippleEdit, NodeID: timeline.NewNodeID(), NewStart: 80})
	_, ok = r.DetectConflict(a, c)
	assert.False(t, ok)
}
