package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/timeline"
)

func queuedOps(n int) []Operation {
	node := timeline.NewNodeID()
	ops := make([]Operation, 0, n)
	for i := 0; i < n; i++ {
		ops = append(ops, stampedOp("alice", LamportClock(i+1), positionUpdate(node, timeline.Frame(i))))
	}
	return ops
}

func TestOfflineQueueSaveLoadDelete(t *testing.T) {
	mgr, err := NewOfflineQueueManager(t.TempDir())
	require.NoError(t, err)

	user, session := NewUserID(), NewSessionID()
	q := NewOfflineQueue(user, session)
	for _, op := range queuedOps(3) {
		q.Enqueue(op)
	}

	require.NoError(t, mgr.Save(q))

	loaded, err := mgr.Load(user, session)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, user, loaded.UserID)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, q.Ops[2].ID, loaded.Ops[2].ID)

	require.NoError(t, mgr.Delete(user, session))
	gone, err := mgr.Load(user, session)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Deleting a queue that never existed is not an error.
	assert.NoError(t, mgr.Delete(user, session))
}

func TestOfflineQueueBatching(t *testing.T) {
	q := NewOfflineQueue(NewUserID(), NewSessionID())
	for _, op := range queuedOps(120) {
		q.Enqueue(op)
	}

	immediate := q.Batches(SyncImmediate)
	require.Len(t, immediate, 1)
	assert.Len(t, immediate[0], 120)

	batched := q.Batches(SyncBatched)
	require.Len(t, batched, 3)
	assert.Len(t, batched[0], 50)
	assert.Len(t, batched[2], 20)
}

func TestOfflineQueueOptimizedCollapsesDrag(t *testing.T) {
	q := NewOfflineQueue(NewUserID(), NewSessionID())
	// 120 moves of one node by one author collapse to a single operation.
	for _, op := range queuedOps(120) {
		q.Enqueue(op)
	}

	optimized := q.Batches(SyncOptimized)
	require.Len(t, optimized, 1)
	require.Len(t, optimized[0], 1)
	assert.Equal(t, timeline.Frame(119), optimized[0][0].Kind.NewStart)
}

func TestOfflineQueueEmpty(t *testing.T) {
	q := NewOfflineQueue(NewUserID(), NewSessionID())
	assert.Nil(t, q.Batches(SyncImmediate))
	assert.Nil(t, q.Batches(SyncBatched))
}
