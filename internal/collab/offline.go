package collab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SyncStrategy picks how a reconnecting client pushes its offline backlog.
type SyncStrategy string

const (
	// SyncImmediate sends every queued operation as-is, in order.
	SyncImmediate SyncStrategy = "immediate"
	// SyncBatched groups queued operations into fixed-size batches.
	SyncBatched SyncStrategy = "batched"
	// SyncOptimized collapses redundant updates before sending.
	SyncOptimized SyncStrategy = "optimized"
)

const offlineBatchSize = 50

// OfflineQueue accumulates operations authored while disconnected. The queue
// belongs to one (user, session) pair and survives restarts via JSON files.
type OfflineQueue struct {
	UserID    UserID      `json:"user_id"`
	SessionID SessionID   `json:"session_id"`
	QueuedAt  time.Time   `json:"queued_at"`
	Ops       []Operation `json:"ops"`
}

// NewOfflineQueue creates an empty queue for one user in one session.
func NewOfflineQueue(user UserID, session SessionID) *OfflineQueue {
	return &OfflineQueue{
		UserID:    user,
		SessionID: session,
		QueuedAt:  time.Now().UTC(),
	}
}

// Enqueue appends an operation authored offline.
func (q *OfflineQueue) Enqueue(op Operation) {
	q.Ops = append(q.Ops, op)
}

// Len returns the number of queued operations.
func (q *OfflineQueue) Len() int { return len(q.Ops) }

// Batches splits the queue per the given strategy. SyncOptimized collapses
// consecutive position/duration updates per node first, the same way the
// operation log does.
func (q *OfflineQueue) Batches(strategy SyncStrategy) [][]Operation {
	ops := q.Ops
	switch strategy {
	case SyncOptimized:
		log := NewOperationLog()
		for _, op := range ops {
			log.Add(op)
		}
		log.Optimize()
		ops = log.Operations()
		fallthrough
	case SyncBatched:
		var out [][]Operation
		for len(ops) > offlineBatchSize {
			out = append(out, ops[:offlineBatchSize])
			ops = ops[offlineBatchSize:]
		}
		if len(ops) > 0 {
			out = append(out, ops)
		}
		return out
	default:
		if len(ops) == 0 {
			return nil
		}
		return [][]Operation{ops}
	}
}

// OfflineQueueManager persists offline queues under a directory, one JSON
// file per (user, session).
type OfflineQueueManager struct {
	dir string
}

func NewOfflineQueueManager(dir string) (*OfflineQueueManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create offline queue dir: %w", err)
	}
	return &OfflineQueueManager{dir: dir}, nil
}

func (m *OfflineQueueManager) path(user UserID, session SessionID) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%s.json", user, session))
}

// Save writes a queue to disk, replacing any previous file atomically.
func (m *OfflineQueueManager) Save(q *OfflineQueue) error {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal offline queue: %w", err)
	}
	target := m.path(q.UserID, q.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write offline queue: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit offline queue: %w", err)
	}
	return nil
}

// Load reads a saved queue. Returns (nil, nil) when no queue exists.
func (m *OfflineQueueManager) Load(user UserID, session SessionID) (*OfflineQueue, error) {
	data, err := os.ReadFile(m.path(user, session))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offline queue: %w", err)
	}
	var q OfflineQueue
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	return &q, nil
}

// Delete removes a saved queue once its operations are acknowledged.
func (m *OfflineQueueManager) Delete(user UserID, session SessionID) error {
	err := os.Remove(m.path(user, session))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete offline queue: %w", err)
	}
	return nil
}
