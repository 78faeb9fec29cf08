package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	stdsync "sync"

	"clipsync/internal/collab"
	"clipsync/internal/models"
)

/*
LEARNING: PERSISTENCE WORKER POOL

Operations arrive on the websocket hot path; database writes must not sit on
it. A fixed pool of workers drains a bounded job queue:

1. **Goroutines**: one long-lived worker per slot
2. **Bounded channel**: backpressure instead of unbounded memory growth
3. **Graceful shutdown**: context + WaitGroup so in-flight writes finish

If the queue is full the job is dropped with a warning rather than blocking
the session - the in-memory log still has the operation, so nothing is lost
until compaction.
*/

// OperationStore is what the persister needs from the repository layer.
type OperationStore interface {
	Store(ctx context.Context, record *models.OperationRecord) error
	TouchSession(ctx context.Context, sessionID string) error
}

// PersistJob is one operation awaiting a database write.
type PersistJob struct {
	SessionID collab.SessionID
	Op        collab.Operation
}

// PersistServiceImpl writes applied operations to storage asynchronously.
// It satisfies the session manager's Persister interface.
type PersistServiceImpl struct {
	store OperationStore

	jobs    chan PersistJob
	workers int
	wg      stdsync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPersistService creates the pool without starting it.
func NewPersistService(store OperationStore, numWorkers, queueSize int) *PersistServiceImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &PersistServiceImpl{
		store:   store,
		jobs:    make(chan PersistJob, queueSize),
		workers: numWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the workers.
func (s *PersistServiceImpl) Start() {
	log.Printf("🔧 Starting persistence worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	log.Println("✓ Persistence worker pool started")
}

func (s *PersistServiceImpl) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("  Persist worker %d shutting down", id)
			return

		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := s.process(job); err != nil {
				log.Printf("  Persist worker %d error: %v", id, err)
			}
		}
	}
}

// PersistOperation queues one operation. Non-blocking: a full queue drops
// the job with a warning instead of stalling the session.
func (s *PersistServiceImpl) PersistOperation(ctx context.Context, session collab.SessionID, op collab.Operation) {
	select {
	case s.jobs <- PersistJob{SessionID: session, Op: op}:
	case <-s.ctx.Done():
	default:
		log.Printf("⚠️  Persist queue full, dropping operation %s (still in memory log)", op.ID)
	}
}

func (s *PersistServiceImpl) process(job PersistJob) error {
	ctx := context.Background()

	payload, err := json.Marshal(job.Op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation %s: %w", job.Op.ID, err)
	}

	record := &models.OperationRecord{
		SessionID:   string(job.SessionID),
		OperationID: string(job.Op.ID),
		UserID:      string(job.Op.UserID),
		Clock:       uint64(job.Op.Clock),
		Seq:         job.Op.Seq,
		Payload:     payload,
	}
	if err := s.store.Store(ctx, record); err != nil {
		return err
	}
	return s.store.TouchSession(ctx, string(job.SessionID))
}

// GetQueueLength returns the number of pending writes.
func (s *PersistServiceImpl) GetQueueLength() int {
	return len(s.jobs)
}

// Shutdown stops the pool after in-flight writes complete.
func (s *PersistServiceImpl) Shutdown() {
	log.Println("🛑 Shutting down persistence service...")

	close(s.jobs)
	s.cancel()
	s.wg.Wait()

	log.Println("✓ Persistence service shutdown complete")
}

// RestoreOperations decodes stored rows back into operations in replay
// order, for rebuilding a session after restart.
func RestoreOperations(records []*models.OperationRecord) ([]collab.Operation, error) {
	ops := make([]collab.Operation, 0, len(records))
	for _, rec := range records {
		var op collab.Operation
		if err := json.Unmarshal(rec.Payload, &op); err != nil {
			return nil, fmt.Errorf("failed to decode stored operation %s: %w", rec.OperationID, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
