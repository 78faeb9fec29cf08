package collab

import (
	"fmt"

	"clipsync/internal/timeline"
)

/*
LEARNING: OPERATION-BASED CRDT

Each replica keeps three things: the operation log (history), a materialized
TimelineGraph (derived state), and a vector clock (what it has seen from each
author). Convergence does not come from clever per-field merge rules - it
comes from every replica eventually holding the same operation set and
replaying it in the same canonical order.

Causal delivery is enforced here, not by the transport: an operation whose
parents are not all in the log yet is parked in the pending buffer and
retried every time a new operation lands, until a full pass admits nothing
more (fixed point).
*/

// CRDTTimeline is one replica of the shared timeline.
//
// Not safe for concurrent use - callers (Session, SyncClient) serialize
// access with their own locks.
type CRDTTimeline struct {
	replica UserID
	graph   *timeline.TimelineGraph
	log     *OperationLog
	clock   LamportClock
	vc      VectorClock

	// frontier is the set of operation ids with no recorded child. New
	// local operations cite the whole frontier as parents, so causal
	// dependencies are exact rather than approximate.
	frontier map[OperationID]struct{}

	// pending holds remote operations whose parents have not all arrived.
	pending []Operation
}

// NewCRDTTimeline creates an empty replica owned by the given user.
func NewCRDTTimeline(replica UserID) *CRDTTimeline {
	return &CRDTTimeline{
		replica:  replica,
		graph:    timeline.NewGraph(),
		log:      NewOperationLog(),
		vc:       NewVectorClock(),
		frontier: make(map[OperationID]struct{}),
	}
}

// Replica returns the owning user id.
func (c *CRDTTimeline) Replica() UserID { return c.replica }

// Graph returns the live materialized document. Callers must not mutate it
// outside of operations.
func (c *CRDTTimeline) Graph() *timeline.TimelineGraph { return c.graph }

// Log returns the underlying operation log.
func (c *CRDTTimeline) Log() *OperationLog { return c.log }

// VectorClock returns a snapshot of what this replica has observed.
func (c *CRDTTimeline) VectorClock() VectorClock { return c.vc.Clone() }

// Clock returns the current Lamport time.
func (c *CRDTTimeline) Clock() LamportClock { return c.clock }

// PendingCount returns how many remote operations are buffered waiting for
// their causal parents.
func (c *CRDTTimeline) PendingCount() int { return len(c.pending) }

// Frontier returns the current causal frontier ids.
func (c *CRDTTimeline) Frontier() []OperationID {
	out := make([]OperationID, 0, len(c.frontier))
	for id := range c.frontier {
		out = append(out, id)
	}
	return out
}

// ApplyLocalOperation stamps, applies and logs a locally authored mutation.
// The returned operation is ready to broadcast to other replicas.
func (c *CRDTTimeline) ApplyLocalOperation(kind OperationKind) (Operation, error) {
	clock := c.clock.Tick()
	seq := c.vc.Get(c.replica) + 1
	op := NewOperation(c.replica, clock, seq, kind)
	op.Parents = c.Frontier()

	if err := op.Kind.Apply(c.graph); err != nil {
		// Stamp rollback: the operation never happened.
		c.clock = clock - 1
		return Operation{}, fmt.Errorf("apply local operation: %w", err)
	}

	c.commit(op)
	return op, nil
}

// ApplyRemoteOperation integrates an operation authored elsewhere. If its
// causal parents are not all present yet it is buffered, not rejected; the
// buffer is re-scanned to a fixed point after every admission. Duplicate
// delivery is a no-op.
func (c *CRDTTimeline) ApplyRemoteOperation(op Operation) error {
	if c.log.Contains(op.ID) {
		return nil
	}
	c.clock.Update(op.Clock)

	if !c.parentsSatisfied(op) {
		c.pending = append(c.pending, op)
		return nil
	}

	if err := op.Kind.Apply(c.graph); err != nil {
		return fmt.Errorf("apply remote operation %s: %w", op.ID, err)
	}
	c.commit(op)
	return c.drainPending()
}

func (c *CRDTTimeline) parentsSatisfied(op Operation) bool {
	for _, parent := range op.Parents {
		if !c.log.Contains(parent) {
			return false
		}
	}
	return true
}

// commit records an applied operation: log it, advance the observed vector
// clock, and update the frontier (the op's parents now have a child).
func (c *CRDTTimeline) commit(op Operation) {
	c.log.Add(op)
	c.vc.Observe(op.UserID, op.Seq)
	for _, parent := range op.Parents {
		delete(c.frontier, parent)
	}
	c.frontier[op.ID] = struct{}{}
}

// drainPending replays the pending buffer until a full pass admits nothing.
// Each admitted operation can unblock others, so passes repeat to a fixed
// point.
func (c *CRDTTimeline) drainPending() error {
	for {
		admitted := false
		remaining := c.pending[:0]
		for _, op := range c.pending {
			if c.log.Contains(op.ID) {
				continue
			}
			if !c.parentsSatisfied(op) {
				remaining = append(remaining, op)
				continue
			}
			if err := op.Kind.Apply(c.graph); err != nil {
				return fmt.Errorf("apply buffered operation %s: %w", op.ID, err)
			}
			c.commit(op)
			admitted = true
		}
		c.pending = remaining
		if !admitted {
			return nil
		}
	}
}

// Merge folds another replica's history into this one and rebuilds the
// document by replaying the union in canonical order from an empty graph.
// Merge is commutative and idempotent at the state level: both sides end up
// with the same log and therefore the same graph.
func (c *CRDTTimeline) Merge(other *CRDTTimeline) error {
	c.log.Merge(other.log)
	c.vc.Merge(other.vc)
	c.clock.Update(other.clock)
	return c.rebuild()
}

// rebuild replays the full log into a fresh graph and recomputes the
// frontier. Operations that no longer apply cleanly (their target was
// removed by an earlier op in canonical order) degrade to no-ops inside
// Apply, so replay never aborts halfway on stale references.
func (c *CRDTTimeline) rebuild() error {
	graph := timeline.NewGraph()
	frontier := make(map[OperationID]struct{})
	for _, op := range c.log.ops {
		if err := op.Kind.Apply(graph); err != nil {
			return fmt.Errorf("replay operation %s: %w", op.ID, err)
		}
		for _, parent := range op.Parents {
			delete(frontier, parent)
		}
		frontier[op.ID] = struct{}{}
	}
	c.graph = graph
	c.frontier = frontier
	return nil
}

// GetOperationsSince returns every logged operation the given vector clock
// has not observed, in log order. This is the catch-up path for reconnecting
// clients: each operation carries its author's sequence number, so the
// comparison is exact.
func (c *CRDTTimeline) GetOperationsSince(since VectorClock) []Operation {
	var out []Operation
	for _, op := range c.log.ops {
		if op.Seq > since.Get(op.UserID) {
			out = append(out, op)
		}
	}
	return out
}
