package collab

import (
	"sort"
)

const (
	// compactKeep is how many recent operations survive a Compact pass.
	compactKeep = 100
	// compactMaxOps triggers compaction regardless of byte size.
	compactMaxOps = 1000
	// opSizeEstimate is a rough per-operation wire footprint in bytes. Good
	// enough for a compaction trigger; exact accounting is not worth the
	// marshaling cost.
	opSizeEstimate = 200
)

// OperationLog is the append-only history of a replica. The log is the source
// of truth; the materialized graph is derived from it by replay.
//
// Not safe for concurrent use - the owning CRDTTimeline or Session serializes
// access.
type OperationLog struct {
	ops  []Operation
	byID map[OperationID]int
}

func NewOperationLog() *OperationLog {
	return &OperationLog{byID: make(map[OperationID]int)}
}

// Add appends an operation. Duplicates (same id) are ignored, which makes
// redelivery over a flaky transport harmless.
func (l *OperationLog) Add(op Operation) {
	if _, seen := l.byID[op.ID]; seen {
		return
	}
	l.byID[op.ID] = len(l.ops)
	l.ops = append(l.ops, op)
}

// Get returns the operation with the given id.
func (l *OperationLog) Get(id OperationID) (Operation, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return Operation{}, false
	}
	return l.ops[idx], true
}

// Contains reports whether an operation id is in the log.
func (l *OperationLog) Contains(id OperationID) bool {
	_, ok := l.byID[id]
	return ok
}

// Len returns the number of logged operations.
func (l *OperationLog) Len() int { return len(l.ops) }

// Operations returns a copy of the log contents in log order.
func (l *OperationLog) Operations() []Operation {
	return append([]Operation(nil), l.ops...)
}

// Merge unions another log into this one and re-sorts into the canonical
// total order: ascending Lamport clock, operation id as tiebreak. Two
// replicas that merge each other's logs end up with identical sequences.
func (l *OperationLog) Merge(other *OperationLog) {
	for _, op := range other.ops {
		l.Add(op)
	}
	l.sortCanonical()
}

func (l *OperationLog) sortCanonical() {
	sort.Slice(l.ops, func(i, j int) bool {
		if l.ops[i].Clock != l.ops[j].Clock {
			return l.ops[i].Clock < l.ops[j].Clock
		}
		return l.ops[i].ID < l.ops[j].ID
	})
	for i, op := range l.ops {
		l.byID[op.ID] = i
	}
}

// SizeBytes estimates the serialized footprint of the log.
func (l *OperationLog) SizeBytes() int {
	return len(l.ops) * opSizeEstimate
}

// ShouldCompact reports whether the log has outgrown maxBytes or the hard
// operation-count ceiling.
func (l *OperationLog) ShouldCompact(maxBytes int) bool {
	return l.SizeBytes() > maxBytes || len(l.ops) > compactMaxOps
}

// Compact drops everything but the most recent operations. Only call once
// the discarded prefix has been folded into a persisted snapshot - replicas
// that still need the old operations must catch up from storage instead.
func (l *OperationLog) Compact() {
	if len(l.ops) <= compactKeep {
		return
	}
	l.ops = append([]Operation(nil), l.ops[len(l.ops)-compactKeep:]...)
	l.byID = make(map[OperationID]int, len(l.ops))
	for i, op := range l.ops {
		l.byID[op.ID] = i
	}
}

// Optimize collapses runs of consecutive position or duration updates on the
// same node into the final one. A drag gesture emits dozens of intermediate
// moves; only the last matters for replay.
func (l *OperationLog) Optimize() {
	if len(l.ops) < 2 {
		return
	}
	out := make([]Operation, 0, len(l.ops))
	for _, op := range l.ops {
		if n := len(out); n > 0 && supersedes(op, out[n-1]) {
			out[n-1] = op
			continue
		}
		out = append(out, op)
	}
	l.ops = out
	l.byID = make(map[OperationID]int, len(l.ops))
	for i, op := range l.ops {
		l.byID[op.ID] = i
	}
}

// supersedes reports whether next makes prev irrelevant when they are
// adjacent in the log: same author, same node, same update flavor.
func supersedes(next, prev Operation) bool {
	if next.UserID != prev.UserID || next.Kind.Type != prev.Kind.Type {
		return false
	}
	switch next.Kind.Type {
	case OpUpdateNodePosition, OpUpdateNodeDuration, OpUpdateNodeMetadata:
		return next.Kind.NodeID == prev.Kind.NodeID
	}
	return false
}
