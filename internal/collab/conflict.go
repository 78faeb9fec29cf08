package collab

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictKind classifies what two concurrent operations disagree about.
type ConflictKind string

const (
	// DuplicateDelete: both sides removed the same entity. Harmless -
	// removal is idempotent - but surfaced so the UI can drop one tombstone.
	ConflictDuplicateDelete ConflictKind = "duplicate_delete"
	// ConcurrentMove: the same node was repositioned to two places at once.
	ConflictConcurrentMove ConflictKind = "concurrent_move"
	// PropertyConflict: the same entity's properties were edited on both
	// sides (metadata, marker fields, keyframe values).
	ConflictProperty ConflictKind = "property_conflict"
	// DuplicateCreate: both sides created an entity with the same id.
	ConflictDuplicateCreate ConflictKind = "duplicate_create"
	// OperationConflict: same entity touched in ways with no finer class.
	ConflictOperation ConflictKind = "operation_conflict"
)

// ResolutionStrategy selects how a detected conflict gets settled.
type ResolutionStrategy string

const (
	// StrategyLastWriteWins keeps the operation with the higher Lamport
	// clock, falling back to wall-clock timestamp, then to "keep second".
	StrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	// StrategyUserPriority keeps the operation from the higher-priority
	// user (session owner beats guests).
	StrategyUserPriority ResolutionStrategy = "user_priority"
	// StrategyManual parks the conflict for a human decision.
	StrategyManual ResolutionStrategy = "manual"
	// StrategyMerge settles per conflict kind: duplicate deletes and
	// creates keep the first operation (the second is redundant), moves
	// and property edits degrade to last-write-wins, and anything
	// unclassified is deferred for a human.
	StrategyMerge ResolutionStrategy = "merge"
)

// Outcome says which side of a conflict survives.
type Outcome string

const (
	OutcomeUseFirst  Outcome = "use_first"
	OutcomeUseSecond Outcome = "use_second"
	OutcomeUseBoth   Outcome = "use_both"
	OutcomeDeferred  Outcome = "deferred"
)

// Conflict is a detected disagreement between two concurrent operations.
type Conflict struct {
	ID         string       `json:"id"`
	Kind       ConflictKind `json:"kind"`
	First      Operation    `json:"first"`
	Second     Operation    `json:"second"`
	DetectedAt time.Time    `json:"detected_at"`
}

// Resolution is the settled outcome of a conflict.
type Resolution struct {
	ConflictID string             `json:"conflict_id"`
	Strategy   ResolutionStrategy `json:"strategy"`
	Outcome    Outcome            `json:"outcome"`
	Winner     *Operation         `json:"winner,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// ConflictResolver classifies and settles conflicts under one strategy.
type ConflictResolver struct {
	strategy ResolutionStrategy
	// priority is the ordered user list for StrategyUserPriority: earlier
	// entries win, and any listed user beats an unlisted one.
	priority []UserID
}

func NewConflictResolver(strategy ResolutionStrategy) *ConflictResolver {
	return &ConflictResolver{strategy: strategy}
}

// SetPriorityOrder installs the user ranking used by StrategyUserPriority,
// highest priority first (session owner, then moderators, then guests).
func (r *ConflictResolver) SetPriorityOrder(users ...UserID) {
	r.priority = append([]UserID(nil), users...)
}

// rank returns a user's position in the priority order.
func (r *ConflictResolver) rank(user UserID) (int, bool) {
	for i, u := range r.priority {
		if u == user {
			return i, true
		}
	}
	return 0, false
}

// DetectConflict reports whether two operations conflict and, if so, builds
// the classified Conflict record. Same-author pairs never conflict (one
// client serializes its own edits), and neither do causally ordered pairs.
func (r *ConflictResolver) DetectConflict(first, second Operation) (Conflict, bool) {
	if first.UserID == second.UserID {
		return Conflict{}, false
	}
	if causallyRelated(first, second) {
		return Conflict{}, false
	}
	if !first.Kind.ConflictsWith(&second.Kind) {
		return Conflict{}, false
	}
	return Conflict{
		ID:         uuid.NewString(),
		Kind:       classify(first.Kind, second.Kind),
		First:      first,
		Second:     second,
		DetectedAt: time.Now().UTC(),
	}, true
}

// causallyRelated reports whether one operation lists the other among its
// parents. Deeper ancestry is already excluded by the vector-clock gate in
// the session layer; the direct-parent check covers ops admitted in the
// same batch.
func causallyRelated(a, b Operation) bool {
	for _, p := range a.Parents {
		if p == b.ID {
			return true
		}
	}
	for _, p := range b.Parents {
		if p == a.ID {
			return true
		}
	}
	return false
}

func classify(a, b OperationKind) ConflictKind {
	switch {
	case isDelete(a.Type) && isDelete(b.Type):
		return ConflictDuplicateDelete
	case a.Type == OpUpdateNodePosition && b.Type == OpUpdateNodePosition:
		return ConflictConcurrentMove
	case isCreate(a.Type) && isCreate(b.Type):
		return ConflictDuplicateCreate
	case isPropertyEdit(a.Type) && isPropertyEdit(b.Type):
		return ConflictProperty
	default:
		return ConflictOperation
	}
}

func isDelete(t OpType) bool {
	switch t {
	case OpRemoveNode, OpRemoveTrack, OpRemoveMarker, OpRemoveAutomationLane, OpRemoveKeyframe, OpRemoveNodeFromTrack:
		return true
	}
	return false
}

func isCreate(t OpType) bool {
	switch t {
	case OpAddNode, OpAddTrack, OpAddMarker, OpCreateAutomationLane:
		return true
	}
	return false
}

func isPropertyEdit(t OpType) bool {
	switch t {
	case OpUpdateNodeMetadata, OpUpdateNodeDuration, OpRenameTrack, OpUpdateMarker,
		OpUpdateKeyframe, OpUpdateCurveType, OpLockNode:
		return true
	}
	return false
}

// Resolve settles a conflict under the resolver's strategy. Deterministic:
// every replica resolving the same conflict reaches the same outcome.
func (r *ConflictResolver) Resolve(c Conflict) Resolution {
	res := Resolution{
		ConflictID: c.ID,
		Strategy:   r.strategy,
		ResolvedAt: time.Now().UTC(),
	}
	switch r.strategy {
	case StrategyManual:
		res.Outcome = OutcomeDeferred
		return res
	case StrategyUserPriority:
		firstRank, firstListed := r.rank(c.First.UserID)
		secondRank, secondListed := r.rank(c.Second.UserID)
		switch {
		case firstListed && (!secondListed || firstRank < secondRank):
			res.Outcome = OutcomeUseFirst
			res.Winner = &c.First
		case secondListed && (!firstListed || secondRank < firstRank):
			res.Outcome = OutcomeUseSecond
			res.Winner = &c.Second
		default:
			// Neither user is ranked.
			return r.lastWriteWins(c, res)
		}
		return res
	case StrategyMerge:
		return r.merge(c, res)
	default:
		return r.lastWriteWins(c, res)
	}
}

// merge settles a conflict per kind. Duplicate deletes and creates are
// idempotent, so the first operation stands and the second is redundant;
// moves and property edits have a meaningful last writer; everything else
// needs a human.
func (r *ConflictResolver) merge(c Conflict, res Resolution) Resolution {
	switch c.Kind {
	case ConflictDuplicateDelete, ConflictDuplicateCreate:
		res.Outcome = OutcomeUseFirst
		res.Winner = &c.First
		return res
	case ConflictConcurrentMove, ConflictProperty:
		return r.lastWriteWins(c, res)
	default:
		res.Outcome = OutcomeDeferred
		return res
	}
}

// lastWriteWins compares Lamport clocks, then wall-clock timestamps; a full
// tie keeps the second operation.
func (r *ConflictResolver) lastWriteWins(c Conflict, res Resolution) Resolution {
	switch {
	case c.First.Clock > c.Second.Clock:
		res.Outcome = OutcomeUseFirst
		res.Winner = &c.First
	case c.Second.Clock > c.First.Clock:
		res.Outcome = OutcomeUseSecond
		res.Winner = &c.Second
	case c.First.Timestamp.After(c.Second.Timestamp):
		res.Outcome = OutcomeUseFirst
		res.Winner = &c.First
	default:
		res.Outcome = OutcomeUseSecond
		res.Winner = &c.Second
	}
	return res
}

// ConflictManager runs detection for a session: every incoming operation is
// checked against recent concurrent history, and unresolvable (manual)
// conflicts are parked until a user settles them.
type ConflictManager struct {
	resolver *ConflictResolver
	// window holds recently applied operations checked against newcomers.
	window     []Operation
	windowSize int
	pending    map[string]Conflict
	resolved   []Resolution
}

func NewConflictManager(strategy ResolutionStrategy) *ConflictManager {
	return &ConflictManager{
		resolver:   NewConflictResolver(strategy),
		windowSize: 64,
		pending:    make(map[string]Conflict),
	}
}

// Resolver exposes the underlying resolver for priority configuration.
func (m *ConflictManager) Resolver() *ConflictResolver { return m.resolver }

// CheckConflicts compares an incoming operation against the recent window,
// resolving what the strategy can and parking the rest. It returns the
// resolutions produced for this operation.
func (m *ConflictManager) CheckConflicts(op Operation) []Resolution {
	var results []Resolution
	for _, prev := range m.window {
		conflict, ok := m.resolver.DetectConflict(prev, op)
		if !ok {
			continue
		}
		res := m.resolver.Resolve(conflict)
		if res.Outcome == OutcomeDeferred {
			m.pending[conflict.ID] = conflict
		}
		m.resolved = append(m.resolved, res)
		results = append(results, res)
	}
	m.window = append(m.window, op)
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}
	return results
}

// PendingConflicts returns conflicts awaiting a manual decision.
func (m *ConflictManager) PendingConflicts() []Conflict {
	out := make([]Conflict, 0, len(m.pending))
	for _, c := range m.pending {
		out = append(out, c)
	}
	return out
}

// ResolveManually settles a parked conflict with an explicit outcome.
func (m *ConflictManager) ResolveManually(conflictID string, outcome Outcome) (Resolution, error) {
	c, ok := m.pending[conflictID]
	if !ok {
		return Resolution{}, fmt.Errorf("conflict %s: not pending", conflictID)
	}
	delete(m.pending, conflictID)
	res := Resolution{
		ConflictID: conflictID,
		Strategy:   StrategyManual,
		Outcome:    outcome,
		ResolvedAt: time.Now().UTC(),
	}
	switch outcome {
	case OutcomeUseFirst:
		res.Winner = &c.First
	case OutcomeUseSecond:
		res.Winner = &c.Second
	}
	m.resolved = append(m.resolved, res)
	return res, nil
}

// Resolutions returns every resolution produced so far.
func (m *ConflictManager) Resolutions() []Resolution {
	return append([]Resolution(nil), m.resolved...)
}
