package collab

/*
LEARNING: LOGICAL CLOCKS

Wall clocks on different machines drift, so ordering concurrent edits needs
logical time instead:

1. **Lamport clock**: one counter per replica. Ticked on every local
   operation, fast-forwarded to max(local, remote) on receipt. Gives a
   total order across replicas (ties broken by operation id) but cannot
   tell "concurrent" apart from "happened before".
2. **Vector clock**: one counter per user. Can answer exactly that question:
   vc1 happened-before vc2, vc2 happened-before vc1, or they are concurrent.
*/

// LamportClock is a monotonically increasing per-replica scalar.
type LamportClock uint64

// Tick advances the clock for a local event and returns the new value.
func (c *LamportClock) Tick() LamportClock {
	*c++
	return *c
}

// Update fast-forwards the clock to max(local, other).
func (c *LamportClock) Update(other LamportClock) {
	if other > *c {
		*c = other
	}
}

// VectorClock maps each user to the count of their operations observed by
// this replica. The zero value of a missing user is 0.
type VectorClock map[UserID]uint64

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment bumps the given user's component and returns the new value.
func (vc VectorClock) Increment(user UserID) uint64 {
	vc[user]++
	return vc[user]
}

// Get returns the component for a user (0 if unseen).
func (vc VectorClock) Get(user UserID) uint64 {
	return vc[user]
}

// Observe raises a user's component to at least seq.
func (vc VectorClock) Observe(user UserID, seq uint64) {
	if seq > vc[user] {
		vc[user] = seq
	}
}

// Merge takes the pointwise max of both clocks into the receiver.
func (vc VectorClock) Merge(other VectorClock) {
	for user, count := range other {
		if count > vc[user] {
			vc[user] = count
		}
	}
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for user, count := range vc {
		out[user] = count
	}
	return out
}

// HappenedBefore reports whether vc causally precedes other: every
// component <= and at least one strictly <.
func (vc VectorClock) HappenedBefore(other VectorClock) bool {
	anyLess := false
	for user, count := range vc {
		otherCount := other[user]
		if count > otherCount {
			return false
		}
		if count < otherCount {
			anyLess = true
		}
	}
	for user, otherCount := range other {
		if _, ok := vc[user]; !ok && otherCount > 0 {
			anyLess = true
		}
	}
	return anyLess
}

// IsConcurrent reports whether neither clock causally precedes the other.
// Symmetric by construction.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	less := false
	greater := false
	seen := make(map[UserID]struct{}, len(vc)+len(other))
	for user := range vc {
		seen[user] = struct{}{}
	}
	for user := range other {
		seen[user] = struct{}{}
	}
	for user := range seen {
		a, b := vc[user], other[user]
		if a < b {
			less = true
		}
		if a > b {
			greater = true
		}
	}
	return less && greater
}
