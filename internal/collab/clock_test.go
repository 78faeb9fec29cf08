package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLamportClock(t *testing.T) {
	var c LamportClock

	assert.Equal(t, LamportClock(1), c.Tick())
	assert.Equal(t, LamportClock(2), c.Tick())

	c.Update(10)
	assert.Equal(t, LamportClock(10), c)

	// Updates never move the clock backwards.
	c.Update(3)
	assert.Equal(t, LamportClock(10), c)
}

func TestVectorClockHappenedBefore(t *testing.T) {
	a, b := UserID("a"), UserID("b")

	earlier := VectorClock{a: 1}
	later := VectorClock{a: 2, b: 1}

	assert.True(t, earlier.HappenedBefore(later))
	assert.False(t, later.HappenedBefore(earlier))

	// A clock never happens before itself.
	assert.False(t, earlier.HappenedBefore(earlier.Clone()))
}

func TestVectorClockConcurrency(t *testing.T) {
	a, b := UserID("a"), UserID("b")

	left := VectorClock{a: 2, b: 1}
	right := VectorClock{a: 1, b: 2}

	assert.True(t, left.IsConcurrent(right))
	assert.True(t, right.IsConcurrent(left))

	// Ordered clocks are not concurrent.
	ordered := VectorClock{a: 3, b: 2}
	assert.False(t, left.IsConcurrent(ordered))
	assert.False(t, ordered.IsConcurrent(left))
}

func TestVectorClockMergeIdempotent(t *testing.T) {
	a, b := UserID("a"), UserID("b")

	vc := VectorClock{a: 2}
	other := VectorClock{a: 1, b: 3}

	vc.Merge(other)
	assert.Equal(t, VectorClock{a: 2, b: 3}, vc)

	// Merging again changes nothing.
	vc.Merge(other)
	assert.Equal(t, VectorClock{a: 2, b: 3}, vc)
}

func TestVectorClockObserve(t *testing.T) {
	a := UserID("a")
	vc := NewVectorClock()

	vc.Observe(a, 5)
	assert.Equal(t, uint64(5), vc.Get(a))

	// Observing an older sequence does not regress.
	vc.Observe(a, 2)
	assert.Equal(t, uint64(5), vc.Get(a))

	assert.Equal(t, uint64(1), vc.Increment(UserID("b")))
	assert.Equal(t, uint64(2), vc.Increment(UserID("b")))
}
