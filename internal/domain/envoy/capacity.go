package envoy

import (
	"sync/atomic"
)

// Slots is an approximate occupancy counter.
//
// TryReserve increments optimistically and rolls back when the pre-increment
// value was already at the bound. Under a race, up to one extra reservation per
// concurrent reserver can be visible for an instant, but every overshooting
// reservation undoes itself before returning, so the count never stays above
// the bound. This trades an exact check-then-act for a lock-free hot path.
type Slots struct {
	count atomic.Int64
	max   int64
}

// NewSlots creates a counter bounded at max.
func NewSlots(max int) *Slots {
	return &Slots{max: int64(max)}
}

// TryReserve claims one slot or returns ErrQueueFull.
func (s *Slots) TryReserve() error {
	if s.count.Add(1)-1 >= s.max {
		s.count.Add(-1)
		return ErrQueueFull
	}
	return nil
}

// ReleaseSlot returns one slot, either after a pop or to roll back a
// reservation that was not consumed.
func (s *Slots) ReleaseSlot() {
	s.count.Add(-1)
}

// Len returns the current (approximate) occupancy.
func (s *Slots) Len() int {
	return int(s.count.Load())
}

// Cap returns the configured bound.
func (s *Slots) Cap() int {
	return int(s.max)
}

// BoundedQueue pairs a Queue with its Slots counter.
//
// Producers call Reserve, then either Commit or Rollback. Consumers call Pop,
// which releases the slot of the element it returns.
type BoundedQueue[T any] struct {
	name  string
	items *Queue[T]
	slots *Slots
}

// NewBoundedQueue creates a named queue bounded at depth.
func NewBoundedQueue[T any](name string, depth int) *BoundedQueue[T] {
	return &BoundedQueue[T]{
		name:  name,
		items: NewQueue[T](),
		slots: NewSlots(depth),
	}
}

// Name returns the queue name used in logs and metrics.
func (q *BoundedQueue[T]) Name() string {
	return q.name
}

// Reserve claims a slot for a later Commit.
func (q *BoundedQueue[T]) Reserve() error {
	return q.slots.TryReserve()
}

// Rollback returns a slot claimed by Reserve that will not be committed.
func (q *BoundedQueue[T]) Rollback() {
	q.slots.ReleaseSlot()
}

// Commit pushes v into a slot previously claimed by Reserve.
func (q *BoundedQueue[T]) Commit(v T) {
	q.items.Push(v)
}

// Offer reserves and commits in one step.
func (q *BoundedQueue[T]) Offer(v T) error {
	if err := q.Reserve(); err != nil {
		return err
	}
	q.Commit(v)
	return nil
}

// Pop removes the oldest element and frees its slot.
func (q *BoundedQueue[T]) Pop() (T, bool) {
	v, ok := q.items.Pop()
	if ok {
		q.slots.ReleaseSlot()
	}
	return v, ok
}

// Len returns the approximate number of reserved slots.
func (q *BoundedQueue[T]) Len() int {
	return q.slots.Len()
}

// Cap returns the queue bound.
func (q *BoundedQueue[T]) Cap() int {
	return q.slots.Cap()
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// Stats returns a snapshot of the queue occupancy.
func (q *BoundedQueue[T]) Stats() QueueStats {
	return QueueStats{Name: q.name, Depth: q.Len(), Capacity: q.Cap()}
}
