package holder

import "sync/atomic"

// Pool is a capacity-bounded allocator of Holder[T] values.
//
// Invariant: the pool allocates at most Capacity holders, total, for its
// entire lifetime; once that many exist they are recycled forever after.
//
// ABA defense: freed holders are pushed to a secondary free stack, never
// back onto the primary one directly. Allocation pops from the primary
// stack; when it's empty, the secondary stack is bulk-moved onto the
// primary (a single CAS swap of the secondary's head) and the pop is
// retried. This guarantees any holder a concurrent allocator is racing to
// reuse has passed through that bulk transfer — i.e. through every
// concurrent allocator's load window — before it can be handed out again,
// which is what makes the scheme's safety a function of Capacity rather
// than of timing (see spec.md §4.1 / §9).
type Pool[T any] struct {
	Capacity int

	primary   Stack[T]
	secondary Stack[T]
	allocated atomic.Int64
}

// NewPool constructs a Pool bounded to capacity holders. A non-positive
// capacity means unbounded (a new holder is allocated whenever both free
// stacks are empty); freed holders are still recycled through the same
// two-stack scheme.
func NewPool[T any](capacity int) *Pool[T] {
	return &Pool[T]{Capacity: capacity}
}

// Allocated returns the number of holders this pool has ever constructed.
func (p *Pool[T]) Allocated() int64 { return p.allocated.Load() }

// Get returns a free holder, allocating a new one if under capacity, or
// false if at capacity with none free.
func (p *Pool[T]) Get() (*Holder[T], bool) {
	if h := p.primary.Pop(); h != nil {
		return h, true
	}

	// Primary empty: bulk-transfer secondary -> primary, then retry once.
	if chain := p.secondary.DetachAll(); chain != nil {
		tail := chain
		for tail.Next() != nil {
			tail = tail.Next()
		}
		p.primary.PushAll(chain, tail)
		if h := p.primary.Pop(); h != nil {
			return h, true
		}
	}

	if p.Capacity > 0 {
		for {
			n := p.allocated.Load()
			if n >= int64(p.Capacity) {
				return nil, false
			}
			if p.allocated.CompareAndSwap(n, n+1) {
				return &Holder[T]{}, true
			}
		}
	}

	p.allocated.Add(1)
	return &Holder[T]{}, true
}

// Put clears the holder's payload and returns it to the secondary free
// stack, per the two-stack scheme.
func (p *Pool[T]) Put(h *Holder[T]) {
	var zero T
	h.Value = zero
	p.secondary.Push(h)
}
