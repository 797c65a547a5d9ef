package lifecycle

import "weak"

// Protector is a weak reference whose expiry cancels a pending task or
// subscription: it wraps weak.Pointer[T] with a Lock method mirroring the
// C++ weak_ptr.lock()/expired() convention this runtime's subscription
// sweep and node dispatch are built around (see Channel's weak
// subscriptions, highway.Proxy, and the nodes' self protectors, which
// their intake callbacks lock before running logic). task.Task itself
// carries no Protector.
type Protector[T any] struct {
	ptr weak.Pointer[T]
}

// Protect constructs a Protector guarding v. A nil v yields an
// already-expired Protector (Lock always fails), which is useful as the
// zero-value-friendly "no guard" case.
func Protect[T any](v *T) Protector[T] {
	if v == nil {
		return Protector[T]{}
	}
	return Protector[T]{ptr: weak.Make(v)}
}

// Lock attempts to recover a strong reference. ok is false if the
// guarded value has already been garbage collected (or Protect was never
// given one).
func (p Protector[T]) Lock() (v *T, ok bool) {
	v = p.ptr.Value()
	return v, v != nil
}

// Expired reports whether the guarded value is gone. Equivalent to
// calling Lock and discarding the value, provided as a readability alias
// for call sites that only need the boolean (e.g. the subscription
// sweep's "mark dead on protector-lock failure" check).
func (p Protector[T]) Expired() bool {
	_, ok := p.Lock()
	return !ok
}
