package future

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/highway"
)

// All returns a Chain that fulfills with every input's value, in order,
// once all of them fulfill, or rejects with the first rejection reason
// observed. An empty input fulfills immediately with an empty slice.
// Grounded on eventloop/promise.go's JS.All, generalized to typed Chains.
func All[T any](chains []*Chain[T]) *Chain[[]T] {
	proxy := anyProxy(chains)
	result, resolve, reject := New[[]T](proxy)

	if len(chains) == 0 {
		resolve(nil)
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	var hasRejected atomic.Bool
	values := make([]T, len(chains))

	for i, c := range chains {
		idx := i
		c.addHandler(func(state State, value T, err error) {
			if state == Rejected {
				if hasRejected.CompareAndSwap(false, true) {
					reject(err)
				}
				return
			}
			mu.Lock()
			values[idx] = value
			mu.Unlock()
			if completed.Add(1) == int32(len(chains)) && !hasRejected.Load() {
				resolve(values)
			}
		})
	}

	return result
}

// Race returns a Chain that settles the same way as whichever input
// settles first; later settlements are ignored. An empty input never
// settles.
func Race[T any](chains []*Chain[T]) *Chain[T] {
	proxy := anyProxy(chains)
	result, resolve, reject := New[T](proxy)

	var settled atomic.Bool
	for _, c := range chains {
		c.addHandler(func(state State, value T, err error) {
			if !settled.CompareAndSwap(false, true) {
				return
			}
			if state == Fulfilled {
				resolve(value)
			} else {
				reject(err)
			}
		})
	}

	return result
}

// Outcome is one input's settlement as recorded by AllSettled.
type Outcome[T any] struct {
	State State
	Value T
	Err   error
}

// AllSettled returns a Chain that always fulfills, once every input has
// settled, with one Outcome per input in order — it never rejects.
func AllSettled[T any](chains []*Chain[T]) *Chain[[]Outcome[T]] {
	proxy := anyProxy(chains)
	result, resolve, _ := New[[]Outcome[T]](proxy)

	if len(chains) == 0 {
		resolve(nil)
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	outcomes := make([]Outcome[T], len(chains))

	for i, c := range chains {
		idx := i
		c.addHandler(func(state State, value T, err error) {
			mu.Lock()
			outcomes[idx] = Outcome[T]{State: state, Value: value, Err: err}
			mu.Unlock()
			if completed.Add(1) == int32(len(chains)) {
				resolve(outcomes)
			}
		})
	}

	return result
}

// ErrNoneFulfilled is Any's rejection reason when every input rejects (or
// the input is empty).
type ErrNoneFulfilled struct {
	Errs []error
}

func (e *ErrNoneFulfilled) Error() string {
	return "future: all chains rejected"
}

// Any returns a Chain that fulfills with the first input to fulfill, or
// rejects with an *ErrNoneFulfilled collecting every rejection reason if
// all inputs reject (or the input is empty).
func Any[T any](chains []*Chain[T]) *Chain[T] {
	proxy := anyProxy(chains)
	result, resolve, reject := New[T](proxy)

	if len(chains) == 0 {
		reject(&ErrNoneFulfilled{})
		return result
	}

	var mu sync.Mutex
	var rejectedCount atomic.Int32
	var fulfilled atomic.Bool
	errs := make([]error, len(chains))

	for i, c := range chains {
		idx := i
		c.addHandler(func(state State, value T, err error) {
			if state == Fulfilled {
				if fulfilled.CompareAndSwap(false, true) {
					resolve(value)
				}
				return
			}
			mu.Lock()
			errs[idx] = err
			mu.Unlock()
			if rejectedCount.Add(1) == int32(len(chains)) && !fulfilled.Load() {
				reject(&ErrNoneFulfilled{Errs: errs})
			}
		})
	}

	return result
}

func anyProxy[T any](chains []*Chain[T]) *highway.Proxy {
	for _, c := range chains {
		if c.proxy != nil {
			return c.proxy
		}
	}
	return nil
}
