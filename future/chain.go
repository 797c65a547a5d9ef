// Package future implements a Promise/A+-style future chain pinned to a
// highway: handlers drain via the owning highway.Proxy's Execute instead
// of a process-global microtask ring, so a chain can cross a highway
// boundary the way spec.md's future chain is required to.
package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/task"
)

// State is a Chain's lifecycle stage. A Chain starts Pending and
// transitions, at most once, to Fulfilled or Rejected.
type State int32

const (
	Pending State = iota
	Fulfilled
	Rejected
)

// Result is a settled Chain's outcome, delivered via ToChannel.
type Result[T any] struct {
	Value T
	Err   error
}

// Resolve fulfills a Chain with value. Only the first call (Resolve or
// Reject) has any effect.
type Resolve[T any] func(value T)

// Reject rejects a Chain with err. Only the first call (Resolve or
// Reject) has any effect.
type Reject[T any] func(err error)

// handler is a reaction scheduled when a Chain settles: forward carries
// the settled state to whatever stage follows (constructed by Then/Next,
// or by ExecuteAndDetach/Detach's terminal sinks).
type handler[T any] func(state State, value T, err error)

// Chain is a single future-chain node: a value of type T that starts
// Pending and settles exactly once, fanning out to every handler
// registered before or after settlement. Handlers run as tasks
// dispatched through the Chain's owning highway.Proxy, never inline on
// the resolving goroutine; only a standalone Chain (nil proxy) runs them
// inline (see schedule).
type Chain[T any] struct {
	proxy *highway.Proxy

	mu       sync.Mutex
	state    atomic.Int32
	value    T
	err      error
	handlers []handler[T]
	channels []chan Result[T]
}

// New constructs a pending Chain dispatching its handlers on proxy, along
// with the functions used to settle it. resolve and reject may be called
// from any goroutine, including one running on a different highway.
func New[T any](proxy *highway.Proxy) (c *Chain[T], resolve Resolve[T], reject Reject[T]) {
	c = &Chain[T]{proxy: proxy}
	return c, c.resolve, c.reject
}

// State returns the Chain's current State. Safe from any goroutine.
func (c *Chain[T]) State() State { return State(c.state.Load()) }

// addHandler attaches h, running it immediately (via the owning proxy)
// if the chain has already settled, or storing it for resolve/reject to
// schedule otherwise.
func (c *Chain[T]) addHandler(h handler[T]) {
	if State(c.state.Load()) != Pending {
		c.schedule(h)
		return
	}
	c.mu.Lock()
	if State(c.state.Load()) != Pending {
		c.mu.Unlock()
		c.schedule(h)
		return
	}
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// schedule dispatches h as a task on the owning proxy. A nil proxy (a
// standalone chain, not pinned to any highway) runs h inline instead,
// matching ChainedPromise's "no JS adapter" fallback.
func (c *Chain[T]) schedule(h handler[T]) {
	state, value, err := c.settled()
	if c.proxy == nil {
		h(state, value, err)
		return
	}
	_ = c.proxy.Execute(context.Background(), task.New(func() {
		h(state, value, err)
	}))
}

func (c *Chain[T]) settled() (State, T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State(c.state.Load()), c.value, c.err
}

func (c *Chain[T]) resolve(value T) {
	c.mu.Lock()
	if State(c.state.Load()) != Pending {
		c.mu.Unlock()
		return
	}
	handlers := c.handlers
	channels := c.channels
	c.handlers, c.channels = nil, nil
	c.value = value
	c.state.Store(int32(Fulfilled))
	c.mu.Unlock()

	for _, h := range handlers {
		c.schedule(h)
	}
	for _, ch := range channels {
		ch <- Result[T]{Value: value}
		close(ch)
	}
}

func (c *Chain[T]) reject(err error) {
	c.mu.Lock()
	if State(c.state.Load()) != Pending {
		c.mu.Unlock()
		return
	}
	handlers := c.handlers
	channels := c.channels
	c.handlers, c.channels = nil, nil
	c.err = err
	c.state.Store(int32(Rejected))
	c.mu.Unlock()

	for _, h := range handlers {
		c.schedule(h)
	}
	for _, ch := range channels {
		ch <- Result[T]{Err: err}
		close(ch)
	}
}

// ToChannel returns a buffered (capacity 1) channel that receives this
// Chain's Result once it settles, then is closed. If the Chain has
// already settled, the channel is pre-filled and returned closed.
func (c *Chain[T]) ToChannel() <-chan Result[T] {
	ch := make(chan Result[T], 1)

	if State(c.state.Load()) != Pending {
		state, value, err := c.settled()
		if state == Fulfilled {
			ch <- Result[T]{Value: value}
		} else {
			ch <- Result[T]{Err: err}
		}
		close(ch)
		return ch
	}

	c.mu.Lock()
	if State(c.state.Load()) != Pending {
		c.mu.Unlock()
		if c.state.Load() == int32(Fulfilled) {
			ch <- Result[T]{Value: c.value}
		} else {
			ch <- Result[T]{Err: c.err}
		}
		close(ch)
		return ch
	}
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch
}

// ErrNotSettled is returned by Execute when ctx expires before the chain
// settles.
var ErrNotSettled = errors.New("future: chain not settled before context done")

// Execute blocks the caller until the Chain settles or ctx is done,
// returning the fulfilled value or the rejection reason as an error.
func (c *Chain[T]) Execute(ctx context.Context) (T, error) {
	select {
	case r := <-c.ToChannel():
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ErrNotSettled
	}
}

// ExecuteAndDetach schedules onSettle to run (via the owning proxy, or
// inline if standalone) once the Chain settles, without blocking the
// caller.
func (c *Chain[T]) ExecuteAndDetach(onSettle func(value T, err error)) {
	c.addHandler(func(_ State, value T, err error) {
		onSettle(value, err)
	})
}

// Detach discards the Chain's eventual result. If it rejects, the error
// is raised as a panic inside a task dispatched to the owning proxy, so
// it surfaces through that highway's ExceptionHandler exactly like any
// other uncaught task panic, rather than vanishing silently. A standalone
// chain (nil proxy) panics directly on whatever goroutine settles it, or,
// if it has already settled, on the goroutine calling Detach.
func (c *Chain[T]) Detach() {
	c.addHandler(func(state State, _ T, err error) {
		if state == Rejected {
			panic(err)
		}
	})
}

// Then registers onFulfilled against c and returns a new Chain settled by
// whatever it (or, on rejection, onRejected) produces. onFulfilled must
// be non-nil, since a no-op pass-through only type-checks when U is T —
// a constraint Go's type system can't express as an optional default the
// way ChainedPromise.Then's nil-handler convention does for its untyped
// Result. onRejected may be nil, in which case rejection propagates to
// the child unchanged (valid regardless of T/U, since Reject[U] only
// needs the error).
//
// Then is a package-level function, not a method, because Go methods
// cannot introduce additional type parameters beyond the receiver's.
func Then[T, U any](c *Chain[T], onFulfilled func(T) (U, error), onRejected func(error) (U, error)) *Chain[U] {
	child, resolve, reject := New[U](c.proxy)
	c.addHandler(func(state State, value T, err error) {
		if state == Fulfilled {
			settle(resolve, reject, onFulfilled(value))
			return
		}
		if onRejected == nil {
			reject(err)
			return
		}
		settle(resolve, reject, onRejected(err))
	})
	return child
}

func settle[U any](resolve Resolve[U], reject Reject[U], value U, err error) {
	if err != nil {
		reject(err)
		return
	}
	resolve(value)
}

// Next chains a follow-up stage that only runs on fulfillment, forwarding
// rejection unchanged — the common case where a pipeline has one failure
// path and many success stages.
func Next[T, U any](c *Chain[T], onFulfilled func(T) (U, error)) *Chain[U] {
	return Then(c, onFulfilled, nil)
}
