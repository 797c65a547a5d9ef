package highway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/lifecycle"
	"github.com/joeycumines/go-highway/task"
)

// Proxy is a non-owning handle to a Highway: a weak reference plus an
// optional release callback, so a Manager can account for load leased out
// to node constructors without the Highway itself knowing who's using
// it. Go has no destructors, so the release callback fires on an
// explicit Release call rather than on garbage collection — callers that
// lease a Proxy from a Manager must call Release when done with it.
type Proxy struct {
	protector lifecycle.Protector[Highway]
	onRelease func()
	once      sync.Once
}

// NewProxy wraps h in a Proxy. onRelease, if non-nil, runs exactly once,
// the first time Release is called.
func NewProxy(h *Highway, onRelease func()) *Proxy {
	return &Proxy{protector: lifecycle.Protect(h), onRelease: onRelease}
}

// TryExecute forwards to the locked Highway's TryExecute, or returns
// false if the highway is gone.
func (p *Proxy) TryExecute(t task.Task) bool {
	h, ok := p.protector.Lock()
	if !ok {
		return false
	}
	return h.TryExecute(t)
}

// Execute forwards to the locked Highway's Execute, or returns nil (a
// silent drop, consistent with posting to an already-shutdown highway)
// if the highway is gone.
func (p *Proxy) Execute(ctx context.Context, t task.Task) error {
	h, ok := p.protector.Lock()
	if !ok {
		return nil
	}
	return h.Execute(ctx, t)
}

// Schedule forwards to the locked Highway's Schedule; a no-op if the
// highway is gone.
func (p *Proxy) Schedule(r task.Reschedulable) {
	if h, ok := p.protector.Lock(); ok {
		h.Schedule(r)
	}
}

// Alive reports whether the underlying Highway is still reachable.
func (p *Proxy) Alive() bool {
	_, ok := p.protector.Lock()
	return ok
}

// RunGeneration returns the underlying Highway's run-id counter, for
// binding a task.CancelToken so a watchdog-triggered worker replacement
// invalidates work still checking Cancelled(). ok is false if the
// highway is gone.
func (p *Proxy) RunGeneration() (gen *atomic.Uint64, ok bool) {
	h, ok := p.protector.Lock()
	if !ok {
		return nil, false
	}
	return h.RunIDCounter(), true
}

// Release runs the proxy's on-release callback (typically: decrement
// load accounting in a Manager) exactly once.
func (p *Proxy) Release() {
	p.once.Do(func() {
		if p.onRelease != nil {
			p.onRelease()
		}
	})
}
