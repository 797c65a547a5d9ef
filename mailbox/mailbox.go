// Package mailbox implements the bounded, multi-producer multi-consumer
// task queue that sits behind every highway: a producer-safe intake stack
// feeding a mutex-guarded consumer work queue, backed by a capacity-
// bounded holder.Pool.
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/holder"
	"golang.org/x/sync/semaphore"
)

// Mailbox is a bounded, multi-consumer-safe MPSC-intake queue of values of
// T: many producers push through the lock-free intake stack, and any
// number of consumers may call Drain/TryDrain concurrently (a Plant's
// worker pool, plus every highway leased from it opportunistically
// draining the same shared mailbox via TryDrain).
//
// Invariant: every non-destroyed holder is in exactly one of the free
// pool, the intake stack, or the consumer work queue.
type Mailbox[T any] struct {
	pool   *holder.Pool[T]
	intake holder.Stack[T]

	// intakeSignal/freeSignal each carry at most one outstanding token,
	// the same "dedupe with an atomic flag, post via a size-1 signal"
	// shape as eventloop.Loop's wakeUpSignalPending + fastWakeupCh.
	intakeSignal  *semaphore.Weighted
	intakePending atomic.Bool
	freeSignal    *semaphore.Weighted
	freePending   atomic.Bool

	// consumerMu guards workHead and the intake-detach-and-reverse
	// handoff below: unlike the C++ original's thread-safe work_queue_,
	// this was originally a single-consumer unrolled work queue, but
	// Plant runs multiple worker goroutines against one Mailbox, and
	// Manager additionally has every leased highway opportunistically
	// TryDrain the shared Plant mailbox, so the consumer side must
	// tolerate concurrent callers too.
	consumerMu sync.Mutex
	workHead   *holder.Holder[T]

	running atomic.Bool
}

// New constructs a Mailbox bounded to capacity concurrently-live holders.
// A non-positive capacity means unbounded.
func New[T any](capacity int) *Mailbox[T] {
	m := &Mailbox[T]{
		pool:         holder.NewPool[T](capacity),
		intakeSignal: semaphore.NewWeighted(1),
		freeSignal:   semaphore.NewWeighted(1),
	}
	m.running.Store(true)
	// Both signals start fully acquired: a token exists only once notify
	// has posted one, so notify's Release never exceeds what was acquired.
	m.intakeSignal.TryAcquire(1)
	m.freeSignal.TryAcquire(1)
	return m
}

func notify(sem *semaphore.Weighted, pending *atomic.Bool) {
	if pending.CompareAndSwap(false, true) {
		sem.Release(1)
	}
}

// TrySend is the best-effort send: acquires a free holder, writes value,
// pushes it onto intake, and signals the consumer. Returns false without
// enqueuing if the mailbox is full or not running.
func (m *Mailbox[T]) TrySend(value T) bool {
	if !m.running.Load() {
		return false
	}
	h, ok := m.pool.Get()
	if !ok {
		return false
	}
	h.Value = value
	m.intake.Push(h)
	notify(m.intakeSignal, &m.intakePending)
	return true
}

// Send is the blocking send: like TrySend, but when the pool is at
// capacity it waits on the free-holder signal until either a holder frees
// up or the mailbox stops running, in which case the message is silently
// dropped (per spec.md §4.2/§7 "submission after shutdown").
func (m *Mailbox[T]) Send(ctx context.Context, value T) error {
	for {
		if !m.running.Load() {
			// Pass the wake-up on, so every other blocked Send returns too.
			notify(m.freeSignal, &m.freePending)
			return nil
		}
		if h, ok := m.pool.Get(); ok {
			h.Value = value
			m.intake.Push(h)
			notify(m.intakeSignal, &m.intakePending)
			return nil
		}
		if err := m.freeSignal.Acquire(ctx, 1); err != nil {
			return err
		}
		m.freePending.Store(false)
	}
}

// Drain returns the next task to run, blocking until one is available or
// the mailbox stops running (in which case ok is false). It implements
// spec.md §4.2's drain: if the consumer's local work queue is empty, the
// whole intake stack is detached and relinked into FIFO order in one
// pass, and the head of that is returned.
func (m *Mailbox[T]) Drain(ctx context.Context) (value T, ok bool) {
	for {
		m.consumerMu.Lock()
		if m.workHead != nil {
			h := m.workHead
			m.workHead = h.Next()
			value = h.Value
			m.consumerMu.Unlock()
			m.free(h)
			return value, true
		}

		if chain := m.intake.DetachAll(); chain != nil {
			m.workHead = reverse(chain)
			m.consumerMu.Unlock()
			continue
		}
		m.consumerMu.Unlock()

		if !m.running.Load() {
			// Pass the wake-up on, so every other blocked Drain returns too.
			notify(m.intakeSignal, &m.intakePending)
			var zero T
			return zero, false
		}

		if err := m.intakeSignal.Acquire(ctx, 1); err != nil {
			var zero T
			return zero, false
		}
		m.intakePending.Store(false)
	}
}

// TryDrain is Drain's non-blocking counterpart: it returns immediately
// with ok=false rather than waiting on the intake signal when nothing is
// queued. Used by a highway's mailbox phase, which wants to drain
// everything currently available without blocking the timer/shared-
// mailbox phases that follow.
func (m *Mailbox[T]) TryDrain() (value T, ok bool) {
	m.consumerMu.Lock()

	if m.workHead != nil {
		h := m.workHead
		m.workHead = h.Next()
		value = h.Value
		m.consumerMu.Unlock()
		m.free(h)
		return value, true
	}

	if chain := m.intake.DetachAll(); chain != nil {
		m.workHead = reverse(chain)
		h := m.workHead
		m.workHead = h.Next()
		value = h.Value
		m.consumerMu.Unlock()
		m.free(h)
		return value, true
	}

	m.consumerMu.Unlock()
	var zero T
	return zero, false
}

// reverse relinks a LIFO chain (as produced by Stack.DetachAll, newest
// first) into FIFO order (oldest first), so Drain serves tasks in the
// order producers sent them.
func reverse[T any](chain *holder.Holder[T]) *holder.Holder[T] {
	var prev *holder.Holder[T]
	for chain != nil {
		next := chain.Next()
		chain.SetNext(prev)
		prev = chain
		chain = next
	}
	return prev
}

// free clears h's payload and returns it to the pool, signaling one
// waiter on the free-holder signal.
func (m *Mailbox[T]) free(h *holder.Holder[T]) {
	h.SetNext(nil)
	m.pool.Put(h)
	notify(m.freeSignal, &m.freePending)
}

// Close stops the mailbox: running sends return false/drop silently, and
// any blocked Drain/Send wakes and returns. Close is idempotent.
func (m *Mailbox[T]) Close() {
	if m.running.CompareAndSwap(true, false) {
		notify(m.intakeSignal, &m.intakePending)
		notify(m.freeSignal, &m.freePending)
	}
}

// Running reports whether the mailbox still accepts sends.
func (m *Mailbox[T]) Running() bool { return m.running.Load() }

// Len reports the number of tasks in the consumer work queue (for
// diagnostics/metrics only — it is not atomic with respect to Send/Drain).
// Tasks still on the intake stack, not yet moved to the work queue by a
// Drain/TryDrain, are not counted.
func (m *Mailbox[T]) Len() int {
	m.consumerMu.Lock()
	defer m.consumerMu.Unlock()
	n := 0
	for h := m.workHead; h != nil; h = h.Next() {
		n++
	}
	return n
}
