// Package task defines the unit of work dispatched by a highway: a
// type-erased callable tagged with its call site, plus the cancellation
// and rescheduling primitives nodes and the future chain build on.
package task

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Task is a single unit of work submitted to a highway.
//
// File/Line are captured at construction (via [New]) rather than at
// dispatch, so a panic recovered deep inside a highway's worker loop can
// still report where the work was *submitted* from, not just where it
// panicked.
type Task struct {
	// Runnable is the function to execute. A nil Runnable is a no-op.
	Runnable func()

	File string
	Line int
}

// New constructs a Task tagged with its caller's file/line.
func New(runnable func()) Task {
	t := Task{Runnable: runnable}
	if _, file, line, ok := runtime.Caller(1); ok {
		t.File, t.Line = file, line
	}
	return t
}

// String renders the task's call-site tag, for logging.
func (t Task) String() string {
	if t.File == "" {
		return "task(unknown)"
	}
	return fmt.Sprintf("task(%s:%d)", t.File, t.Line)
}

// Run invokes Runnable if non-nil. It does not itself recover panics —
// that is the dispatching highway's job, so exceptions flow through one
// place (see highway.ExceptionHandler).
func (t Task) Run() {
	if t.Runnable != nil {
		t.Runnable()
	}
}

// Reschedulable is timer-driven work, as opposed to the one-shot work
// submitted through a mailbox. Run receives a pointer to its own Schedule
// so the body can re-arm itself (set RescheduleFlag and a new
// NextExecutionTime) before returning; the highway's timer phase re-queues
// it only if RescheduleFlag is still true afterward.
type Reschedulable struct {
	Run      func(s *Schedule)
	Schedule Schedule

	File string
	Line int
}

// NewReschedulable constructs a Reschedulable tagged with its caller's
// file/line, armed to first run at firstExecutionTime.
func NewReschedulable(firstExecutionTime int64, run func(s *Schedule)) Reschedulable {
	r := Reschedulable{
		Run:      run,
		Schedule: Schedule{NextExecutionTime: firstExecutionTime},
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		r.File, r.Line = file, line
	}
	return r
}

// Schedule describes a task's next execution time and whether it
// reschedules itself after running.
type Schedule struct {
	// NextExecutionTime is a wall-clock deadline in Unix nanoseconds
	// (time.Time.UnixNano), the clock the owning highway's timer phase
	// compares it against.
	NextExecutionTime int64

	// RescheduleFlag, when true, tells the highway's timer phase to
	// re-enqueue this Reschedulable (with an updated NextExecutionTime)
	// after it runs, rather than discarding it.
	RescheduleFlag bool
}

// CancelToken is a single cooperative-cancellation signal usable by both
// one-shot tasks and reschedulable timers.
//
// It collapses what would otherwise be two independent signals — an
// explicit "keep executing" flag flipped by the owner, and a highway
// run-id mismatch detected by comparing a captured generation against the
// highway's current one after a stall-triggered worker replacement — into
// one type, so task bodies only ever need to check one thing:
// Cancelled(). A CancelToken carries its own atomic flag and,
// independently, can be bound to a run-id source; either cancelling it.
type CancelToken struct {
	cancelled  atomic.Bool
	generation *atomic.Uint64 // nil if not bound to a run-id source
	captured   uint64
}

// NewCancelToken returns a token that is only ever cancelled explicitly,
// via Cancel.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// BindGeneration ties the token to a highway's run-id counter: once the
// counter advances past the value captured now (e.g. because a stalled
// worker was replaced), the token reports cancelled even if Cancel was
// never called. This is how a watchdog-repaired highway invalidates work
// tagged with its old incarnation without walking every pending task.
func BindGeneration(generation *atomic.Uint64) *CancelToken {
	return &CancelToken{generation: generation, captured: generation.Load()}
}

// Cancel marks the token cancelled explicitly. Idempotent.
func (c *CancelToken) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether the token has been explicitly cancelled, or
// (if bound) whether the generation counter has advanced past the value
// captured at bind time.
func (c *CancelToken) Cancelled() bool {
	if c.cancelled.Load() {
		return true
	}
	if c.generation != nil && c.generation.Load() != c.captured {
		return true
	}
	return false
}
