// Package highway implements the worker that every node and channel
// ultimately dispatches through: a single goroutine draining a bounded
// mailbox of fire-and-forget tasks and a timer stack of reschedulable
// tasks, with an optional stall watchdog and multi-highway pooling
// (Plant, Manager).
package highway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-highway/internal/logging"
	"github.com/joeycumines/go-highway/mailbox"
	"github.com/joeycumines/go-highway/task"
)

// whatRunning tags what the worker is doing right now, for the watchdog
// and for diagnostics.
type whatRunning int32

const (
	whatSleep whatRunning = iota
	whatTimerTask
	whatMailboxTask
)

// Highway owns one worker goroutine, one Mailbox[task.Task], and one
// timer stack of reschedulable tasks. It is constructed already running;
// Destroy stops it.
type Highway struct {
	name                 string
	mb                   *mailbox.Mailbox[task.Task]
	shared               *mailbox.Mailbox[task.Task]
	exceptionHandler      ExceptionHandler
	maxTaskExecutionTime time.Duration
	logger               *logging.Logger

	state *fastState
	runID atomic.Uint64

	timerMu         sync.Mutex
	timers          []task.Reschedulable
	nextScheduleAt  atomic.Int64 // unix nano; 0 means "no timers"

	whatRunningNow atomic.Int32
	taskStartedAt  atomic.Int64 // unix nano

	maxRepairs    int
	repairLimiter repairLimiter
	repairs       atomic.Int64

	lifecycleMu  sync.Mutex
	pendingJoins []chan struct{}
	workerDone   chan struct{}
}

// repairLimiter is the subset of *catrate.Limiter the watchdog needs,
// narrowed to keep the watchdog unit-testable without a real limiter.
type repairLimiter interface {
	Allow(category any) (time.Time, bool)
}

// New constructs and starts a Highway.
func New(opts ...Option) *Highway {
	c := resolveConfig(opts)
	var limiter repairLimiter
	if c.repairLimiter != nil {
		limiter = c.repairLimiter
	}

	h := &Highway{
		name:                 c.name,
		mb:                   mailbox.New[task.Task](c.mailboxCapacity),
		shared:               c.sharedMailbox,
		exceptionHandler:     c.exceptionHandler,
		maxTaskExecutionTime: c.maxTaskExecutionTime,
		logger:               c.logger,
		state:                newFastState(),
		maxRepairs:           c.maxRepairs,
		repairLimiter:        limiter,
		workerDone:           make(chan struct{}),
	}
	h.runID.Store(1)
	h.state.Store(StateRunning)
	go h.run(h.workerDone, h.runID.Load())
	return h
}

// Name returns the highway's diagnostic name.
func (h *Highway) Name() string { return h.name }

// RunIDCounter returns the highway's generation counter. It advances on
// every watchdog-triggered restart; task.BindGeneration binds a
// CancelToken against it to detect restarts.
func (h *Highway) RunIDCounter() *atomic.Uint64 { return &h.runID }

// TryExecute submits a best-effort task: returns false if the mailbox is
// at capacity or the highway is shutting down.
func (h *Highway) TryExecute(t task.Task) bool {
	if !h.state.CanAcceptWork() {
		return false
	}
	return h.mb.TrySend(t)
}

// Execute submits a task, blocking until a holder is free or the highway
// shuts down (in which case the task is silently dropped, per spec).
func (h *Highway) Execute(ctx context.Context, t task.Task) error {
	if !h.state.CanAcceptWork() {
		return nil
	}
	return h.mb.Send(ctx, t)
}

// Schedule adds a reschedulable (timer) task, waking the worker if the
// new task's deadline is sooner than the currently-tracked one.
func (h *Highway) Schedule(r task.Reschedulable) {
	h.timerMu.Lock()
	h.timers = append(h.timers, r)
	h.timerMu.Unlock()
	h.bumpNextScheduleAt(r.Schedule.NextExecutionTime)
	// A timer-only wake has no mailbox signal to piggyback on; the
	// worker's wait has a bounded timeout precisely so a fresh timer is
	// never starved for longer than one wait cycle. Nothing further to
	// do here.
}

func (h *Highway) bumpNextScheduleAt(candidate int64) {
	for {
		cur := h.nextScheduleAt.Load()
		if cur != 0 && cur <= candidate {
			return
		}
		if h.nextScheduleAt.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

// run is the worker loop. doneCh is closed when this particular worker
// goroutine exits (used by Destroy to join every replaced worker, and by
// the watchdog to park a stuck worker's completion channel rather than
// blocking on it).
func (h *Highway) run(doneCh chan struct{}, myRunID uint64) {
	defer close(doneCh)
	defer func() {
		// Only the current worker marks the highway terminated; a worker
		// the watchdog replaced exits without touching the state.
		if h.runID.Load() == myRunID {
			h.state.Store(StateTerminated)
		}
	}()

	for {
		if h.runID.Load() != myRunID {
			// Watchdog replaced us; abandon without touching shared state
			// further (a replacement worker already owns the mailbox).
			return
		}
		if h.state.Load() == StateTerminating && h.drainedOnce(myRunID) {
			return
		}

		now := time.Now()
		h.runTimerPhase(now, myRunID)
		if h.runMailboxPhase(myRunID) {
			continue
		}

		if h.state.Load() == StateTerminating {
			return
		}

		h.wait(now)
	}
}

// drainedOnce lets shutdown finish any already-queued work once, rather
// than discarding it the instant Destroy is called.
func (h *Highway) drainedOnce(myRunID uint64) bool {
	h.runMailboxPhase(myRunID)
	return true
}

func (h *Highway) runTimerPhase(now time.Time, myRunID uint64) {
	nextAt := h.nextScheduleAt.Load()
	if nextAt == 0 || now.UnixNano() < nextAt {
		return
	}

	h.timerMu.Lock()
	due := h.timers
	h.timers = nil
	h.timerMu.Unlock()

	var surviving []task.Reschedulable
	var newNext int64

	for _, r := range due {
		if h.runID.Load() != myRunID {
			// Abandoned mid-phase: put everything back unexamined so the
			// replacement worker sees it.
			surviving = append(surviving, r)
			continue
		}
		if now.UnixNano() < r.Schedule.NextExecutionTime {
			surviving = append(surviving, r)
			if newNext == 0 || r.Schedule.NextExecutionTime < newNext {
				newNext = r.Schedule.NextExecutionTime
			}
			continue
		}

		r.Schedule.RescheduleFlag = false
		h.whatRunningNow.Store(int32(whatTimerTask))
		h.taskStartedAt.Store(time.Now().UnixNano())
		h.runReschedulable(&r)

		if r.Schedule.RescheduleFlag {
			surviving = append(surviving, r)
			if newNext == 0 || r.Schedule.NextExecutionTime < newNext {
				newNext = r.Schedule.NextExecutionTime
			}
		}
	}

	h.whatRunningNow.Store(int32(whatSleep))

	if len(surviving) > 0 {
		h.timerMu.Lock()
		h.timers = append(surviving, h.timers...)
		h.timerMu.Unlock()
	}

	// A Schedule call landing concurrently with this phase already ran
	// bumpNextScheduleAt against the value we read into nextAt, possibly
	// to an earlier deadline than anything in this batch. Clobbering that
	// with an unconditional Store would lose it (a newly-scheduled timer
	// would then go unserviced until some later Schedule happens to bump
	// the counter again). Merge instead: a non-zero newNext goes through
	// the same min-CAS bumpNextScheduleAt uses for Schedule itself, and a
	// zero newNext (this batch left nothing pending) only resets to "no
	// timers" if nothing concurrent has already moved it off nextAt.
	if newNext != 0 {
		h.bumpNextScheduleAt(newNext)
	} else {
		h.nextScheduleAt.CompareAndSwap(nextAt, 0)
	}
}

// runMailboxPhase drains every task currently queued (own mailbox, then
// one opportunistic item from a shared plant mailbox), returning true if
// it ran at least one task.
func (h *Highway) runMailboxPhase(myRunID uint64) bool {
	ranAny := false
	for {
		t, ok := h.mb.TryDrain()
		if !ok {
			break
		}
		ranAny = true
		if h.runID.Load() != myRunID {
			return ranAny
		}
		h.whatRunningNow.Store(int32(whatMailboxTask))
		h.taskStartedAt.Store(time.Now().UnixNano())
		h.runTask(t)
		h.whatRunningNow.Store(int32(whatSleep))

		if h.state.Load() == StateTerminating {
			return ranAny
		}
	}

	if h.shared != nil {
		t, ok := h.shared.TryDrain()
		if ok {
			ranAny = true
			h.whatRunningNow.Store(int32(whatMailboxTask))
			h.taskStartedAt.Store(time.Now().UnixNano())
			h.runTask(t)
			h.whatRunningNow.Store(int32(whatSleep))
		}
	}

	return ranAny
}

// runTask invokes t, recovering any panic and routing it (and any
// max-task-execution-time overrun) to the exception handler.
func (h *Highway) runTask(t task.Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.exceptionHandler(h.name, t, r)
		}
		if h.maxTaskExecutionTime > 0 {
			if elapsed := time.Since(start); elapsed > h.maxTaskExecutionTime {
				h.exceptionHandler(h.name, t, fmt.Errorf("task exceeded max execution time: %s > %s", elapsed, h.maxTaskExecutionTime))
			}
		}
	}()
	t.Run()
}

// runReschedulable invokes a timer task's body with its own Schedule,
// recovering panics the same way runTask does.
func (h *Highway) runReschedulable(r *task.Reschedulable) {
	start := time.Now()
	tag := task.Task{File: r.File, Line: r.Line}
	defer func() {
		if rec := recover(); rec != nil {
			h.exceptionHandler(h.name, tag, rec)
		}
		if h.maxTaskExecutionTime > 0 {
			if elapsed := time.Since(start); elapsed > h.maxTaskExecutionTime {
				h.exceptionHandler(h.name, tag, fmt.Errorf("task exceeded max execution time: %s > %s", elapsed, h.maxTaskExecutionTime))
			}
		}
	}()
	if r.Run != nil {
		r.Run(&r.Schedule)
	}
}

// wait blocks until the next scheduled timer or a short bound, whichever
// is sooner, giving the loop a chance to re-check mailbox/timer state
// without starving either. The mailbox's own Drain calls are what
// actually block waiting for intake; this wait only covers the
// otherwise-idle gap between phases when both queues were empty.
func (h *Highway) wait(now time.Time) {
	timeout := 50 * time.Millisecond
	if nextAt := h.nextScheduleAt.Load(); nextAt != 0 {
		if d := time.Unix(0, nextAt).Sub(now); d > 0 && d < timeout {
			timeout = d
		}
	}

	h.state.TryTransition(StateRunning, StateSleeping)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t, ok := h.mb.Drain(ctx)
	cancel()
	h.state.TryTransition(StateSleeping, StateRunning)

	if ok {
		h.whatRunningNow.Store(int32(whatMailboxTask))
		h.taskStartedAt.Store(time.Now().UnixNano())
		h.runTask(t)
		h.whatRunningNow.Store(int32(whatSleep))
	}
}

// SelfCheck is the watchdog's external poll: if the worker has been
// running the same task for longer than maxTaskExecutionTime, it bumps
// the run-id (so the stuck task's bound CancelTokens observe
// cancellation) and spawns a replacement worker. Returns true if a
// restart was triggered.
//
// Callers typically invoke this periodically (see RunWatchdog).
func (h *Highway) SelfCheck() bool {
	if h.maxTaskExecutionTime <= 0 {
		return false
	}
	if whatRunning(h.whatRunningNow.Load()) == whatSleep {
		return false
	}
	started := h.taskStartedAt.Load()
	if started == 0 || time.Since(time.Unix(0, started)) <= h.maxTaskExecutionTime {
		return false
	}

	if h.repairLimiter != nil {
		if _, ok := h.repairLimiter.Allow(h.name); !ok {
			h.logger.Err().Str("highway", h.name).Log("watchdog: repair rate limit exceeded, not restarting")
			return false
		}
	}
	if h.maxRepairs > 0 && h.repairs.Load() >= int64(h.maxRepairs) {
		h.logger.Err().Str("highway", h.name).Int64("repairs", h.repairs.Load()).Log("watchdog: max repairs reached, refusing further restarts")
		return false
	}

	newRunID := h.runID.Add(1)
	h.repairs.Add(1)

	h.logger.Err().Str("highway", h.name).Uint64("run_id", newRunID).Log("watchdog: task stalled, spawning replacement worker")

	h.lifecycleMu.Lock()
	h.pendingJoins = append(h.pendingJoins, h.workerDone)
	h.workerDone = make(chan struct{})
	newDone := h.workerDone
	h.lifecycleMu.Unlock()

	go h.run(newDone, newRunID)

	h.exceptionHandler(h.name, task.Task{}, fmt.Errorf("watchdog: task stalled for %s, replacement worker spawned", time.Since(time.Unix(0, started))))
	return true
}

// RunWatchdog polls SelfCheck every interval until ctx is cancelled. It
// is the caller's job to start this (typically the Manager does, for
// every highway it owns); a Highway created standalone with
// WithMaxTaskExecutionTime but without a watchdog goroutine still times
// tasks, it just never self-repairs.
func (h *Highway) RunWatchdog(ctx context.Context, interval time.Duration) {
	if h.maxTaskExecutionTime <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SelfCheck()
		}
	}
}

// Destroy stops the highway: marks it terminating, closes the mailbox
// (waking the worker), joins the current worker, then joins every
// watchdog-parked replaced worker. Idempotent.
func (h *Highway) Destroy() {
	if !h.state.TryTransition(StateRunning, StateTerminating) {
		h.state.TryTransition(StateSleeping, StateTerminating)
	}
	h.mb.Close()

	h.lifecycleMu.Lock()
	current := h.workerDone
	h.lifecycleMu.Unlock()
	<-current

	h.lifecycleMu.Lock()
	pending := h.pendingJoins
	h.pendingJoins = nil
	h.lifecycleMu.Unlock()
	for _, done := range pending {
		<-done
	}
}

// Load is a diagnostic snapshot, not used for scheduling decisions
// internally (Manager tracks load separately via leases).
func (h *Highway) Load() int {
	return h.mb.Len()
}
