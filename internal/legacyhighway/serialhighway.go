// Package legacyhighway is a trimmed, rewritten adaptation of one of the
// teacher's own retired event-loop prototypes
// (eventloop/internal/alternatethree), kept in-tree as a documented
// predecessor of highway.Highway: the "SerialHighway" spec.md's design
// notes mention as an earlier, superseded single-thread dispatcher.
//
// It is not imported by highway, node, channel, or future — it exists
// purely as a worked example of the design it was grown out of, exercised
// only by its own test.
package legacyhighway

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/task"
)

const chunkSize = 128

var chunkPool = sync.Pool{New: func() any { return &chunk{} }}

// chunk is a fixed-size node in the ingress queue's chunked linked list,
// pooled to avoid per-task allocation under sustained load.
type chunk struct {
	tasks   [chunkSize]task.Task
	next    *chunk
	readPos int
	pos     int
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos, c.readPos, c.next = 0, 0, nil
	return c
}

func returnChunk(c *chunk) {
	for i := range c.tasks {
		c.tasks[i] = task.Task{}
	}
	c.pos, c.readPos, c.next = 0, 0, nil
	chunkPool.Put(c)
}

// ingressQueue is a chunked linked-list task queue. Not thread-safe on
// its own: callers serialize access via SerialHighway.mu.
type ingressQueue struct {
	head, tail *chunk
	length     int
}

func (q *ingressQueue) push(t task.Task) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == chunkSize {
		next := newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
}

func (q *ingressQueue) pop() (task.Task, bool) {
	if q.head == nil || q.head.readPos >= q.head.pos {
		if q.head == nil {
			return task.Task{}, false
		}
		if q.head == q.tail {
			q.head.pos, q.head.readPos = 0, 0
			return task.Task{}, false
		}
		old := q.head
		q.head = q.head.next
		returnChunk(old)
		if q.head.readPos >= q.head.pos {
			return task.Task{}, false
		}
	}

	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = task.Task{}
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos && q.head == q.tail {
		q.head.pos, q.head.readPos = 0, 0
	}
	return t, true
}

const (
	stateRunning int32 = iota
	stateSleeping
	stateTerminating
)

// SerialHighway is a single-goroutine task dispatcher predating
// highway.Highway: one mutex-guarded chunked ingress queue plus a
// check-then-sleep wake protocol (a buffered wake channel in place of the
// teacher's OS-specific poller, since this runtime has no I/O readiness
// concern — only task dispatch), instead of highway.Highway's
// mailbox.Mailbox-backed lock-free design.
type SerialHighway struct {
	mu    sync.Mutex
	queue ingressQueue

	state atomic.Int32
	wake  chan struct{}
	done  chan struct{}
}

// NewSerialHighway constructs a SerialHighway. Call Run to start
// processing; Stop to drain and terminate.
func NewSerialHighway() *SerialHighway {
	return &SerialHighway{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Submit enqueues t and wakes the dispatcher goroutine if it was
// sleeping. Safe to call from any goroutine.
func (h *SerialHighway) Submit(t task.Task) {
	h.mu.Lock()
	h.queue.push(t)
	h.mu.Unlock()

	if h.state.Load() == stateSleeping {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

// Run drains the ingress queue on the calling goroutine until Stop is
// called. Intended to be run in its own goroutine.
func (h *SerialHighway) Run() {
	defer close(h.done)
	for {
		if h.drainOnce() {
			return
		}
		if h.checkThenSleep() {
			return
		}
	}
}

// drainOnce pops and runs every task currently queued, returning true if
// Stop has been requested.
func (h *SerialHighway) drainOnce() bool {
	for {
		h.mu.Lock()
		t, ok := h.queue.pop()
		h.mu.Unlock()
		if !ok {
			return h.state.Load() == stateTerminating
		}
		t.Run()
	}
}

// checkThenSleep implements the check-then-sleep protocol: transition to
// sleeping, then re-check the queue under the same lock Submit enqueues
// under, aborting the sleep if a task raced in (a Submit that enqueues
// after the re-check sees the sleeping state and sends a wake). This is the same
// shape as the teacher's poll()'s StateRunning->StateSleeping CAS plus a
// lock-guarded length re-check, minus the OS poller (there is nothing to
// poll here besides the queue itself).
func (h *SerialHighway) checkThenSleep() bool {
	if !h.state.CompareAndSwap(stateRunning, stateSleeping) {
		return h.state.Load() == stateTerminating
	}

	h.mu.Lock()
	pending := h.queue.length > 0
	h.mu.Unlock()

	if pending {
		h.state.CompareAndSwap(stateSleeping, stateRunning)
		return false
	}

	select {
	case <-h.wake:
	case <-h.done:
	}
	h.state.CompareAndSwap(stateSleeping, stateRunning)
	return false
}

// Stop requests termination and blocks until Run has drained any
// remaining queued tasks and returned. Idempotent.
func (h *SerialHighway) Stop() {
	if !h.state.CompareAndSwap(stateRunning, stateTerminating) {
		h.state.CompareAndSwap(stateSleeping, stateTerminating)
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
	<-h.done
}
