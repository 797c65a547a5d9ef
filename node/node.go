// Package node implements the execution-tree node family: self-contained
// units that take an input, run user logic on their owning highway, and
// publish results to one or more output channels.
package node

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/task"
)

var nodeIDCounter atomic.Int32

func nextID() int32 { return nodeIDCounter.Add(1) }

// Progress is an optional progress-publication value type, published by
// a node's optional progress channel while long-running logic executes.
type Progress struct {
	NodeID  int32
	Label   string
	Percent int
}

// unsubscriber is satisfied by *channel.Subscription[T] for any T,
// letting base track heterogeneous in-channel subscriptions by label
// without itself being generic over every upstream value type.
type unsubscriber interface{ Unsubscribe() }

// clearer is satisfied by *channel.Channel[T] for any T.
type clearer interface{ Clear() }

// base is the common state every node kind embeds: an id, the highway
// it runs on, and the subscription bookkeeping backing the four
// delete_* teardown operations. Mutating operations dispatch through the
// owning highway rather than locking directly, keeping subscriber-set
// mutation single-writer the same way a highway's own timer/mailbox
// state is — see highway.Highway's worker loop.
type base struct {
	id      int32
	highway *highway.Proxy

	mu          sync.Mutex
	inSubs      map[string][]unsubscriber
	outChans    map[string]clearer
	progressOut *channel.Channel[Progress]
}

func newBase(proxy *highway.Proxy) base {
	return base{
		id:       nextID(),
		highway:  proxy,
		inSubs:   make(map[string][]unsubscriber),
		outChans: make(map[string]clearer),
	}
}

// ID returns the node's process-unique identifier.
func (b *base) ID() int32 { return b.id }

// Highway returns the proxy this node dispatches its logic through.
func (b *base) Highway() *highway.Proxy { return b.highway }

func (b *base) registerInSub(label string, sub unsubscriber) {
	b.mu.Lock()
	b.inSubs[label] = append(b.inSubs[label], sub)
	b.mu.Unlock()
}

func (b *base) registerOutChannel(label string, ch clearer) {
	b.mu.Lock()
	b.outChans[label] = ch
	b.mu.Unlock()
}

// ProgressOut lazily creates and returns the node's optional progress
// channel, publishing a Progress value each time logic reports partial
// completion via publishProgress — mirrors
// FutureNodeWithProgressPublisher's publish_progress_state_callback.
// Subscribing has no effect unless the node's logic actually calls the
// progress callback it's given (e.g. Logic4 on Default).
func (b *base) ProgressOut() *channel.Channel[Progress] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.progressOut == nil {
		b.progressOut = channel.New[Progress]()
		b.outChans["progress"] = b.progressOut
	}
	return b.progressOut
}

// publishProgress delivers a Progress value to the progress channel, if
// one has been created via ProgressOut. A no-op otherwise, so logic
// doesn't need to check whether anyone is listening.
func (b *base) publishProgress(percent int, label string) {
	b.mu.Lock()
	ch := b.progressOut
	b.mu.Unlock()
	if ch != nil {
		ch.Publish(Progress{NodeID: b.id, Label: label, Percent: percent})
	}
}

// DeleteInChannelsByLabel unsubscribes every in-channel subscription
// registered under label. The teardown itself runs on the node's
// highway, so it cannot race a concurrently-arriving publish that's
// already been dispatched there.
func (b *base) DeleteInChannelsByLabel(label string) {
	b.dispatch(func() {
		b.mu.Lock()
		subs := b.inSubs[label]
		delete(b.inSubs, label)
		b.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
	})
}

// DeleteAllInChannels unsubscribes every in-channel subscription this
// node holds, across all labels.
func (b *base) DeleteAllInChannels() {
	b.dispatch(func() {
		b.mu.Lock()
		all := b.inSubs
		b.inSubs = make(map[string][]unsubscriber)
		b.mu.Unlock()
		for _, subs := range all {
			for _, s := range subs {
				s.Unsubscribe()
			}
		}
	})
}

// DeleteOutChannelsByLabel clears (drops every subscriber of) the
// out-channel registered under label.
func (b *base) DeleteOutChannelsByLabel(label string) {
	b.dispatch(func() {
		b.mu.Lock()
		ch, ok := b.outChans[label]
		delete(b.outChans, label)
		b.mu.Unlock()
		if ok {
			ch.Clear()
		}
	})
}

// DeleteAllOutChannels clears every out-channel this node owns.
func (b *base) DeleteAllOutChannels() {
	b.dispatch(func() {
		b.mu.Lock()
		all := b.outChans
		b.outChans = make(map[string]clearer)
		b.mu.Unlock()
		for _, ch := range all {
			ch.Clear()
		}
	})
}

// dispatch runs fn on the node's highway, blocking the caller until it
// completes (so DeleteAllInChannels etc. observe their effect
// immediately after returning). Falls back to a direct call if the node
// has no highway (e.g. a base used in isolation) or the highway is
// already gone — Execute onto a dead highway drops silently and would
// otherwise leave the caller blocked forever waiting on a done signal
// that will never arrive.
func (b *base) dispatch(fn func()) {
	if b.highway == nil || !b.highway.Alive() {
		fn()
		return
	}
	done := make(chan struct{})
	_ = b.highway.Execute(context.Background(), task.New(func() {
		defer close(done)
		fn()
	}))
	<-done
}

// IntakeMode selects how a node receives published values from an
// upstream channel: inline (direct call on the publisher's goroutine) or
// rescheduled (posted as a task to the node's own highway).
type IntakeMode int

const (
	// Inline delivers published values synchronously on the publisher's
	// goroutine. The node's logic runs there, not on its own highway —
	// appropriate when the publisher is already known to be single-writer
	// with respect to this node.
	Inline IntakeMode = iota
	// Rescheduled posts each published value as a task to the node's own
	// highway, serializing it against the node's other intake and
	// teardown operations.
	Rescheduled
)
