// Package channel implements the publish/subscribe primitive nodes and
// futures are built on: a fan-out broadcaster with four orthogonal policy
// axes (producer concurrency, inline vs. rescheduled delivery, sticky
// replay, and dedup) rather than four separate types.
package channel

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
	"github.com/joeycumines/go-highway/task"
)

// Callback receives a published value. Returning false marks the
// subscription invalid; the channel prunes it on the same or a later
// publish pass.
type Callback[T any] func(value T) bool

// Channel is a broadcaster of values of type T to a set of subscriptions.
//
// ManyProducers selects the subscriber-set synchronization strategy:
// false assumes a single publishing goroutine and prunes dead
// subscriptions via unsynchronized iteration (fastest, but Publish must
// never be called concurrently); true guards the subscriber set with a
// mutex, safe for any number of concurrent publishers.
//
// Sticky retains the last published value (boxed behind an
// atomic.Pointer so storing it never blocks a concurrent Subscribe) and
// replays it to every new subscriber before Subscribe returns.
type Channel[T any] struct {
	manyProducers bool

	mu   sync.Mutex // only used when manyProducers
	subs []subscriberEntry[T]

	nextID atomic.Uint64

	sticky    bool
	stickyVal atomic.Pointer[T]

	registry *lifecycle.Registry[Subscription[T]]
}

// Option configures a Channel at construction.
type Option func(*channelConfig)

type channelConfig struct {
	manyProducers bool
	sticky        bool
}

// WithManyProducers enables mutex-guarded delivery for channels published
// to from more than one goroutine. The default is single-producer.
func WithManyProducers() Option {
	return func(c *channelConfig) { c.manyProducers = true }
}

// WithSticky enables replay-on-subscribe: the most recently published
// value is delivered to every new subscriber immediately, before
// Subscribe returns.
func WithSticky() Option {
	return func(c *channelConfig) { c.sticky = true }
}

// New constructs a Channel.
func New[T any](opts ...Option) *Channel[T] {
	c := &channelConfig{}
	for _, o := range opts {
		o(c)
	}
	return &Channel[T]{
		manyProducers: c.manyProducers,
		sticky:        c.sticky,
		registry:      lifecycle.NewRegistry[Subscription[T]](),
	}
}

// Scavenge incrementally inspects up to batchSize weak subscriptions for
// collection or invalidation and prunes the live set, without waiting for
// the next Publish to do it. Intended to be called periodically (e.g. from
// a highway watchdog tick) so a channel that's rarely published to doesn't
// accumulate dead weak subscriptions indefinitely between publishes.
func (c *Channel[T]) Scavenge(batchSize int) {
	c.registry.Scavenge(batchSize, func(sub *Subscription[T]) bool {
		return !sub.valid.Load()
	})

	if c.manyProducers {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	live := c.subs[:0]
	for _, e := range c.subs {
		if _, ok := e.get(); ok {
			live = append(live, e)
		}
	}
	c.subs = live
}

// Clear unsubscribes every current subscriber, e.g. to tear down a
// node's out-channel on delete_all_out_channels. Subscriptions added
// concurrently with Clear may or may not observe it, same as any other
// single/many-producer race on the subscriber set.
func (c *Channel[T]) Clear() {
	if c.manyProducers {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	for _, e := range c.subs {
		if sub, ok := e.get(); ok {
			sub.Unsubscribe()
		}
	}
	c.subs = nil
}

// Publish delivers value to every live subscription, per each
// subscription's own inline/rescheduled, dedup, and send_may_fail
// settings. Dead subscriptions (weak subscriptions whose owner was
// collected, or ones whose callback last returned false) are pruned from
// the live set during the same pass.
func (c *Channel[T]) Publish(value T) {
	if c.sticky {
		v := value
		c.stickyVal.Store(&v)
	}

	if c.manyProducers {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = deliverAndPrune(c.subs, value)
		return
	}
	c.subs = deliverAndPrune(c.subs, value)
}

func deliverAndPrune[T any](subs []subscriberEntry[T], value T) []subscriberEntry[T] {
	live := subs[:0]
	for _, e := range subs {
		sub, ok := e.get()
		if !ok {
			continue
		}
		if sub.deliver(value) {
			live = append(live, e)
		}
	}
	return live
}

// SubscribeOption configures a single Subscription.
type SubscribeOption[T any] func(*Subscription[T])

// WithHighway selects rescheduled delivery: the callback runs as a task
// posted to proxy instead of synchronously on the publisher's goroutine.
// Without this option delivery is inline.
func WithHighway[T any](proxy *highway.Proxy) SubscribeOption[T] {
	return func(s *Subscription[T]) { s.highway = proxy }
}

// WithSendMayFail controls what a rescheduled delivery does when the
// subscription highway's mailbox is at capacity: true drops the message,
// false (the default) blocks until a holder frees. Meaningless for
// inline subscriptions.
func WithSendMayFail[T any](mayFail bool) SubscribeOption[T] {
	return func(s *Subscription[T]) { s.sendMayFail = mayFail }
}

// WithDedup suppresses delivery when the new value equals the last value
// actually delivered to this subscription. A nil equal uses
// reflect.DeepEqual.
func WithDedup[T any](equal func(a, b T) bool) SubscribeOption[T] {
	if equal == nil {
		equal = reflectDeepEqual[T]
	}
	return func(s *Subscription[T]) { s.dedup, s.equal = true, equal }
}

// WithWeak makes the channel hold only a weak reference to the returned
// Subscription: the caller must keep it alive (e.g. assigned to a field)
// for delivery to continue. Once it's collected, the channel prunes it
// on the next Publish. Without this option the channel owns a strong
// reference and the subscription lives until Unsubscribe is called.
func WithWeak[T any]() SubscribeOption[T] {
	return func(s *Subscription[T]) { s.weak = true }
}

func reflectDeepEqual[T any](a, b T) bool { return reflect.DeepEqual(a, b) }

// Subscribe registers callback for delivery and returns its
// Subscription. If the channel is sticky and a value has already been
// published, that value is delivered synchronously before Subscribe
// returns (and recorded as this subscription's last-delivered value for
// dedup purposes).
func (c *Channel[T]) Subscribe(callback Callback[T], opts ...SubscribeOption[T]) *Subscription[T] {
	sub := &Subscription[T]{
		id:       c.nextID.Add(1),
		callback: callback,
	}
	sub.valid.Store(true)
	for _, o := range opts {
		o(sub)
	}

	entry := subscriberEntry[T]{weak: sub.weak}
	if sub.weak {
		entry.protector = lifecycle.Protect(sub)
		c.registry.Register(sub)
	} else {
		entry.strong = sub
	}

	if c.manyProducers {
		c.mu.Lock()
		c.subs = append(c.subs, entry)
		c.mu.Unlock()
	} else {
		c.subs = append(c.subs, entry)
	}

	if c.sticky {
		if v := c.stickyVal.Load(); v != nil {
			sub.deliver(*v)
		}
	}

	return sub
}

// subscriberEntry is how the channel's live set holds a subscription:
// either strongly (channel-owned lifetime) or weakly (caller-owned
// lifetime, pruned once collected), mirroring lifecycle.Protector's use
// elsewhere for subscription/task lifetime guards.
type subscriberEntry[T any] struct {
	weak      bool
	strong    *Subscription[T]
	protector lifecycle.Protector[Subscription[T]]
}

func (e subscriberEntry[T]) get() (*Subscription[T], bool) {
	if !e.weak {
		if e.strong == nil || !e.strong.valid.Load() {
			return nil, false
		}
		return e.strong, true
	}
	sub, ok := e.protector.Lock()
	if !ok || !sub.valid.Load() {
		return nil, false
	}
	return sub, true
}

// Subscription is a single channel subscriber: its callback plus the
// delivery policy (inline vs. rescheduled, dedup) chosen at Subscribe
// time.
type Subscription[T any] struct {
	id       uint64
	callback Callback[T]

	highway     *highway.Proxy
	sendMayFail bool

	dedup bool
	equal func(a, b T) bool

	weak bool

	mu            sync.Mutex
	hasDelivered  bool
	lastDelivered T

	valid atomic.Bool
}

// ID returns the subscription's channel-scoped identifier, stable for
// its lifetime.
func (s *Subscription[T]) ID() uint64 { return s.id }

// Unsubscribe invalidates the subscription; the channel prunes it on its
// next Publish. Idempotent.
func (s *Subscription[T]) Unsubscribe() { s.valid.Store(false) }

// deliver runs the dedup check and then either the inline or rescheduled
// delivery path, returning whether the subscription is still live
// afterward.
func (s *Subscription[T]) deliver(value T) bool {
	if !s.valid.Load() {
		return false
	}

	if s.dedup {
		s.mu.Lock()
		skip := s.hasDelivered && s.equal(s.lastDelivered, value)
		if !skip {
			s.lastDelivered = value
			s.hasDelivered = true
		}
		s.mu.Unlock()
		if skip {
			return true
		}
	}

	if s.highway == nil {
		if !s.callback(value) {
			s.valid.Store(false)
			return false
		}
		return true
	}

	t := task.New(func() {
		if !s.callback(value) {
			s.valid.Store(false)
		}
	})
	if s.sendMayFail {
		if !s.highway.TryExecute(t) {
			// dropped, per send_may_fail=true; subscription stays live
		}
	} else {
		_ = s.highway.Execute(context.Background(), t)
	}
	return s.valid.Load()
}
