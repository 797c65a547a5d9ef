package node

import (
	"context"
	"errors"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
)

// ErrNoResult is returned by Result.Get when ctx expires before any
// value has been published.
var ErrNoResult = errors.New("node: no result published before context done")

// Result is a terminal node: it stores the most recently published
// labeled value behind a buffered channel, so a blocking caller can
// retrieve it via Get. Optional user logic runs before storing.
type Result[In any] struct {
	base

	self lifecycle.Protector[Result[In]]

	logic func(in In, label string) In

	ready chan labeled[In]
}

type labeled[In any] struct {
	value In
	label string
}

// NewResult constructs a Result node dispatching on proxy. logic, if
// non-nil, transforms the intake value (and sees its label) before it's
// stored.
func NewResult[In any](proxy *highway.Proxy, logic func(in In, label string) In) *Result[In] {
	r := &Result[In]{
		base:  newBase(proxy),
		logic: logic,
		ready: make(chan labeled[In], 1),
	}
	r.self = lifecycle.Protect(r)
	return r
}

// Subscribe registers this node's intake on ch under label.
func (r *Result[In]) Subscribe(ch *channel.Channel[In], label string, mode IntakeMode) *channel.Subscription[In] {
	self := r.self
	var subOpts []channel.SubscribeOption[In]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[In](r.highway))
	}
	sub := ch.Subscribe(func(in In) bool {
		n, ok := self.Lock()
		if !ok {
			return false
		}
		if n.logic != nil {
			in = n.logic(in, label)
		}
		n.store(labeled[In]{value: in, label: label})
		return true
	}, subOpts...)
	r.registerInSub(label, sub)
	return sub
}

// store replaces any pending-but-unread result with the newest one,
// matching a "most recent wins" result slot rather than an unbounded
// queue — a blocking Get only ever wants the latest value.
func (r *Result[In]) store(v labeled[In]) {
	for {
		select {
		case r.ready <- v:
			return
		default:
		}
		select {
		case <-r.ready:
		default:
		}
	}
}

// Get blocks until a value has been published (since the last Get, or
// ever, if this is the first call) or ctx is done.
func (r *Result[In]) Get(ctx context.Context) (value In, label string, err error) {
	select {
	case v := <-r.ready:
		return v.value, v.label, nil
	case <-ctx.Done():
		var zero In
		return zero, "", ErrNoResult
	}
}
