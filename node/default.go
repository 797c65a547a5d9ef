package node

import (
	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
	"github.com/joeycumines/go-highway/task"
)

// Logic0 is the simplest default-node logic shape: it receives the
// intake value and returns the result to publish.
type Logic0[In, Out any] func(in In) Out

// Logic1 additionally receives the label the value arrived under (the
// in-channel's registered name on this node).
type Logic1[In, Out any] func(in In, label string) Out

// Logic2 additionally receives the node's output channel directly,
// letting the logic publish zero, one, or many results itself instead of
// returning exactly one.
type Logic2[In, Out any] func(in In, label string, out *channel.Channel[Out])

// Logic3 additionally receives a CancelToken the logic should check
// during any long-running work; it reports cancelled once the owning
// highway has replaced this task's run (e.g. after a watchdog-triggered
// restart). Tearing the node down (the Delete* operations) does not
// cancel it.
type Logic3[In, Out any] func(in In, label string, out *channel.Channel[Out], cancel *task.CancelToken)

// Logic4 additionally receives a publishProgress callback the logic may
// call any number of times during long-running work to report partial
// completion, mirroring FutureNodeWithProgressPublisher's
// publish_progress_state_callback. Subscribe to Default.ProgressOut to
// receive the resulting Progress values.
type Logic4[In, Out any] func(in In, label string, out *channel.Channel[Out], cancel *task.CancelToken, publishProgress func(percent int))

// Default is the general-purpose execution node: one InParam intake,
// one Publisher<OutResult> output, and a user logic object selected at
// construction from one of the five Logic shapes (spec'd as compile-time
// overload resolution; here as five named options, WithLogic0..WithLogic4,
// since Go has no overloading to introspect).
type Default[In, Out any] struct {
	base
	out *channel.Channel[Out]
	run func(in In, label string, out *channel.Channel[Out], cancel *task.CancelToken)

	self lifecycle.Protector[Default[In, Out]]
}

// DefaultOption configures a Default node's logic at construction.
type DefaultOption[In, Out any] func(*Default[In, Out])

// WithLogic0 installs a Logic0 body: the returned value is published
// unconditionally.
func WithLogic0[In, Out any](l Logic0[In, Out]) DefaultOption[In, Out] {
	return func(d *Default[In, Out]) {
		d.run = func(in In, _ string, out *channel.Channel[Out], _ *task.CancelToken) {
			out.Publish(l(in))
		}
	}
}

// WithLogic1 installs a Logic1 body.
func WithLogic1[In, Out any](l Logic1[In, Out]) DefaultOption[In, Out] {
	return func(d *Default[In, Out]) {
		d.run = func(in In, label string, out *channel.Channel[Out], _ *task.CancelToken) {
			out.Publish(l(in, label))
		}
	}
}

// WithLogic2 installs a Logic2 body: the logic itself calls out.Publish,
// any number of times.
func WithLogic2[In, Out any](l Logic2[In, Out]) DefaultOption[In, Out] {
	return func(d *Default[In, Out]) {
		d.run = func(in In, label string, out *channel.Channel[Out], _ *task.CancelToken) {
			l(in, label, out)
		}
	}
}

// WithLogic3 installs a Logic3 body: the logic itself calls out.Publish
// and should check cancel periodically.
func WithLogic3[In, Out any](l Logic3[In, Out]) DefaultOption[In, Out] {
	return func(d *Default[In, Out]) { d.run = l }
}

// WithLogic4 installs a Logic4 body: the logic itself calls out.Publish
// and may call the publishProgress callback it's given to report partial
// completion via Default.ProgressOut.
func WithLogic4[In, Out any](l Logic4[In, Out]) DefaultOption[In, Out] {
	return func(d *Default[In, Out]) {
		d.run = func(in In, label string, out *channel.Channel[Out], cancel *task.CancelToken) {
			l(in, label, out, cancel, func(percent int) { d.publishProgress(percent, label) })
		}
	}
}

// NewDefault constructs a Default node dispatching on proxy, with its
// output channel and one of the WithLogicN options selecting the user
// logic.
func NewDefault[In, Out any](proxy *highway.Proxy, outOpts []channel.Option, opts ...DefaultOption[In, Out]) *Default[In, Out] {
	d := &Default[In, Out]{
		base: newBase(proxy),
		out:  channel.New[Out](outOpts...),
	}
	for _, o := range opts {
		o(d)
	}
	if d.run == nil {
		d.run = func(In, string, *channel.Channel[Out], *task.CancelToken) {}
	}
	d.self = lifecycle.Protect(d)
	d.registerOutChannel("out", d.out)
	return d
}

// Out returns the node's output channel, for downstream nodes to
// subscribe to.
func (d *Default[In, Out]) Out() *channel.Channel[Out] { return d.out }

// ProgressOut returns the node's progress channel, lazily creating it on
// first call. Only populated if the node's logic was installed with
// WithLogic4 and actually calls the progress callback it's given.
func (d *Default[In, Out]) ProgressOut() *channel.Channel[Progress] { return d.base.ProgressOut() }

// Subscribe registers this node's intake on upstream channel ch under
// label, in the given IntakeMode. The subscription holds only a weak
// reference to the node (via its self protector), so a caller that drops
// every strong reference to the node lets it — and its heavy state — be
// collected even while ch itself, and its internal subscriber-closure,
// remain alive.
func (d *Default[In, Out]) Subscribe(ch *channel.Channel[In], label string, mode IntakeMode) *channel.Subscription[In] {
	self := d.self
	var subOpts []channel.SubscribeOption[In]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[In](d.highway))
	}
	sub := ch.Subscribe(func(in In) bool {
		n, ok := self.Lock()
		if !ok {
			return false
		}
		gen := n.cancelToken()
		n.run(in, label, n.out, gen)
		return true
	}, subOpts...)
	d.registerInSub(label, sub)
	return sub
}

// cancelToken returns a fresh CancelToken for a single logic invocation,
// bound to the node's highway run-id if one is available, so a
// watchdog-triggered worker replacement invalidates any in-flight
// Logic3 body that's still checking Cancelled().
func (d *Default[In, Out]) cancelToken() *task.CancelToken {
	if gen, ok := d.highway.RunGeneration(); ok {
		return task.BindGeneration(gen)
	}
	return task.NewCancelToken()
}
