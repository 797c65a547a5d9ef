package node

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
)

// AggregatingBundle is the accumulated state across a set of operand
// channels, visible to AggregatingLogic on every arrival so it can
// decide when enough operands are present to emit a result.
type AggregatingBundle[V any] struct {
	Values map[int]V
}

// AggregatingLogic runs on each operand arrival. It receives the
// arriving operand's id and value, the bundle accumulated so far, the
// total number of operands registered via AddOperand, and the node's
// output channel to publish to when ready.
type AggregatingLogic[V, Out any] func(operandID int, value V, bundle *AggregatingBundle[V], totalOperands int, out *channel.Channel[Out])

// Aggregating is a fan-in node: each operand channel is registered
// separately (AddOperand) and assigned an operand id; arrivals update a
// shared AggregatingBundle, and the logic decides when to publish.
type Aggregating[V, Out any] struct {
	base
	self lifecycle.Protector[Aggregating[V, Out]]

	out   *channel.Channel[Out]
	logic AggregatingLogic[V, Out]

	mu            sync.Mutex
	bundle        AggregatingBundle[V]
	totalOperands atomic.Int32
}

// NewAggregating constructs an Aggregating node dispatching on proxy.
func NewAggregating[V, Out any](proxy *highway.Proxy, outOpts []channel.Option, logic AggregatingLogic[V, Out]) *Aggregating[V, Out] {
	a := &Aggregating[V, Out]{
		base:   newBase(proxy),
		out:    channel.New[Out](outOpts...),
		logic:  logic,
		bundle: AggregatingBundle[V]{Values: make(map[int]V)},
	}
	a.self = lifecycle.Protect(a)
	a.registerOutChannel("out", a.out)
	return a
}

// Out returns the node's output channel.
func (a *Aggregating[V, Out]) Out() *channel.Channel[Out] { return a.out }

// AddOperand registers ch as a new operand source, returning its
// assigned operand id. mode selects inline vs. rescheduled intake for
// this operand specifically — operands need not share a delivery mode.
func (a *Aggregating[V, Out]) AddOperand(ch *channel.Channel[V], mode IntakeMode) (operandID int, sub *channel.Subscription[V]) {
	operandID = int(a.totalOperands.Add(1)) - 1
	label := operandLabel(operandID)

	self := a.self
	var subOpts []channel.SubscribeOption[V]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[V](a.highway))
	}
	sub = ch.Subscribe(func(v V) bool {
		n, ok := self.Lock()
		if !ok {
			return false
		}
		n.arrive(operandID, v)
		return true
	}, subOpts...)
	a.registerInSub(label, sub)
	return operandID, sub
}

// arrive updates the shared bundle and invokes the logic while holding
// the bundle's lock: distinct operand channels may be in inline mode and
// publish concurrently from different goroutines, and the bundle
// (including whatever the logic itself does with it) must see one
// arrival at a time.
func (a *Aggregating[V, Out]) arrive(operandID int, value V) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bundle.Values[operandID] = value
	total := int(a.totalOperands.Load())
	a.logic(operandID, value, &a.bundle, total, a.out)
}

func operandLabel(id int) string {
	const digits = "0123456789"
	if id < 10 {
		return "operand-" + string(digits[id])
	}
	// Operand counts beyond single digits are rare enough in practice
	// that a small allocation here is fine.
	var buf []byte
	buf = append(buf, "operand-"...)
	buf = appendInt(buf, id)
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}
