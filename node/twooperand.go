package node

import (
	"sync"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
)

// TwoOperandLogic runs once both operand slots are full. It receives
// both values and the node's output channel; both slots are reset
// immediately afterward regardless of what the logic does.
type TwoOperandLogic[A, B, Out any] func(a A, b B, out *channel.Channel[Out])

// TwoOperand owns one slot per operand under a mutex: when both slots
// are full, the logic runs once and both slots reset, ready for the next
// pair.
type TwoOperand[A, B, Out any] struct {
	base
	self lifecycle.Protector[TwoOperand[A, B, Out]]

	out   *channel.Channel[Out]
	logic TwoOperandLogic[A, B, Out]

	mu         sync.Mutex
	slotA      A
	slotB      B
	hasA, hasB bool
}

// NewTwoOperand constructs a TwoOperand node dispatching on proxy.
func NewTwoOperand[A, B, Out any](proxy *highway.Proxy, outOpts []channel.Option, logic TwoOperandLogic[A, B, Out]) *TwoOperand[A, B, Out] {
	n := &TwoOperand[A, B, Out]{
		base:  newBase(proxy),
		out:   channel.New[Out](outOpts...),
		logic: logic,
	}
	n.self = lifecycle.Protect(n)
	n.registerOutChannel("out", n.out)
	return n
}

// Out returns the node's output channel.
func (n *TwoOperand[A, B, Out]) Out() *channel.Channel[Out] { return n.out }

// SubscribeA registers this node's A-operand intake on ch.
func (n *TwoOperand[A, B, Out]) SubscribeA(ch *channel.Channel[A], mode IntakeMode) *channel.Subscription[A] {
	self := n.self
	var subOpts []channel.SubscribeOption[A]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[A](n.highway))
	}
	sub := ch.Subscribe(func(v A) bool {
		m, ok := self.Lock()
		if !ok {
			return false
		}
		m.arriveA(v)
		return true
	}, subOpts...)
	n.registerInSub("a", sub)
	return sub
}

// SubscribeB registers this node's B-operand intake on ch.
func (n *TwoOperand[A, B, Out]) SubscribeB(ch *channel.Channel[B], mode IntakeMode) *channel.Subscription[B] {
	self := n.self
	var subOpts []channel.SubscribeOption[B]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[B](n.highway))
	}
	sub := ch.Subscribe(func(v B) bool {
		m, ok := self.Lock()
		if !ok {
			return false
		}
		m.arriveB(v)
		return true
	}, subOpts...)
	n.registerInSub("b", sub)
	return sub
}

func (n *TwoOperand[A, B, Out]) arriveA(v A) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slotA, n.hasA = v, true
	n.maybeRun()
}

func (n *TwoOperand[A, B, Out]) arriveB(v B) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slotB, n.hasB = v, true
	n.maybeRun()
}

// maybeRun must be called with n.mu held.
func (n *TwoOperand[A, B, Out]) maybeRun() {
	if !n.hasA || !n.hasB {
		return
	}
	a, b := n.slotA, n.slotB
	var zeroA A
	var zeroB B
	n.slotA, n.slotB = zeroA, zeroB
	n.hasA, n.hasB = false, false
	n.logic(a, b, n.out)
}
