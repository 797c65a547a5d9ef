package node

import (
	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/lifecycle"
)

// IfElseLogic decides, for an intake value, which branch to take. It
// returns true to publish ifResult on the If branch, or false to publish
// elseResult on the Else branch.
type IfElseLogic[In, IfResult, ElseResult any] func(in In, label string) (ifResult IfResult, elseResult ElseResult, takeIf bool)

// IfElse is a two-branch node: its logic selects, per intake value,
// whether to publish on the If channel or the Else channel.
type IfElse[In, IfResult, ElseResult any] struct {
	base
	self lifecycle.Protector[IfElse[In, IfResult, ElseResult]]

	ifOut   *channel.Channel[IfResult]
	elseOut *channel.Channel[ElseResult]
	logic   IfElseLogic[In, IfResult, ElseResult]
}

// NewIfElse constructs an IfElse node dispatching on proxy.
func NewIfElse[In, IfResult, ElseResult any](proxy *highway.Proxy, ifOpts, elseOpts []channel.Option, logic IfElseLogic[In, IfResult, ElseResult]) *IfElse[In, IfResult, ElseResult] {
	n := &IfElse[In, IfResult, ElseResult]{
		base:    newBase(proxy),
		ifOut:   channel.New[IfResult](ifOpts...),
		elseOut: channel.New[ElseResult](elseOpts...),
		logic:   logic,
	}
	n.self = lifecycle.Protect(n)
	n.registerOutChannel("if", n.ifOut)
	n.registerOutChannel("else", n.elseOut)
	return n
}

// If returns the branch channel published to when the logic selects the
// if-branch.
func (n *IfElse[In, IfResult, ElseResult]) If() *channel.Channel[IfResult] { return n.ifOut }

// Else returns the branch channel published to when the logic selects
// the else-branch.
func (n *IfElse[In, IfResult, ElseResult]) Else() *channel.Channel[ElseResult] { return n.elseOut }

// Subscribe registers this node's intake on ch under label.
func (n *IfElse[In, IfResult, ElseResult]) Subscribe(ch *channel.Channel[In], label string, mode IntakeMode) *channel.Subscription[In] {
	self := n.self
	var subOpts []channel.SubscribeOption[In]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[In](n.highway))
	}
	sub := ch.Subscribe(func(in In) bool {
		m, ok := self.Lock()
		if !ok {
			return false
		}
		ifResult, elseResult, takeIf := m.logic(in, label)
		if takeIf {
			m.ifOut.Publish(ifResult)
		} else {
			m.elseOut.Publish(elseResult)
		}
		return true
	}, subOpts...)
	n.registerInSub(label, sub)
	return sub
}
