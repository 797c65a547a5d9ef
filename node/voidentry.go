package node

import (
	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
)

// VoidEntry is a node with no intake of its own: it exists purely as a
// subscription point (subscription[P]() in the spec's vocabulary) so its
// bound logic can be triggered by publications of any number of
// unrelated types — useful as an aggregation sink over heterogeneous
// sources feeding a common highway.
type VoidEntry struct {
	base
}

// NewVoidEntry constructs a VoidEntry node dispatching on proxy.
func NewVoidEntry(proxy *highway.Proxy) *VoidEntry {
	return &VoidEntry{base: newBase(proxy)}
}

// Subscribe registers handler on ch under label: since VoidEntry has no
// typed intake of its own, the caller supplies the full callback
// directly rather than a Logic0..3 shape tied to one In type.
func Subscribe[P any](n *VoidEntry, ch *channel.Channel[P], label string, mode IntakeMode, handler func(P)) *channel.Subscription[P] {
	var subOpts []channel.SubscribeOption[P]
	if mode == Rescheduled {
		subOpts = append(subOpts, channel.WithHighway[P](n.highway))
	}
	sub := ch.Subscribe(func(v P) bool {
		handler(v)
		return true
	}, subOpts...)
	n.registerInSub(label, sub)
	return sub
}
