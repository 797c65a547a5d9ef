// Command highwaydemo wires a small highway.Manager, an aggregating
// node, and its operand channels together: the "aggregator fan-in" scenario — three
// operand channels, sum-when-all-three-arrived logic, reset after each
// emission.
//
// Run with: go run ./cmd/highwaydemo
package main

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/node"
	_ "go.uber.org/automaxprocs"
)

func main() {
	mgr := highway.NewManager(
		highway.WithLocalWorkers(2, 64),
		highway.WithHighwayRange(1, 3),
		highway.WithAutoRegulation(true),
	)
	defer mgr.Destroy()

	proxy := mgr.Lease(30)
	defer proxy.Release()

	sum := node.NewAggregating[int, int](proxy, nil, func(operandID int, value int, bundle *node.AggregatingBundle[int], total int, out *channel.Channel[int]) {
		if len(bundle.Values) != total {
			return
		}
		result := 0
		for _, v := range bundle.Values {
			result += v
		}
		for k := range bundle.Values {
			delete(bundle.Values, k)
		}
		out.Publish(result)
	})

	ch1 := channel.New[int]()
	ch2 := channel.New[int]()
	ch3 := channel.New[int]()
	sum.AddOperand(ch1, node.Rescheduled)
	sum.AddOperand(ch2, node.Rescheduled)
	sum.AddOperand(ch3, node.Rescheduled)

	results := make(chan int, 2)
	sum.Out().Subscribe(func(v int) bool {
		results <- v
		return true
	})

	ch1.Publish(1)
	ch2.Publish(2)
	ch3.Publish(3)

	ch1.Publish(10)
	ch2.Publish(20)
	ch3.Publish(30)

	for i := 0; i < 2; i++ {
		select {
		case v := <-results:
			fmt.Println("aggregate:", v)
		case <-time.After(5 * time.Second):
			fmt.Println("timed out waiting for aggregate result")
			return
		}
	}
}
