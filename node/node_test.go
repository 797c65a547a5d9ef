package node

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-highway/channel"
	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/task"
	"github.com/stretchr/testify/require"
)

func newTestProxy(t *testing.T) *highway.Proxy {
	t.Helper()
	h := highway.New(highway.WithName("node-test"))
	t.Cleanup(h.Destroy)
	return highway.NewProxy(h, nil)
}

func TestDefault_Logic0_PublishesReturnValue(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	d := NewDefault[int, int](proxy, nil, WithLogic0(func(v int) int { return v * 2 }))
	d.Subscribe(in, "double", Rescheduled)

	var got int
	done := make(chan struct{})
	d.Out().Subscribe(func(v int) bool {
		got = v
		close(done)
		return true
	})

	in.Publish(21)

	select {
	case <-done:
		require.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("default node never published")
	}
}

func TestDefault_Logic1_ReceivesLabel(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[string]()

	var gotLabel string
	done := make(chan struct{})
	d := NewDefault[string, string](proxy, nil, WithLogic1(func(v string, label string) string {
		gotLabel = label
		return v
	}))
	d.Subscribe(in, "my-label", Rescheduled)
	d.Out().Subscribe(func(string) bool { close(done); return true })

	in.Publish("hi")

	select {
	case <-done:
		require.Equal(t, "my-label", gotLabel)
	case <-time.After(time.Second):
		t.Fatal("default node never published")
	}
}

func TestDefault_Logic2_CanPublishMultipleTimes(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	var got []int
	done := make(chan struct{})
	d := NewDefault[int, int](proxy, nil, WithLogic2(func(v int, _ string, out *channel.Channel[int]) {
		out.Publish(v)
		out.Publish(v * 10)
	}))
	d.Subscribe(in, "fanout", Rescheduled)
	d.Out().Subscribe(func(v int) bool {
		got = append(got, v)
		if len(got) == 2 {
			close(done)
		}
		return true
	})

	in.Publish(3)

	select {
	case <-done:
		require.Equal(t, []int{3, 30}, got)
	case <-time.After(time.Second):
		t.Fatal("default node never finished publishing")
	}
}

func TestDefault_Logic4_PublishesProgressAndResult(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	d := NewDefault[int, int](proxy, nil, WithLogic4(func(v int, _ string, out *channel.Channel[int], _ *task.CancelToken, publishProgress func(int)) {
		publishProgress(50)
		publishProgress(100)
		out.Publish(v * 2)
	}))

	var progress []int
	progressDone := make(chan struct{})
	d.ProgressOut().Subscribe(func(p Progress) bool {
		progress = append(progress, p.Percent)
		if len(progress) == 2 {
			close(progressDone)
		}
		return true
	})

	result := make(chan int, 1)
	d.Out().Subscribe(func(v int) bool {
		result <- v
		return true
	})

	d.Subscribe(in, "work", Rescheduled)
	in.Publish(21)

	select {
	case <-progressDone:
		require.Equal(t, []int{50, 100}, progress)
	case <-time.After(time.Second):
		t.Fatal("progress was never published")
	}

	select {
	case v := <-result:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("result was never published")
	}
}

func TestDefault_ProgressOut_UnusedByDefault(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	d := NewDefault[int, int](proxy, nil, WithLogic0(func(v int) int { return v }))
	var delivered atomic.Bool
	d.ProgressOut().Subscribe(func(Progress) bool {
		delivered.Store(true)
		return true
	})

	d.Subscribe(in, "work", Rescheduled)
	in.Publish(1)

	time.Sleep(20 * time.Millisecond)
	require.False(t, delivered.Load(), "Logic0 never calls publishProgress, so ProgressOut must stay silent")
}

func TestDefault_Inline_RunsOnPublisherGoroutine(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	var got int
	d := NewDefault[int, int](proxy, nil, WithLogic0(func(v int) int { return v + 1 }))
	d.Subscribe(in, "inc", Inline)
	d.Out().Subscribe(func(v int) bool { got = v; return true })

	in.Publish(1)
	require.Equal(t, 2, got, "inline delivery should have run synchronously within Publish")
}

func TestDefault_WeakSelf_StopsAfterCollection(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	d := NewDefault[int, int](proxy, nil, WithLogic0(func(v int) int { return v }))
	out := d.Out()
	var delivered atomic.Bool
	out.Subscribe(func(int) bool { delivered.Store(true); return true })
	d.Subscribe(in, "x", Inline)

	in.Publish(1)
	require.True(t, delivered.Load(), "sanity: node must forward while still referenced")
	delivered.Store(false)

	d = nil
	require.Eventually(t, func() bool {
		runtime.GC()
		in.Publish(2)
		return !delivered.Load()
	}, time.Second, time.Millisecond)
}

func TestResult_Get_BlocksUntilPublished(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	r := NewResult[int](proxy, nil)
	r.Subscribe(in, "result", Rescheduled)

	go func() {
		time.Sleep(10 * time.Millisecond)
		in.Publish(99)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, label, err := r.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 99, v)
	require.Equal(t, "result", label)
}

func TestResult_Get_TimesOutWithoutPublish(t *testing.T) {
	proxy := newTestProxy(t)
	r := NewResult[int](proxy, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.Get(ctx)
	require.ErrorIs(t, err, ErrNoResult)
}

func TestAggregating_EmitsWhenAllOperandsPresent(t *testing.T) {
	proxy := newTestProxy(t)
	chA := channel.New[int]()
	chB := channel.New[int]()

	a := NewAggregating[int, int](proxy, nil, func(operandID int, value int, bundle *AggregatingBundle[int], total int, out *channel.Channel[int]) {
		if len(bundle.Values) == total {
			sum := 0
			for _, v := range bundle.Values {
				sum += v
			}
			out.Publish(sum)
		}
	})
	a.AddOperand(chA, Rescheduled)
	a.AddOperand(chB, Rescheduled)

	done := make(chan int, 1)
	a.Out().Subscribe(func(v int) bool { done <- v; return true })

	chA.Publish(10)
	chB.Publish(32)

	select {
	case v := <-done:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("aggregating node never emitted")
	}
}

func TestTwoOperand_RunsOnceBothSlotsFull(t *testing.T) {
	proxy := newTestProxy(t)
	chA := channel.New[int]()
	chB := channel.New[string]()

	n := NewTwoOperand[int, string, string](proxy, nil, func(a int, b string, out *channel.Channel[string]) {
		out.Publish(b)
	})
	n.SubscribeA(chA, Rescheduled)
	n.SubscribeB(chB, Rescheduled)

	done := make(chan string, 1)
	n.Out().Subscribe(func(v string) bool { done <- v; return true })

	chB.Publish("late-b") // arrives first, slot fills, no emit yet
	chA.Publish(1)

	select {
	case v := <-done:
		require.Equal(t, "late-b", v)
	case <-time.After(time.Second):
		t.Fatal("two-operand node never emitted")
	}
}

func TestIfElse_RoutesToSelectedBranch(t *testing.T) {
	proxy := newTestProxy(t)
	in := channel.New[int]()

	n := NewIfElse[int, string, string](proxy, nil, nil, func(v int, _ string) (string, string, bool) {
		if v%2 == 0 {
			return "even", "", true
		}
		return "", "odd", false
	})
	n.Subscribe(in, "parity", Rescheduled)

	ifCh := make(chan string, 1)
	elseCh := make(chan string, 1)
	n.If().Subscribe(func(v string) bool { ifCh <- v; return true })
	n.Else().Subscribe(func(v string) bool { elseCh <- v; return true })

	in.Publish(4)
	select {
	case v := <-ifCh:
		require.Equal(t, "even", v)
	case <-time.After(time.Second):
		t.Fatal("if-branch never fired for even input")
	}

	in.Publish(5)
	select {
	case v := <-elseCh:
		require.Equal(t, "odd", v)
	case <-time.After(time.Second):
		t.Fatal("else-branch never fired for odd input")
	}
}

func TestVoidEntry_TriggersOnHeterogeneousPublications(t *testing.T) {
	proxy := newTestProxy(t)
	ints := channel.New[int]()
	strs := channel.New[string]()

	n := NewVoidEntry(proxy)
	var gotInt int
	var gotStr string
	doneInt := make(chan struct{})
	doneStr := make(chan struct{})
	Subscribe(n, ints, "ints", Rescheduled, func(v int) { gotInt = v; close(doneInt) })
	Subscribe(n, strs, "strs", Rescheduled, func(v string) { gotStr = v; close(doneStr) })

	ints.Publish(7)
	strs.Publish("seven")

	select {
	case <-doneInt:
	case <-time.After(time.Second):
		t.Fatal("int subscription never fired")
	}
	select {
	case <-doneStr:
	case <-time.After(time.Second):
		t.Fatal("string subscription never fired")
	}
	require.Equal(t, 7, gotInt)
	require.Equal(t, "seven", gotStr)
}
