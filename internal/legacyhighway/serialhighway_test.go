package legacyhighway

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-highway/task"
	"github.com/stretchr/testify/require"
)

func TestSerialHighway_RunsSubmittedTasksInOrder(t *testing.T) {
	h := NewSerialHighway()
	go h.Run()
	defer h.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 1; i <= 5; i++ {
		n := i
		h.Submit(task.New(func() {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			wg.Done()
		}))
	}

	waitOrTimeout(t, &wg, time.Second)
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestSerialHighway_WakesFromSleepOnLateSubmit(t *testing.T) {
	h := NewSerialHighway()
	go h.Run()
	defer h.Stop()

	time.Sleep(20 * time.Millisecond) // let Run reach checkThenSleep

	done := make(chan struct{})
	h.Submit(task.New(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task submitted after sleep never ran")
	}
}

func TestSerialHighway_Stop_DrainsPendingTasksFirst(t *testing.T) {
	h := NewSerialHighway()
	go h.Run()

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		h.Submit(task.New(func() { ran.Add(1) }))
	}
	h.Stop()

	require.EqualValues(t, 10, ran.Load())
}

func TestSerialHighway_Stop_Idempotent(t *testing.T) {
	h := NewSerialHighway()
	go h.Run()
	h.Stop()
	require.NotPanics(t, h.Stop)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
