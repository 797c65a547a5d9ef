package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_TrySend_FullReturnsFalse(t *testing.T) {
	m := New[int](2)
	require.True(t, m.TrySend(1))
	require.True(t, m.TrySend(2))
	require.False(t, m.TrySend(3), "mailbox at capacity must reject without enqueuing")

	v, ok := m.Drain(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestMailbox_Drain_FIFOOrder(t *testing.T) {
	m := New[int](0)
	for i := 0; i < 10; i++ {
		require.True(t, m.TrySend(i))
	}
	for i := 0; i < 10; i++ {
		v, ok := m.Drain(context.Background())
		require.True(t, ok)
		require.Equal(t, i, v, "Drain must serve in submission order")
	}
}

func TestMailbox_Send_BlocksUntilFreed(t *testing.T) {
	m := New[int](1)
	require.True(t, m.TrySend(1))

	done := make(chan error, 1)
	go func() {
		done <- m.Send(context.Background(), 2)
	}()

	select {
	case <-done:
		t.Fatal("Send should block while the pool is at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := m.Drain(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after a holder was freed")
	}

	v, ok = m.Drain(context.Background())
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestMailbox_Close_WakesBlockedDrain(t *testing.T) {
	m := New[int](0)

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Drain(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		require.False(t, ok, "Drain must report !ok once the mailbox is closed")
	case <-time.After(time.Second):
		t.Fatal("Close did not wake a blocked Drain")
	}
}

func TestMailbox_Close_Idempotent(t *testing.T) {
	m := New[int](0)
	m.Close()
	m.Close()
	require.False(t, m.Running())
}

func TestMailbox_SendAfterClose_DropsSilently(t *testing.T) {
	m := New[int](0)
	m.Close()
	require.False(t, m.TrySend(1))
	require.NoError(t, m.Send(context.Background(), 1))

	_, ok := m.Drain(context.Background())
	require.False(t, ok)
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	const producers = 16
	const perProducer = 200

	m := New[int](0)
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				require.True(t, m.TrySend(j))
			}
		}()
	}
	wg.Wait()

	count := 0
	for count < producers*perProducer {
		_, ok := m.Drain(context.Background())
		require.True(t, ok)
		count++
	}
}

func TestMailbox_ConcurrentConsumers_NoDuplicateDelivery(t *testing.T) {
	const capacity = 8
	const consumers = 4
	const total = 2000

	m := New[int](capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			require.NoError(t, m.Send(context.Background(), i))
		}
		m.Close()
	}()

	var mu sync.Mutex
	seen := make(map[int]int, total)

	var consumerWg sync.WaitGroup
	consumerWg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer consumerWg.Done()
			for {
				v, ok := m.Drain(context.Background())
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	consumerWg.Wait()

	require.Len(t, seen, total, "every value must be delivered exactly once across all consumers")
	for v, n := range seen {
		require.Equal(t, 1, n, "value %d delivered %d times, want exactly once", v, n)
	}
}
