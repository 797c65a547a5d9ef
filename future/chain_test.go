package future

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-highway/highway"
	"github.com/joeycumines/go-highway/task"
	"github.com/stretchr/testify/require"
)

func newTestProxy(t *testing.T) *highway.Proxy {
	t.Helper()
	h := highway.New(highway.WithName("future-test"))
	t.Cleanup(h.Destroy)
	return highway.NewProxy(h, nil)
}

func TestChain_Execute_BlocksUntilResolve(t *testing.T) {
	c, resolve, _ := New[int](newTestProxy(t))

	go func() {
		time.Sleep(10 * time.Millisecond)
		resolve(42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := c.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, Fulfilled, c.State())
}

func TestChain_Execute_ReturnsRejectReason(t *testing.T) {
	c, _, reject := New[int](newTestProxy(t))
	wantErr := errors.New("boom")

	go reject(wantErr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Execute(ctx)
	require.Equal(t, wantErr, err)
	require.Equal(t, Rejected, c.State())
}

func TestChain_Execute_TimesOutWithoutSettlement(t *testing.T) {
	c, _, _ := New[int](newTestProxy(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx)
	require.ErrorIs(t, err, ErrNotSettled)
}

func TestChain_ResolveAfterSettle_IsNoop(t *testing.T) {
	c, resolve, reject := New[int](newTestProxy(t))
	resolve(1)
	resolve(2)
	reject(errors.New("ignored"))

	v, err := c.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestChain_ToChannel_AlreadySettledDeliversImmediately(t *testing.T) {
	c, resolve, _ := New[string](newTestProxy(t))
	resolve("done")

	ch := c.ToChannel()
	r, ok := <-ch
	require.True(t, ok)
	require.Equal(t, "done", r.Value)
	require.NoError(t, r.Err)

	_, ok = <-ch
	require.False(t, ok, "channel must be closed after delivering")
}

func TestThen_ChainsFulfillmentAcrossTypes(t *testing.T) {
	proxy := newTestProxy(t)
	c, resolve, _ := New[int](proxy)

	child := Then(c, func(v int) (string, error) {
		if v == 0 {
			return "", errors.New("zero")
		}
		return "got-it", nil
	}, nil)

	resolve(5)

	v, err := child.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "got-it", v)
}

func TestThen_FulfillHandlerErrorRejectsChild(t *testing.T) {
	proxy := newTestProxy(t)
	c, resolve, _ := New[int](proxy)
	wantErr := errors.New("zero")

	child := Then(c, func(v int) (string, error) {
		return "", wantErr
	}, nil)

	resolve(0)

	_, err := child.Execute(context.Background())
	require.Equal(t, wantErr, err)
}

func TestThen_NilOnRejectedPropagatesRejection(t *testing.T) {
	proxy := newTestProxy(t)
	c, _, reject := New[int](proxy)
	wantErr := errors.New("upstream failed")

	child := Then(c, func(v int) (string, error) { return "unreachable", nil }, nil)

	reject(wantErr)

	_, err := child.Execute(context.Background())
	require.Equal(t, wantErr, err)
}

func TestNext_OnlyRunsOnFulfillment(t *testing.T) {
	proxy := newTestProxy(t)
	c, resolve, _ := New[int](proxy)

	child := Next(c, func(v int) (int, error) { return v * 2, nil })
	resolve(21)

	v, err := child.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestChain_Detach_RejectionEscapesToExceptionHandler(t *testing.T) {
	var recovered atomic.Value
	done := make(chan struct{})
	h := highway.New(highway.WithName("detach-test"), highway.WithExceptionHandler(func(name string, _ task.Task, r any) {
		recovered.Store(r)
		close(done)
	}))
	t.Cleanup(h.Destroy)
	proxy := highway.NewProxy(h, nil)

	c, _, reject := New[int](proxy)
	c.Detach()

	wantErr := errors.New("detached rejection")
	reject(wantErr)

	select {
	case <-done:
		require.Equal(t, wantErr, recovered.Load())
	case <-time.After(time.Second):
		t.Fatal("detached rejection never reached the exception handler")
	}
}

func TestChain_ExecuteAndDetach_RunsCallbackWithoutBlocking(t *testing.T) {
	c, resolve, _ := New[int](newTestProxy(t))

	done := make(chan int, 1)
	c.ExecuteAndDetach(func(v int, err error) {
		done <- v
	})

	resolve(7)

	select {
	case v := <-done:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("ExecuteAndDetach callback never ran")
	}
}

func TestAll_FulfillsWithAllValuesInOrder(t *testing.T) {
	proxy := newTestProxy(t)
	c1, r1, _ := New[int](proxy)
	c2, r2, _ := New[int](proxy)
	c3, r3, _ := New[int](proxy)

	all := All([]*Chain[int]{c1, c2, c3})

	r2(2)
	r1(1)
	r3(3)

	v, err := all.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, v)
}

func TestAll_RejectsOnFirstRejection(t *testing.T) {
	proxy := newTestProxy(t)
	c1, _, reject1 := New[int](proxy)
	c2, resolve2, _ := New[int](proxy)

	all := All([]*Chain[int]{c1, c2})

	wantErr := errors.New("one failed")
	reject1(wantErr)
	resolve2(2)

	_, err := all.Execute(context.Background())
	require.Equal(t, wantErr, err)
}

func TestAll_EmptyInputResolvesImmediately(t *testing.T) {
	all := All[int](nil)
	v, err := all.Execute(context.Background())
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestRace_SettlesWithFirstSettlement(t *testing.T) {
	proxy := newTestProxy(t)
	c1, resolve1, _ := New[string](proxy)
	c2, resolve2, _ := New[string](proxy)

	race := Race([]*Chain[string]{c1, c2})

	resolve1("first")
	resolve2("second")

	v, err := race.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func TestAllSettled_NeverRejects(t *testing.T) {
	proxy := newTestProxy(t)
	c1, resolve1, _ := New[int](proxy)
	c2, _, reject2 := New[int](proxy)

	settled := AllSettled([]*Chain[int]{c1, c2})

	resolve1(10)
	wantErr := errors.New("two failed")
	reject2(wantErr)

	outcomes, err := settled.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, Fulfilled, outcomes[0].State)
	require.Equal(t, 10, outcomes[0].Value)
	require.Equal(t, Rejected, outcomes[1].State)
	require.Equal(t, wantErr, outcomes[1].Err)
}

func TestAny_FulfillsOnFirstSuccess(t *testing.T) {
	proxy := newTestProxy(t)
	c1, _, reject1 := New[int](proxy)
	c2, resolve2, _ := New[int](proxy)

	any := Any([]*Chain[int]{c1, c2})

	reject1(errors.New("one failed"))
	resolve2(99)

	v, err := any.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

func TestAny_RejectsWhenAllReject(t *testing.T) {
	proxy := newTestProxy(t)
	c1, _, reject1 := New[int](proxy)
	c2, _, reject2 := New[int](proxy)

	any := Any([]*Chain[int]{c1, c2})

	reject1(errors.New("one"))
	reject2(errors.New("two"))

	_, err := any.Execute(context.Background())
	var noneErr *ErrNoneFulfilled
	require.ErrorAs(t, err, &noneErr)
	require.Len(t, noneErr.Errs, 2)
}
