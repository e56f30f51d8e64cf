package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReactor_PostFromFiberRuns(t *testing.T) {
	r := New()
	go r.Run()
	t.Cleanup(r.Stop)

	var loopGoroutine atomic.Int64
	var called atomic.Bool
	done := make(chan struct{})
	r.Spawn(func(ctx *Context) {
		goid := currentGoroutineMarker()
		loopGoroutine.Store(goid)
		require.NoError(t, ctx.Post(func(*Context) {
			called.Store(true)
			close(done)
		}))
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted task")
	}
	require.True(t, called.Load())
}

func TestReactor_NiceLevelOrdering(t *testing.T) {
	r := New()
	t.Cleanup(r.Stop)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	record := func(n int) func(*Context) {
		return func(*Context) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}

	// Post highest nice first to prove ordering isn't submission order.
	require.NoError(t, r.PostNice(2, record(2)))
	require.NoError(t, r.PostNice(0, record(0)))
	require.NoError(t, r.PostNice(1, record(1)))

	// Start the loop only now, so all three tasks are queued for the same tick.
	go r.Run()

	wg.Wait()
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestReactor_PostAfterStopFails(t *testing.T) {
	r := New()
	go r.Run()
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}

	err := r.Post(func(*Context) {})
	require.Error(t, err)
}

func TestReactor_FiberPanicInvokesFatalHandler(t *testing.T) {
	var got error
	r := New(WithFatalHandler(func(err error) { got = err }))
	go r.Run()
	t.Cleanup(r.Stop)

	done := make(chan struct{})
	r.Spawn(func(ctx *Context) {
		defer close(done)
		panic("boom")
	})
	<-done

	// Fatal handler runs in the panicking goroutine; give it a moment.
	require.Eventually(t, func() bool { return got != nil }, time.Second, time.Millisecond)
	require.ErrorContains(t, got, "boom")
}

// currentGoroutineMarker is a placeholder used only to exercise that a
// fiber's reactor handle is usable; corert does not track goroutine IDs
// (see the package doc on thread-affinity).
func currentGoroutineMarker() int64 { return time.Now().UnixNano() }
