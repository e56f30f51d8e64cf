package chanx

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelrun/corert/corerr"
	"github.com/stretchr/testify/require"
)

func TestChannel_ClosureDrain(t *testing.T) {
	ctx := context.Background()
	ch := New[int](16)

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Push(ctx, i))
	}
	ch.Close()

	for i := 0; i < 5; i++ {
		v, err := ch.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}

	_, err := ch.Pop(ctx)
	require.ErrorIs(t, err, corerr.ErrClosed)

	require.ErrorIs(t, ch.Push(ctx, 99), corerr.ErrClosed)
}

func TestChannel_Backpressure(t *testing.T) {
	ctx := context.Background()
	ch := New[int](16)

	const n = 1000
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i := 0; i < n; i++ {
			require.NoError(t, ch.Push(ctx, i))
		}
	}()

	for i := 0; i < n; i++ {
		time.Sleep(time.Microsecond)
		v, err := ch.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v, "total order must be preserved under backpressure")
	}
	<-produced
}

func TestChannel_TryPushFull(t *testing.T) {
	ch := New[int](1)
	require.NoError(t, ch.TryPush(1))
	require.ErrorIs(t, ch.TryPush(2), corerr.ErrFull)
}

func TestChannel_TryPopEmpty(t *testing.T) {
	ch := New[int](1)
	_, err := ch.TryPop()
	require.ErrorIs(t, err, corerr.ErrEmpty)
}

func TestChannel_PushSuspendsUntilSpace(t *testing.T) {
	ctx := context.Background()
	ch := New[int](1)
	require.NoError(t, ch.Push(ctx, 1))

	pushed := make(chan struct{})
	go func() {
		require.NoError(t, ch.Push(ctx, 2))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should have suspended while channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := ch.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after space freed")
	}
}
