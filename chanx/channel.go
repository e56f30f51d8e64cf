package chanx

import (
	"context"
	"sync/atomic"

	"github.com/kestrelrun/corert/corerr"
)

// Channel is a bounded MPMC FIFO usable by any number of producers and
// consumers, fiber or OS thread. Unlike a raw Go channel, Push after
// Close returns corerr.ErrClosed instead of panicking, and Pop drains
// whatever was pushed before Close, in order, before it too starts
// returning corerr.ErrClosed — spec.md §3's "Channel closure drain"
// invariant.
//
// The zero value is not usable; construct with New.
type Channel[T any] struct {
	data     chan T
	closeSig chan struct{}
	closed   atomic.Bool
}

// New constructs a Channel with the given bounded capacity. Capacity
// less than 1 is treated as 1 — spec.md requires a positive capacity,
// and a rendezvous (unbuffered) channel isn't bounded in the sense this
// type models.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		data:     make(chan T, capacity),
		closeSig: make(chan struct{}),
	}
}

// Push suspends the caller until there is space, the channel is closed,
// or ctx is done, whichever comes first.
func (c *Channel[T]) Push(ctx context.Context, v T) error {
	if c.closed.Load() {
		return corerr.ErrClosed
	}
	select {
	case c.data <- v:
		return nil
	case <-c.closeSig:
		return corerr.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush pushes without suspending, returning corerr.ErrFull if there
// is no spare capacity right now.
func (c *Channel[T]) TryPush(v T) error {
	if c.closed.Load() {
		return corerr.ErrClosed
	}
	select {
	case c.data <- v:
		return nil
	default:
		return corerr.ErrFull
	}
}

// Pop suspends the caller until an element is available, the channel is
// closed and fully drained, or ctx is done.
func (c *Channel[T]) Pop(ctx context.Context) (T, error) {
	// Fast path: prefer delivering a buffered element even if Close has
	// already been observed, so a push-then-close sequence is never lost.
	select {
	case v := <-c.data:
		return v, nil
	default:
	}

	select {
	case v := <-c.data:
		return v, nil
	case <-c.closeSig:
		select {
		case v := <-c.data:
			return v, nil
		default:
			var zero T
			return zero, corerr.ErrClosed
		}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryPop pops without suspending, returning corerr.ErrEmpty if nothing
// is ready.
func (c *Channel[T]) TryPop() (T, error) {
	select {
	case v := <-c.data:
		return v, nil
	default:
	}
	if c.closed.Load() {
		var zero T
		return zero, corerr.ErrClosed
	}
	var zero T
	return zero, corerr.ErrEmpty
}

// Close marks the channel closed: no further Push succeeds, and Pop
// returns corerr.ErrClosed once the backlog is drained. Idempotent.
func (c *Channel[T]) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.closeSig)
	}
}

// Closed reports whether Close has been called. A true result does not
// imply Pop is exhausted — see the Pop drain semantics above.
func (c *Channel[T]) Closed() bool { return c.closed.Load() }

// Len reports the number of buffered, undelivered elements.
func (c *Channel[T]) Len() int { return len(c.data) }

// Cap reports the channel's bounded capacity.
func (c *Channel[T]) Cap() int { return cap(c.data) }
