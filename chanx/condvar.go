package chanx

import (
	"context"
	"sync"
)

// CondVar is a context-aware condition variable, broadcast-only (no
// per-waiter Signal), built on a channel-swap rather than sync.Cond so
// Wait can honor ctx cancellation — sync.Cond.Wait cannot. The caller
// must hold mu when calling Wait, exactly as with sync.Cond; Wait
// releases it while suspended and re-acquires before returning.
type CondVar struct {
	mu       sync.Locker
	waitMu   sync.Mutex
	waitChan chan struct{}
}

// NewCondVar constructs a CondVar guarded by mu.
func NewCondVar(mu sync.Locker) *CondVar {
	return &CondVar{mu: mu, waitChan: make(chan struct{})}
}

// Wait suspends the calling fiber until Broadcast is called or ctx is
// done, releasing mu while suspended.
func (c *CondVar) Wait(ctx context.Context) error {
	c.waitMu.Lock()
	ch := c.waitChan
	c.waitMu.Unlock()

	c.mu.Unlock()
	defer c.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast wakes every fiber currently in Wait.
func (c *CondVar) Broadcast() {
	c.waitMu.Lock()
	close(c.waitChan)
	c.waitChan = make(chan struct{})
	c.waitMu.Unlock()
}
