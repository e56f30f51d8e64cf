package chanx

import (
	"context"
	"fmt"
	"sync"
)

// Done is a one-shot, edge-triggered event: Unset -> Notify -> Set.
// Notify is idempotent; Wait on an already-Set Done returns immediately.
type Done struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewDone constructs a Done in the Unset state.
func NewDone() *Done {
	return &Done{ch: make(chan struct{})}
}

// Notify transitions the Done to Set, waking every current and future
// Wait call. Repeated calls are no-ops.
func (d *Done) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set {
		d.set = true
		close(d.ch)
	}
}

// Wait suspends the caller until Notify has been called, or ctx is
// done. Returns immediately, nil, if already Set.
func (d *Done) Wait(ctx context.Context) error {
	d.mu.Lock()
	ch := d.ch
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSet reports whether Notify has been called since construction or
// the last Reset.
func (d *Done) IsSet() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set
}

// Reset returns a Set Done to Unset. Per spec.md §4.C this is only
// legal when no fiber or thread is currently waiting; callers are
// responsible for that external guarantee (e.g. by only resetting from
// the single owner that also arms the next Notify), since the race
// cannot be checked from inside Done without a waiter registry that
// would defeat the point of a lightweight one-shot event. Reset on an
// already-Unset Done is a programmer error.
func (d *Done) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set {
		return fmt.Errorf("chanx: Done.Reset called while already unset")
	}
	d.set = false
	d.ch = make(chan struct{})
	return nil
}
