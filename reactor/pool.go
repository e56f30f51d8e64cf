package reactor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool owns N reactors, each given its own goroutine, and distributes
// work across them round-robin.
type Pool struct {
	reactors []*Reactor
	next     atomic.Uint64
	wg       errgroup.Group
	started  atomic.Bool
}

// PoolOption configures a Pool at construction.
type PoolOption func(*poolConfig)

type poolConfig struct {
	degree       int
	reactorOpts  []Option
}

// WithDegree sets the number of reactors. Defaults to
// runtime.GOMAXPROCS(0), matching spec.md §4.B's "hardware parallelism"
// default.
func WithDegree(n int) PoolOption {
	return func(c *poolConfig) { c.degree = n }
}

// WithReactorOptions applies opts to every reactor the pool creates.
func WithReactorOptions(opts ...Option) PoolOption {
	return func(c *poolConfig) { c.reactorOpts = append(c.reactorOpts, opts...) }
}

// NewPool constructs a Pool and its reactors. Call Start to begin
// running them.
func NewPool(opts ...PoolOption) *Pool {
	cfg := poolConfig{degree: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.degree < 1 {
		cfg.degree = 1
	}

	p := &Pool{reactors: make([]*Reactor, cfg.degree)}
	for i := range p.reactors {
		p.reactors[i] = New(cfg.reactorOpts...)
	}
	return p
}

// Start runs every reactor's loop on its own goroutine. Safe to call
// once; subsequent calls are no-ops.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, r := range p.reactors {
		r := r
		p.wg.Go(func() error {
			return r.Run()
		})
	}
}

// Stop requests every reactor to stop, then blocks until all have fully
// drained and exited.
func (p *Pool) Stop() {
	for _, r := range p.reactors {
		r.Stop()
	}
	_ = p.wg.Wait()
}

// Size returns the number of reactors in the pool.
func (p *Pool) Size() int { return len(p.reactors) }

// GetNextContext returns the Context of the next reactor in round-robin
// order. The counter may race harmlessly across callers; spec.md §4.B
// notes approximate fairness is sufficient.
func (p *Pool) GetNextContext() *Context {
	return p.GetNextReactor().ctx
}

// GetNextReactor is GetNextContext's reactor-returning counterpart, used
// where callers need the Reactor itself (e.g. to Spawn or read Stats).
func (p *Pool) GetNextReactor() *Reactor {
	n := p.next.Add(1) - 1
	return p.reactors[n%uint64(len(p.reactors))]
}

// Reactors returns the pool's reactors in a fixed order, for iteration
// (e.g. by AwaitOnAll or diagnostics). The returned slice must not be
// mutated.
func (p *Pool) Reactors() []*Reactor { return p.reactors }

// AwaitOnAll invokes fn once on each reactor's own goroutine, blocking
// the caller until every invocation has completed. Built on
// golang.org/x/sync/errgroup, the idiomatic fan-out/fan-in primitive for
// this, rather than a hand-rolled WaitGroup + channel pair.
func (p *Pool) AwaitOnAll(fn func(*Context)) error {
	var g errgroup.Group
	for _, r := range p.reactors {
		r := r
		g.Go(func() error {
			done := make(chan struct{})
			if err := r.Post(func(ctx *Context) {
				defer close(done)
				fn(ctx)
			}); err != nil {
				return fmt.Errorf("reactor %d: %w", r.ID(), err)
			}
			<-done
			return nil
		})
	}
	return g.Wait()
}
