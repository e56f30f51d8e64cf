package reactor

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelrun/corert/corerr"
)

// Context is the explicit per-reactor handle passed to fibers, replacing
// the thread-local slot spec.md describes (see DESIGN.md's Open
// Question resolution: no hidden global state).
type Context struct {
	r *Reactor
}

// Reactor returns the owning Reactor, e.g. so a fiber can Post further
// work or Spawn child fibers.
func (c *Context) Reactor() *Reactor { return c.r }

// Post enqueues fn to run on the owning Reactor's goroutine. Equivalent
// to calling Reactor.Post directly; provided on Context for fibers that
// only hold a Context.
func (c *Context) Post(fn func(*Context)) error { return c.r.Post(fn) }

// niceBucket holds tasks queued at one nice level.
type niceBucket struct {
	mu    sync.Mutex
	tasks []func(*Context)
}

func (b *niceBucket) push(fn func(*Context)) {
	b.mu.Lock()
	b.tasks = append(b.tasks, fn)
	b.mu.Unlock()
}

// drain swaps out the current backlog for an empty slice and returns
// what was queued, so new arrivals during execution wait for the next
// tick rather than starving later buckets (see Reactor.tick).
func (b *niceBucket) drain() []func(*Context) {
	b.mu.Lock()
	tasks := b.tasks
	b.tasks = nil
	b.mu.Unlock()
	return tasks
}

// MaxNiceLevel bounds the nice-level bucket count. Fibers may request
// any level in [0, MaxNiceLevel]; spec.md only requires that higher
// nice levels never run ahead of lower ones, which a fixed small bucket
// count gets for free.
const MaxNiceLevel = 7

// Reactor is a single-threaded event loop: one dedicated goroutine
// draining a nice-level-ordered inbox of posted closures, FIFO within a
// level.
type Reactor struct {
	id      uint64
	state   *fastState
	buckets [MaxNiceLevel + 1]niceBucket
	wake    chan struct{}
	done    chan struct{}

	fatal  func(error)
	logger Logger

	fiberCount atomic.Int64
	ctx        *Context

	// Stats, fulfilling SPEC_FULL.md's reactor metrics hook.
	ticks      atomic.Int64
	tasksRun   atomic.Int64
	lastTickNs atomic.Int64
}

// Option configures a Reactor at construction.
type Option func(*reactorConfig)

type reactorConfig struct {
	logger Logger
	fatal  func(error)
}

// WithLogger sets the Logger the default fatal handler uses to report
// fiber panics. Defaults to NoOpLogger.
func WithLogger(l Logger) Option {
	return func(c *reactorConfig) { c.logger = l }
}

// WithFatalHandler overrides what happens when a fiber panics: spec.md
// §4.A requires this to be fatal to the process. The default handler
// logs and calls os.Exit(1); tests should override it to instead record
// the panic and avoid exiting the test binary.
func WithFatalHandler(fn func(error)) Option {
	return func(c *reactorConfig) { c.fatal = fn }
}

var reactorIDCounter atomic.Uint64

// New constructs a Reactor. The caller must call Run to start its
// goroutine.
func New(opts ...Option) *Reactor {
	cfg := reactorConfig{logger: NoOpLogger()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.fatal == nil {
		cfg.fatal = func(err error) {
			cfg.logger.Errorf("reactor: fatal fiber error: %v", err)
			os.Exit(1)
		}
	}

	r := &Reactor{
		id:     reactorIDCounter.Add(1),
		state:  newFastState(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		fatal:  cfg.fatal,
		logger: cfg.logger,
	}
	r.ctx = &Context{r: r}
	return r
}

// ID is a stable, process-unique identifier for this reactor, useful
// for logging and round-robin diagnostics.
func (r *Reactor) ID() uint64 { return r.id }

// Context returns this reactor's Context, the handle fibers use to Post
// further work or Spawn children.
func (r *Reactor) Context() *Context { return r.ctx }

// Run runs the reactor's loop on the calling goroutine and blocks until
// Stop is called and the inbox has been fully drained. Calling Run twice
// (or after Stop) is a programmer error: that call returns immediately
// with an error.
func (r *Reactor) Run() error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		return fmt.Errorf("reactor: already running or stopped")
	}
	r.loop()
	return nil
}

func (r *Reactor) loop() {
	for {
		ran := r.tick()
		if r.state.Load() == StateStopping && !ran {
			r.state.TryTransition(StateStopping, StateStopped)
			close(r.done)
			return
		}
		if !ran {
			select {
			case <-r.wake:
			}
		}
	}
}

// tick drains every bucket once, lowest nice level first, and reports
// whether any task ran.
func (r *Reactor) tick() (ran bool) {
	start := time.Now()
	for level := range r.buckets {
		tasks := r.buckets[level].drain()
		for _, fn := range tasks {
			ran = true
			r.runGuarded(fn)
		}
	}
	if ran {
		r.ticks.Add(1)
		r.lastTickNs.Store(time.Since(start).Nanoseconds())
	}
	return ran
}

func (r *Reactor) runGuarded(fn func(*Context)) {
	defer func() {
		if v := recover(); v != nil {
			r.fatal(fmt.Errorf("panic: %v\n%s", v, debug.Stack()))
		}
	}()
	fn(r.ctx)
	r.tasksRun.Add(1)
}

func (r *Reactor) wakeup() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn to run on this reactor's goroutine at nice level 0
// (the default, latency-critical level). Safe to call from any
// goroutine. Returns ErrStopped if the reactor is no longer accepting
// work — per spec.md §4.A, posting to a stopped reactor is a
// programmer error the caller must not retry.
func (r *Reactor) Post(fn func(*Context)) error {
	return r.PostNice(0, fn)
}

// PostNice enqueues fn at the given nice level (0..MaxNiceLevel; higher
// runs later within a tick, never ahead of a lower level).
func (r *Reactor) PostNice(nice int, fn func(*Context)) error {
	if !r.state.CanAcceptWork() {
		return fmt.Errorf("reactor %d: %w", r.id, errStopped)
	}
	if nice < 0 {
		nice = 0
	}
	if nice > MaxNiceLevel {
		nice = MaxNiceLevel
	}
	r.buckets[nice].push(fn)
	r.wakeup()
	return nil
}

// Spawn starts fn as a detached fiber: a goroutine given this reactor's
// Context. The fiber outlives the call that spawned it; its lifetime
// ends when fn returns. Fibers must route any mutation of reactor-owned
// state through Context.Post rather than touching it directly from the
// fiber's own goroutine, preserving the single-writer invariant spec.md
// §3 requires even though Go cannot enforce it statically.
func (r *Reactor) Spawn(fn func(*Context)) {
	r.fiberCount.Add(1)
	go func() {
		defer r.fiberCount.Add(-1)
		defer func() {
			if v := recover(); v != nil {
				r.fatal(fmt.Errorf("fiber panic: %v\n%s", v, debug.Stack()))
			}
		}()
		fn(r.ctx)
	}()
}

// Stop requests the reactor to stop accepting new work and exit its
// loop once the inbox drains. It does not wait for in-flight Spawn'd
// fibers; callers that need that should track their own completion
// (see netsrv.AcceptServer for the pattern).
func (r *Reactor) Stop() {
	if r.state.TryTransition(StateRunning, StateStopping) {
		r.wakeup()
		return
	}
	if r.state.TryTransition(StateAwake, StateStopped) {
		// Run was never called: the loop goroutine that would otherwise
		// close done on exit will never start, so close it here.
		close(r.done)
	}
}

// Done returns a channel closed once the reactor's loop has fully
// exited, i.e. Run has returned.
func (r *Reactor) Done() <-chan struct{} { return r.done }

// State returns the reactor's current lifecycle state.
func (r *Reactor) State() State { return r.state.Load() }

// Stats is a snapshot of reactor throughput counters, the metrics hook
// SPEC_FULL.md §12 adds.
type Stats struct {
	Ticks       int64
	TasksRun    int64
	FiberCount  int64
	LastTickNs  int64
}

func (r *Reactor) Stats() Stats {
	return Stats{
		Ticks:      r.ticks.Load(),
		TasksRun:   r.tasksRun.Load(),
		FiberCount: r.fiberCount.Load(),
		LastTickNs: r.lastTickNs.Load(),
	}
}

var errStopped = corerr.ErrStopped
