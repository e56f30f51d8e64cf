package offload

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/kestrelrun/corert/chanx"
	"github.com/kestrelrun/corert/corerr"
)

// Logger is the minimal logging seam this package depends on: the
// Errorf half of reactor.Logger.
type Logger interface {
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...any) {}

type job struct {
	fn     func(context.Context) (any, error)
	ctx    context.Context
	done   *chanx.Done
	result any
	err    error
}

// Pool is a FiberQueueThreadPool: K worker goroutines draining a bounded
// job channel.
type Pool struct {
	jobs    *chanx.Channel[*job]
	wg      sync.WaitGroup
	logger  Logger
	closeMu sync.Mutex
	closed  bool
}

// Option configures a Pool.
type Option func(*config)

type config struct {
	logger        Logger
	queueCapacity int
}

func WithLogger(l Logger) Option { return func(c *config) { c.logger = l } }

// WithQueueCapacity sets the bounded job channel's capacity. Defaults
// to 4x worker count.
func WithQueueCapacity(n int) Option { return func(c *config) { c.queueCapacity = n } }

// New constructs and starts a Pool with the given number of worker
// goroutines.
func New(workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	cfg := config{logger: noopLogger{}, queueCapacity: workers * 4}
	for _, o := range opts {
		o(&cfg)
	}

	p := &Pool{
		jobs:   chanx.New[*job](cfg.queueCapacity),
		logger: cfg.logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	bg := context.Background()
	for {
		j, err := p.jobs.Pop(bg)
		if err != nil {
			return // channel closed: drain complete, exit.
		}
		p.run(j)
	}
}

// run executes a job's closure, converting a panic into a corerr
// Internal error delivered to the waiting Await call rather than
// aborting the process. spec.md §4.D/§7 call the exception-on-worker
// policy fatal; DESIGN.md records the decision to take the
// Design Notes' offered alternative (surface as a result error) since a
// library should not unilaterally kill its host process.
func (p *Pool) run(j *job) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Errorf("offload: worker panic: %v\n%s", v, debug.Stack())
			j.err = corerr.New(corerr.KindInternal, fmt.Sprintf("offload: panic: %v", v))
		}
		j.done.Notify()
	}()
	j.result, j.err = j.fn(j.ctx)
}

// Await packages fn as a job, enqueues it, suspends the caller until a
// worker has run it, and returns its result. If ctx is done before a
// worker picks the job up, or before it completes, Await returns
// ctx.Err(); the job itself is not cancelled mid-flight since the
// closure contract (spec.md §6) requires it be self-contained.
func (p *Pool) Await(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	j := &job{fn: fn, ctx: ctx, done: chanx.NewDone()}
	if err := p.jobs.Push(ctx, j); err != nil {
		return nil, err
	}
	if err := j.done.Wait(ctx); err != nil {
		return nil, err
	}
	return j.result, j.err
}

// Shutdown closes the job channel and waits for every worker to drain
// and exit, or for ctx to be done, whichever comes first. After
// Shutdown returns nil, calling Await is a programmer error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	p.jobs.Close()

	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
