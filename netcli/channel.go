package netcli

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/kestrelrun/corert/chanx"
	"github.com/kestrelrun/corert/corerr"
	"github.com/kestrelrun/corert/reactor"
)

// ContextDialer is the dial seam, named and shaped after the teacher's
// grpc-proxy/proxy.ContextDialer so DialWithCancel/DialWithTimeout-style
// wrapping composes the same way.
type ContextDialer func(ctx context.Context, addr string) (net.Conn, error)

var defaultDialer net.Dialer

// DialTCP is the default ContextDialer, dialing plain TCP.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	return defaultDialer.DialContext(ctx, "tcp", addr)
}

const (
	initialBackoff           = 100 * time.Millisecond
	backoffStep              = 100 * time.Millisecond
	maxBackoff               = time.Second
	deadlineMargin           = 2 * time.Millisecond
	reconnectAttemptDeadline = 30 * time.Second

	// defaultReconnectNice is the nice level the reconnect fiber is
	// dispatched at. Per spec.md §4.A, background maintenance fibers set
	// a nice level > 0 so latency-critical nice-0 work (live I/O on
	// other channels sharing the reactor) is never queued behind it.
	defaultReconnectNice = 1
)

// Option configures a ClientChannel at construction.
type Option func(*config)

type config struct {
	dialer  ContextDialer
	logger  reactor.Logger
	limiter *catrate.Limiter
	nice    int
}

// WithDialer overrides the ContextDialer; defaults to DialTCP.
func WithDialer(d ContextDialer) Option { return func(c *config) { c.dialer = d } }

// WithLogger sets the logger used for reconnect diagnostics.
func WithLogger(l reactor.Logger) Option { return func(c *config) { c.logger = l } }

// WithRateLimiter shapes reconnect attempts through a go-catrate Limiter,
// keyed by the channel's address, so a flapping endpoint can't be hammered
// by repeated resolve-and-connect cycles across many ClientChannels.
func WithRateLimiter(l *catrate.Limiter) Option { return func(c *config) { c.limiter = l } }

// WithReconnectNice overrides the nice level (see reactor.MaxNiceLevel) the
// reconnect fiber is dispatched at. Defaults to defaultReconnectNice.
func WithReconnectNice(nice int) Option { return func(c *config) { c.nice = nice } }

// ClientChannel maintains a connected TCP session to a single address,
// reconnecting in the background on failure. All socket-state mutation
// happens on the owning reactor.Reactor's goroutine; see spec.md §5's
// single-writer requirement.
type ClientChannel struct {
	r       *reactor.Reactor
	address string
	dialer  ContextDialer
	logger  reactor.Logger
	limiter *catrate.Limiter
	nice    int

	mu              sync.Mutex
	state           State
	conn            net.Conn
	shuttingDown    bool
	reconnectActive bool
	cond            *chanx.CondVar
}

// New constructs a ClientChannel bound to r (the Reactor whose goroutine
// owns the socket) and address (host:port). Connect must be called to
// establish the first connection.
func New(r *reactor.Reactor, address string, opts ...Option) *ClientChannel {
	cfg := config{dialer: DialTCP, logger: reactor.NoOpLogger(), nice: defaultReconnectNice}
	for _, o := range opts {
		o(&cfg)
	}
	c := &ClientChannel{
		r:       r,
		address: address,
		dialer:  cfg.dialer,
		logger:  cfg.logger,
		limiter: cfg.limiter,
		nice:    cfg.nice,
		state:   StateDisconnected,
	}
	c.cond = chanx.NewCondVar(&c.mu)
	return c
}

// State returns the channel's current lifecycle state.
func (c *ClientChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conn returns the live connection, or nil if not currently connected.
// Only safe to use from the owning reactor's fibers.
func (c *ClientChannel) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connect posts the resolve-and-connect algorithm to the owning reactor
// and blocks the caller until it completes or timeoutMs elapses. Safe to
// call from any goroutine.
func (c *ClientChannel) Connect(ctx context.Context, timeoutMs int) error {
	until := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	done := make(chan error, 1)
	if err := c.r.Post(func(rc *reactor.Context) {
		rc.Reactor().Spawn(func(*reactor.Context) {
			done <- c.resolveAndConnect(ctx, until)
		})
	}); err != nil {
		return fmt.Errorf("netcli: post connect: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return corerr.Wrap(corerr.KindAborted, "netcli: connect", ctx.Err())
	}
}

// resolveAndConnect implements spec.md §4.F's algorithm: resolve, attempt
// async connect bounded by `until`, back off on failure (100ms initial,
// +100ms growth, 1s cap), honoring a 2ms deadline margin before giving up.
func (c *ClientChannel) resolveAndConnect(ctx context.Context, until time.Time) error {
	sleepDur := initialBackoff

	for {
		c.mu.Lock()
		shuttingDown := c.shuttingDown
		c.mu.Unlock()
		if shuttingDown {
			return corerr.New(corerr.KindAborted, "netcli: shutting down")
		}

		if c.limiter != nil {
			if next, ok := c.limiter.Allow(c.address); !ok {
				if !next.Before(until) {
					return corerr.New(corerr.KindAborted, "netcli: rate limited past deadline")
				}
				time.Sleep(time.Until(next))
				continue
			}
		}

		attemptCtx, cancel := context.WithDeadline(ctx, until)
		conn, err := c.dialer(attemptCtx, c.address)
		cancel()
		if err == nil {
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetNoDelay(true)
			}
			c.mu.Lock()
			c.conn = conn
			c.state = StateConnected
			c.mu.Unlock()
			c.cond.Broadcast()
			return nil
		}

		now := time.Now()
		if now.Add(deadlineMargin) >= until {
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			c.cond.Broadcast()
			return corerr.Wrap(corerr.KindAborted, "netcli: connect deadline exceeded", err)
		}

		sleepUntil := now.Add(sleepDur)
		if deadline := until.Add(-deadlineMargin); sleepUntil.After(deadline) {
			sleepUntil = deadline
		}
		c.logger.Debugf("netcli: connect to %s failed, retrying: %v", c.address, err)
		time.Sleep(time.Until(sleepUntil))

		sleepDur += backoffStep
		if sleepDur > maxBackoff {
			sleepDur = maxBackoff
		}
	}
}

// HandleErrorStatus is invoked when an in-flight operation against the
// channel's socket fails. If no reconnect is already in flight and the
// channel isn't shutting down, it arms one asynchronously.
func (c *ClientChannel) HandleErrorStatus() {
	c.mu.Lock()
	if c.shuttingDown || c.reconnectActive {
		c.mu.Unlock()
		return
	}
	c.reconnectActive = true
	c.state = StateConnecting
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	// Dispatched at nice > 0 (see defaultReconnectNice / WithReconnectNice)
	// per spec.md §4.A: reconnect is background maintenance, never ahead
	// of nice-0 I/O on other fibers sharing this reactor.
	if err := c.r.PostNice(c.nice, func(rc *reactor.Context) {
		rc.Reactor().Spawn(c.reconnectAttempt)
	}); err != nil {
		c.finishReconnect()
	}
}

// finishReconnect clears reconnectActive and wakes anyone blocked in
// Shutdown. Every exit path out of reconnectAttempt must call this
// exactly once, including the shutting-down and deadline-exceeded paths,
// or Shutdown blocks forever waiting on a reconnect that already gave up.
func (c *ClientChannel) finishReconnect() {
	c.mu.Lock()
	c.reconnectActive = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// reconnectAttempt runs one resolve-and-connect cycle with a fresh 30s
// deadline, per spec.md §4.F, re-arming itself (via another nice>0 Post)
// if it exits still disconnected, rather than looping in place, so every
// attempt re-enters the reactor's nice-level scheduling.
func (c *ClientChannel) reconnectAttempt(*reactor.Context) {
	c.mu.Lock()
	shuttingDown := c.shuttingDown
	c.mu.Unlock()
	if shuttingDown {
		c.finishReconnect()
		return
	}

	until := time.Now().Add(reconnectAttemptDeadline)
	err := c.resolveAndConnect(context.Background(), until)

	c.mu.Lock()
	stillDisconnected := c.state != StateConnected
	shuttingDown = c.shuttingDown
	c.mu.Unlock()

	if err == nil || shuttingDown || !stillDisconnected {
		c.finishReconnect()
		return
	}

	// re-arm: schedule the next attempt through the same nice-level
	// bucket rather than looping directly.
	if postErr := c.r.PostNice(c.nice, func(rc *reactor.Context) {
		rc.Reactor().Spawn(c.reconnectAttempt)
	}); postErr != nil {
		c.finishReconnect()
	}
}

// Shutdown marks the channel as shutting down, closes the socket (waking
// any in-flight operation with an error), and waits until any in-flight
// reconnect fiber has observed the shutdown and exited. Idempotent.
func (c *ClientChannel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shuttingDown = true
	c.state = StateShuttingDown
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for c.reconnectActive {
		if err := c.cond.Wait(ctx); err != nil {
			c.mu.Unlock()
			return corerr.Wrap(corerr.KindAborted, "netcli: shutdown wait", err)
		}
	}
	c.mu.Unlock()
	return nil
}
