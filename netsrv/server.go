package netsrv

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kestrelrun/corert/chanx"
	"github.com/kestrelrun/corert/reactor"
)

// DefaultBacklog matches spec.md §4.E.
const DefaultBacklog = 64

// ConnectionHandler is a fiber-owned object holding a connected socket.
// Run must block until the connection is done (peer closed, error, or
// the socket is shut down by AcceptServer during drain) and then
// return; it must not retain the socket afterward.
type ConnectionHandler interface {
	Socket() net.Conn
	Run(ctx context.Context) error
}

// Factory constructs a ConnectionHandler bound to a specific reactor,
// mirroring spec.md §6's "(Reactor*, condvar*) -> ConnectionHandler*"
// contract; the condvar there is replaced by the message-passing
// self-unlink AcceptServer uses instead (see DESIGN.md).
type Factory func(rc *reactor.Context, conn net.Conn) ConnectionHandler

// Logger is the minimal logging seam this package depends on.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Errorf(string, ...any) {}

// Option configures an AcceptServer at construction.
type Option func(*config)

type config struct {
	backlog      int
	logger       Logger
	catchSignals bool
}

func WithBacklog(n int) Option   { return func(c *config) { c.backlog = n } }
func WithLogger(l Logger) Option { return func(c *config) { c.logger = l } }

// WithSignals enables or disables SIGINT/SIGTERM-triggered shutdown.
// Enabled by default, per spec.md §4.E.
func WithSignals(enabled bool) Option { return func(c *config) { c.catchSignals = enabled } }

// AcceptServer binds a TCP listener and runs an accept-loop fiber that
// hands each accepted connection to a round-robin reactor.Pool reactor.
type AcceptServer struct {
	listener net.Listener
	pool     *reactor.Pool
	acceptR  *reactor.Reactor
	factory  Factory
	logger   Logger

	mu        sync.Mutex
	live      map[ConnectionHandler]struct{}
	emptyCond *chanx.CondVar

	stopped  *chanx.Done
	stopOnce sync.Once

	sigCh   chan os.Signal
	sigStop chan struct{}
}

// New binds a listener on address (network is always "tcp") and
// constructs an AcceptServer. acceptR is the reactor that owns the live
// connection set and runs the accept loop's Post'd continuations; pool
// supplies the round-robin reactor for each new handler.
func New(acceptR *reactor.Reactor, pool *reactor.Pool, address string, factory Factory, opts ...Option) (*AcceptServer, error) {
	cfg := config{backlog: DefaultBacklog, logger: noopLogger{}, catchSignals: true}
	for _, o := range opts {
		o(&cfg)
	}

	ln, err := listen("tcp", address, cfg.backlog)
	if err != nil {
		return nil, fmt.Errorf("netsrv: listen: %w", err)
	}

	s := &AcceptServer{
		listener: ln,
		pool:     pool,
		acceptR:  acceptR,
		factory:  factory,
		logger:   cfg.logger,
		live:     make(map[ConnectionHandler]struct{}),
		stopped:  chanx.NewDone(),
	}
	s.emptyCond = chanx.NewCondVar(&s.mu)

	if cfg.catchSignals {
		s.sigCh = make(chan os.Signal, 2)
		s.sigStop = make(chan struct{})
		signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM)
		go s.handleSignals()
	}

	return s, nil
}

// Addr returns the bound local address, useful for ephemeral-port
// ("0") binds in tests.
func (s *AcceptServer) Addr() net.Addr { return s.listener.Addr() }

func (s *AcceptServer) handleSignals() {
	select {
	case <-s.sigCh:
		_ = s.Stop(context.Background())
	case <-s.sigStop:
	}
}

// Run starts the accept loop. It blocks the calling goroutine in the
// Accept call, posting each success back to acceptR; it returns once
// the listener is closed (by Stop, or a signal).
func (s *AcceptServer) Run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// spec.md §4.E: typical (acceptor closed) or otherwise; this
			// implementation does not distinguish transient errors from
			// a closed acceptor (see DESIGN.md's Open Question decisions).
			s.logger.Debugf("netsrv: accept loop exiting: %v", err)
			return
		}

		handlerR := s.pool.GetNextReactor()
		if err := s.acceptR.Post(func(*reactor.Context) {
			handler := s.factory(handlerR.Context(), conn)

			s.mu.Lock()
			s.live[handler] = struct{}{}
			s.mu.Unlock()

			handlerR.Spawn(func(hctx *reactor.Context) {
				if err := handler.Run(context.Background()); err != nil {
					s.logger.Debugf("netsrv: handler exited: %v", err)
				}
				s.unlink(handler)
			})
		}); err != nil {
			// acceptR already stopped; nothing to do but drop this
			// connection, since a handler can never be registered.
			_ = conn.Close()
		}
	}
}

// unlink self-removes handler from the live set via a closure posted
// back to acceptR, the message-passing variant of the intrusive list
// spec.md's Design Notes §9 describes, avoiding lock-free list surgery.
func (s *AcceptServer) unlink(handler ConnectionHandler) {
	_ = s.acceptR.Post(func(*reactor.Context) {
		s.mu.Lock()
		delete(s.live, handler)
		empty := len(s.live) == 0
		s.mu.Unlock()
		if empty {
			s.emptyCond.Broadcast()
		}
	})
}

// Context exposes the accept-loop reactor's *reactor.Context, for
// diagnostics or composition.
func (s *AcceptServer) Context() *reactor.Context { return s.acceptR.Context() }

// Stop closes the listener (breaking the accept loop), shuts down every
// live connection's socket (which wakes each handler fiber with an
// error, prompting self-removal), waits for the live set to drain, and
// notifies the overall stopped Done. Idempotent; safe to call from
// any goroutine, including the signal handler.
func (s *AcceptServer) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.sigStop != nil {
			close(s.sigStop)
			signal.Stop(s.sigCh)
		}

		_ = s.listener.Close()

		s.mu.Lock()
		for h := range s.live {
			_ = h.Socket().Close()
		}
		s.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			s.mu.Lock()
			for len(s.live) != 0 {
				if err := s.emptyCond.Wait(ctx); err != nil {
					s.mu.Unlock()
					return
				}
			}
			s.mu.Unlock()
			close(drained)
		}()

		select {
		case <-drained:
			s.stopped.Notify()
		case <-ctx.Done():
			stopErr = fmt.Errorf("netsrv: drain did not finish: %w", ctx.Err())
		}
	})
	return stopErr
}

// Done returns a Done notified once Stop has closed the listener and
// every accepted connection's handler fiber has returned. Stop does not
// wait for Run itself to return.
func (s *AcceptServer) Done() *chanx.Done { return s.stopped }

// LiveCount reports the number of currently-linked connection handlers,
// useful for tests and diagnostics.
func (s *AcceptServer) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
