package netcli

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/corert/reactor"
)

func newRunningReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	go func() { _ = r.Run() }()
	t.Cleanup(r.Stop)
	return r
}

func TestClientChannel_ConnectSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	r := newRunningReactor(t)
	cc := New(r, ln.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cc.Connect(ctx, 2000))
	require.Equal(t, StateConnected, cc.State())
}

func TestClientChannel_ConnectTimesOutAgainstDeadEndpoint(t *testing.T) {
	// 127.0.0.1:1 is reserved and will refuse immediately or hang, either
	// way exercising the backoff-until-deadline path within a short window.
	r := newRunningReactor(t)
	cc := New(r, "127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := cc.Connect(ctx, 300)
	require.Error(t, err)
	require.NotEqual(t, StateConnected, cc.State())
}

// TestClientChannel_ReconnectsAfterServerRestart exercises S3: the server
// drops the connection, HandleErrorStatus arms a reconnect fiber, and a
// fresh listener on the same address is picked up without caller action.
func TestClientChannel_ReconnectsAfterServerRestart(t *testing.T) {
	addr := "127.0.0.1:0"
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	boundAddr := ln.Addr().String()

	acceptOnce := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptOnce <- conn
		}
	}()

	r := newRunningReactor(t)
	cc := New(r, boundAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cc.Connect(ctx, 2000))

	serverConn := <-acceptOnce
	serverConn.Close()
	ln.Close()

	cc.HandleErrorStatus()

	// Restart a listener on the same address for the reconnect fiber to find.
	ln2, err := net.Listen("tcp", boundAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln2.Close() })
	accepted := make(chan struct{})
	go func() {
		conn, err := ln2.Accept()
		if err == nil {
			close(accepted)
			conn.Close()
		}
	}()

	select {
	case <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect did not reach the restarted listener in time")
	}

	require.NoError(t, cc.Shutdown(context.Background()))
}

// TestClientChannel_ShutdownDuringReconnectGap races Shutdown against an
// in-flight reconnect fiber that never finds a listener to reconnect to,
// so it stays parked inside resolveAndConnect's backoff loop. Per spec.md
// §8 property 6 and scenario S3, Shutdown must still return promptly
// instead of blocking on a reconnectActive flag the fiber never clears.
func TestClientChannel_ShutdownDuringReconnectGap(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	boundAddr := ln.Addr().String()

	acceptOnce := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptOnce <- conn
		}
	}()

	r := newRunningReactor(t)
	cc := New(r, boundAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cc.Connect(ctx, 2000))

	serverConn := <-acceptOnce
	serverConn.Close()
	ln.Close() // no listener survives: the reconnect fiber can never succeed.

	cc.HandleErrorStatus()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	start := time.Now()
	require.NoError(t, cc.Shutdown(shutdownCtx))
	require.Less(t, time.Since(start), time.Second)
}

func TestClientChannel_ShutdownIsIdempotent(t *testing.T) {
	r := newRunningReactor(t)
	cc := New(r, "127.0.0.1:1")
	require.NoError(t, cc.Shutdown(context.Background()))
	require.NoError(t, cc.Shutdown(context.Background()))
	require.Equal(t, StateShuttingDown, cc.State())
}
