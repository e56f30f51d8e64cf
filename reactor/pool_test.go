package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_RoundRobinAndAwaitOnAll(t *testing.T) {
	p := NewPool(WithDegree(4))
	p.Start()
	t.Cleanup(p.Stop)

	require.Equal(t, 4, p.Size())

	seen := make(map[uint64]int)
	for i := 0; i < 8; i++ {
		seen[p.GetNextReactor().ID()]++
	}
	require.Len(t, seen, 4, "round robin should touch every reactor")
	for _, n := range seen {
		require.Equal(t, 2, n)
	}

	var mu sync.Mutex
	counter := 0
	err := p.AwaitOnAll(func(*Context) {
		mu.Lock()
		counter++
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, 4, counter, "S6: every reactor increments the shared counter before AwaitOnAll returns")
}

func TestPool_StopDrainsAllReactors(t *testing.T) {
	p := NewPool(WithDegree(3))
	p.Start()

	for _, r := range p.Reactors() {
		r.Spawn(func(*Context) {})
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop within deadline")
	}

	for _, r := range p.Reactors() {
		require.Equal(t, StateStopped, r.State())
	}
}
