package reactor

import "sync/atomic"

// State is the lifecycle of a Reactor.
//
//	StateAwake -> StateRunning   [Run]
//	StateRunning -> StateStopping [Stop]
//	StateStopping -> StateStopped [loop drains and returns]
//	StateAwake -> StateStopped    [Stop before Run]
//
// Use TryTransition (CAS) for every transition; there is no valid path
// back from StateStopped.
type State uint32

const (
	StateAwake State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state holder, adapted from the teacher's
// cache-padded atomic state machine (eventloop.FastState); padding is
// dropped here since reactors are per-goroutine, not per-call hot paths.
type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning:
		return true
	default:
		return false
	}
}
