package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a hubnet node: Initialized, Running or Shutdown
type State uint32

const (
	// Initialized is the state of a node that has not joined the overlay yet.
	Initialized State = iota
	// Running nodes accept connections and gossip.
	Running
	// Shutdown is terminal.
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 64

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(st State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(st))
}

// goFunc starts f in a goroutine tracked by the waitgroup. It returns false,
// and does not run f, when WGLIMIT goroutines are already running.
func (s *state) goFunc(f func()) bool {
	if atomic.AddInt32(&s.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&s.wgCount, -1)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.wgCount, -1)
		f()
	}()
	return true
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
