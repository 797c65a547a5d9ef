package highway

import "sync/atomic"

// State is a highway's lifecycle state.
//
//	Awake (0) --New()--> Running (3)
//	Running --sleep--> Sleeping (2) --wake--> Running
//	Running/Sleeping --Destroy()--> Terminating (4) --worker exits--> Terminated (1)
//
// Values are deliberately non-sequential (kept from the numbering this
// runtime's state machine has always used) — Terminated=1 and
// Sleeping=2 predate Running=3/Terminating=4 and nothing depends on
// ordering between them.
type State uint64

const (
	StateAwake State = 0
	StateTerminated State = 1
	StateSleeping State = 2
	StateRunning State = 3
	StateTerminating State = 4
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free CAS state machine: no validation on Load/Store,
// pure CAS on transition, so the hot path (checked every loop iteration)
// never takes a lock.
type fastState struct {
	v atomic.Uint64
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *fastState) Load() State { return State(s.v.Load()) }

func (s *fastState) Store(state State) { s.v.Store(uint64(state)) }

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}
