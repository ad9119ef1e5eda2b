package transport

import "sync/atomic"

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// stateMachine only ever moves forward.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// transition moves from exactly from to to.
func (m *stateMachine) transition(from, to State) bool {
	if to <= from {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// advance moves to to from any earlier state and reports the prior state.
func (m *stateMachine) advance(to State) (State, bool) {
	for {
		cur := m.load()
		if cur >= to {
			return cur, false
		}
		if m.v.CompareAndSwap(int32(cur), int32(to)) {
			return cur, true
		}
	}
}
