package run

import "fmt"

// State is a run's lifecycle position: Pending -> Running -> {Succeeded, Failed}.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether moving to the target state is legal.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}

// transition enforces the state machine; an illegal move is a bug.
func transition(from, to State) (State, error) {
	if !from.CanTransition(to) {
		return from, fmt.Errorf("illegal run transition %s -> %s", from, to)
	}
	return to, nil
}
