package job

import (
	"fmt"

	"jobsched/internal/shared"
)

// State represents the lifecycle state of a Run.
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSuccess   State = "SUCCESS"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the run can no longer change state.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled:
		return true
	}
	return false
}

// validTransitions defines the allowed state transitions for runs.
var validTransitions = map[State][]State{
	StateScheduled: {StateRunning, StateQueued, StateCancelled},
	StateQueued:    {StateRunning, StateCancelled},
	StateRunning:   {StateSuccess, StateFailed, StateCancelled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseState converts a stored string into a State.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateScheduled, StateQueued, StateRunning, StateSuccess, StateFailed, StateCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown run state %q", shared.ErrValidation, s)
}

// TransitionError is returned when a run is asked to make a transition its
// current state does not allow.
type TransitionError struct {
	RunID string
	From  State
	To    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run state transition: %s → %s (run %s)", e.From, e.To, e.RunID)
}

// Unwrap lets errors.Is match shared.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return shared.ErrInvalidTransition
}
