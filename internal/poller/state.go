package poller

import (
	"errors"
	"slices"
)

// State is the orchestrator's externally observable state.
type State string

const (
	// StateIdle means no attempt has been made, or the last one was stopped.
	StateIdle State = "IDLE"
	// StateSubmitting means the submission request is in flight.
	StateSubmitting State = "SUBMITTING"
	// StatePolling means the job was accepted and its status is being polled.
	StatePolling State = "POLLING"
	// StateSucceeded means the job finished and produced media.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed means submission failed, the job failed, a status lookup
	// failed, or polling ran out of attempts.
	StateFailed State = "FAILED"
	// StateInsufficientCredits means the service refused the job for lack of
	// credits.
	StateInsufficientCredits State = "INSUFFICIENT_CREDITS"
)

// IsActive returns true while an attempt is in flight.
func (s State) IsActive() bool {
	return s == StateSubmitting || s == StatePolling
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("poller: invalid state transition")

// validTransitions defines which state transitions are allowed.
// Any state may start a new submission; an active attempt may also be
// stopped back to Idle.
var validTransitions = map[State][]State{
	StateIdle:                {StateSubmitting},
	StateSubmitting:          {StateSubmitting, StatePolling, StateFailed, StateInsufficientCredits, StateIdle},
	StatePolling:             {StateSubmitting, StatePolling, StateSucceeded, StateFailed, StateInsufficientCredits, StateIdle},
	StateSucceeded:           {StateSubmitting},
	StateFailed:              {StateSubmitting},
	StateInsufficientCredits: {StateSubmitting},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}
