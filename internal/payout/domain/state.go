package domain

import "fmt"

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusReady, StatusCanceled},
	StatusReady:      {StatusProcessing, StatusCanceled},
	StatusProcessing: {StatusPaid, StatusFailed, StatusCanceled},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal payouts are never reopened; retries need a new batch.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCanceled
}

// Mutable reports whether the reserved set may still change.
func (s Status) Mutable() bool {
	return s == StatusScheduled || s == StatusReady
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusReady, StatusProcessing, StatusPaid, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// TransitionError reports a rejected payout operation. To is the target
// state, or the operation name for non-transition operations like reconcile.
type TransitionError struct {
	From Status
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid_state_transition: payout %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }
