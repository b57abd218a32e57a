package domain

import "fmt"

var transitions = map[Status][]Status{
	StatusPending:  {StatusEarned, StatusClawedBack, StatusDisputed},
	StatusEarned:   {StatusPayable, StatusClawedBack, StatusDisputed},
	StatusPayable:  {StatusPaid, StatusClawedBack, StatusDisputed},
	StatusDisputed: {StatusEarned, StatusPayable, StatusClawedBack},
}

// CanTransition reports whether from -> to is an allowed ledger edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusClawedBack
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEarned, StatusPayable, StatusPaid, StatusClawedBack, StatusDisputed:
		return true
	}
	return false
}

// TransitionError is returned for edges outside the state machine.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid_state_transition: commission %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }
