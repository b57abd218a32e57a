package domain

import "errors"

var (
	ErrNotFound               = errors.New("commission_not_found")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInvalidRate            = errors.New("invalid_commission_rate")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidNote            = errors.New("invalid_note")
	ErrInvalidResolution      = errors.New("invalid_dispute_resolution")
	ErrConcurrentUpdate       = errors.New("commission_concurrent_update")
	ErrNotOnHold              = errors.New("commission_not_on_hold")
	ErrReasonRequired         = errors.New("reason_required")
	ErrDuplicatePayment       = errors.New("commission_exists_for_payment")
	ErrAlreadyReversed        = errors.New("commission_already_reversed")
)
