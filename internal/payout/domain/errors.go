package domain

import "errors"

var (
	ErrNotFound                = errors.New("payout_not_found")
	ErrInvalidStateTransition  = errors.New("invalid_state_transition")
	ErrReservationConflict     = errors.New("reservation_conflict")
	ErrEmptyBatch              = errors.New("empty_batch")
	ErrInvalidPeriod           = errors.New("invalid_period")
	ErrPartnerNotEligible      = errors.New("partner_not_eligible_for_payout")
	ErrExternalTransferFailure = errors.New("external_transfer_failure")
	ErrTransferUnavailable     = errors.New("transfer_channel_unavailable")
	ErrConsistencyViolation    = errors.New("consistency_violation")
	ErrOnHold                  = errors.New("payout_on_hold")
	ErrNotOnHold               = errors.New("payout_not_on_hold")
	ErrPayoutsDisabled         = errors.New("payouts_disabled")
	ErrReasonRequired          = errors.New("reason_required")
	ErrConcurrentUpdate        = errors.New("payout_concurrent_update")
)
