package domain

import "errors"

var (
	ErrNotFound           = errors.New("partner_not_found")
	ErrInvalidPartner     = errors.New("invalid_partner")
	ErrInvalidRate        = errors.New("invalid_commission_rate")
	ErrFraudFlagged       = errors.New("partner_fraud_flagged")
	ErrInvalidTransition  = errors.New("invalid_partner_status_transition")
	ErrInvalidRiskScore   = errors.New("invalid_risk_score")
	ErrEmailAlreadyExists = errors.New("partner_email_exists")
)
