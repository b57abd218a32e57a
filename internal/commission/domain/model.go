package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusEarned     Status = "earned"
	StatusPayable    Status = "payable"
	StatusPaid       Status = "paid"
	StatusClawedBack Status = "clawed_back"
	StatusDisputed   Status = "disputed"
)

// Commission is a partner's claim on a captured payment. NetAmount is frozen
// at creation from GrossAmount and CommissionRate and never rewritten.
// PayoutID is set only while a payout reserves the commission, and stays set
// once that payout is paid.
type Commission struct {
	ID                    snowflake.ID    `gorm:"primaryKey" json:"id"`
	PartnerID             snowflake.ID    `gorm:"not null;index:idx_commissions_partner_status" json:"partner_id"`
	DealID                string          `gorm:"type:text" json:"deal_id,omitempty"`
	PaymentEventID        *snowflake.ID   `gorm:"index" json:"payment_event_id,omitempty"`
	PaymentReference      *string         `gorm:"type:text;uniqueIndex" json:"payment_reference,omitempty"`
	Currency              string          `gorm:"type:text;not null" json:"currency"`
	GrossAmount           int64           `gorm:"not null" json:"gross_amount"`
	NetAmount             int64           `gorm:"not null;check:chk_commissions_net_amount,net_amount >= 0" json:"net_amount"`
	CommissionRate        decimal.Decimal `gorm:"type:numeric(7,4);not null" json:"commission_rate"`
	Status                Status          `gorm:"type:text;not null;index:idx_commissions_partner_status" json:"status"`
	EarnableAt            time.Time       `gorm:"not null;index" json:"earnable_at"`
	EarnedAt              *time.Time      `json:"earned_at,omitempty"`
	PayableAt             *time.Time      `json:"payable_at,omitempty"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	ClawedBackAt          *time.Time      `json:"clawed_back_at,omitempty"`
	ClawbackEligibleUntil time.Time       `gorm:"not null" json:"clawback_eligible_until"`
	// PayableAfter is ClawbackEligibleUntil, pushed out to the next payout
	// calendar date when the calendar policy is enabled.
	PayableAfter         time.Time     `gorm:"not null;index" json:"payable_after"`
	PayoutID             *snowflake.ID `gorm:"index" json:"payout_id,omitempty"`
	Notes                string        `gorm:"type:text;not null;default:''" json:"notes"`
	DisputePriorStatus   *Status       `gorm:"type:text" json:"dispute_prior_status,omitempty"`
	ReversesCommissionID *snowflake.ID `gorm:"index" json:"reverses_commission_id,omitempty"`
	OnHold               bool          `gorm:"not null" json:"on_hold"`
	HoldReason           *string       `gorm:"type:text" json:"hold_reason,omitempty"`
	Livemode             bool          `gorm:"not null" json:"livemode"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (Commission) TableName() string { return "commissions" }

// Reserved reports whether a payout currently holds the commission.
func (c Commission) Reserved() bool {
	return c.PayoutID != nil && *c.PayoutID != 0
}

// ComputeNet returns round(gross * rate) in minor units, half away from zero.
func ComputeNet(gross int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
}
