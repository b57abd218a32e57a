package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Payout is a batch of commissions reserved for one partner. TotalAmount and
// CommissionCount always describe the commissions currently reserved.
// TransferredAmount is what was handed to the payout channel at execution.
type Payout struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	PartnerID         snowflake.ID `gorm:"not null;index:idx_payouts_partner_status" json:"partner_id"`
	PeriodStart       time.Time    `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time    `gorm:"not null" json:"period_end"`
	Currency          string       `gorm:"type:text;not null" json:"currency"`
	TotalAmount       int64        `gorm:"not null;check:chk_payouts_total_amount,total_amount >= 0" json:"total_amount"`
	CommissionCount   int          `gorm:"not null" json:"commission_count"`
	TransferredAmount *int64       `json:"transferred_amount,omitempty"`
	Status            Status       `gorm:"type:text;not null;index:idx_payouts_partner_status" json:"status"`
	TransferReference *string      `gorm:"type:text" json:"transfer_reference,omitempty"`
	ReadyAt           *time.Time   `json:"ready_at,omitempty"`
	ProcessingAt      *time.Time   `gorm:"index" json:"processing_at,omitempty"`
	PaidAt            *time.Time   `json:"paid_at,omitempty"`
	FailedAt          *time.Time   `json:"failed_at,omitempty"`
	CanceledAt        *time.Time   `json:"canceled_at,omitempty"`
	FailureReason     *string      `gorm:"type:text" json:"failure_reason,omitempty"`
	OnHold            bool         `gorm:"not null" json:"on_hold"`
	HoldReason        *string      `gorm:"type:text" json:"hold_reason,omitempty"`
	Notes             string       `gorm:"type:text;not null;default:''" json:"notes"`
	Livemode          bool         `gorm:"not null" json:"livemode"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (Payout) TableName() string { return "payouts" }
