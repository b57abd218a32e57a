package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Risk thresholds on the 0-100 partner risk score.
const (
	RiskMedium = 30
	RiskHigh   = 60
)

// Partner is a referral partner. A fraud-flagged partner is never active.
type Partner struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"type:text;not null" json:"name"`
	Email             string          `gorm:"type:text;not null;uniqueIndex" json:"email"`
	PayoutMethod      string          `gorm:"type:text;not null;default:'manual'" json:"payout_method"`
	PayoutDestination string          `gorm:"type:text" json:"-"`
	CommissionRate    decimal.Decimal `gorm:"type:numeric(7,4);not null" json:"commission_rate"`
	Status            Status          `gorm:"type:text;not null;index" json:"status"`
	FraudFlag         bool            `gorm:"not null" json:"fraud_flag"`
	FraudReason       *string         `gorm:"type:text" json:"fraud_reason,omitempty"`
	RiskScore         int             `gorm:"not null" json:"risk_score"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Partner) TableName() string { return "partners" }

// EligibleForPayout reports whether money may be sent to the partner.
func (p Partner) EligibleForPayout() bool {
	return !p.FraudFlag && p.Status != StatusSuspended
}

// RiskLevel buckets the risk score into low, medium or high.
func (p Partner) RiskLevel() string {
	switch {
	case p.RiskScore >= RiskHigh:
		return "high"
	case p.RiskScore >= RiskMedium:
		return "medium"
	default:
		return "low"
	}
}
