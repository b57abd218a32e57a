package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategoryPayout     Category = "payout"
	CategoryPayment    Category = "payment"
	CategoryCommission Category = "commission"
	CategoryIntegrity  Category = "integrity"
	CategoryFraud      Category = "fraud"
)

// Notification is an operator-facing alert. DedupeKey keeps redelivered
// events from raising the same alert twice.
type Notification struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	Severity        Severity          `gorm:"type:text;not null;index" json:"severity"`
	Category        Category          `gorm:"type:text;not null;index" json:"category"`
	Title           string            `gorm:"type:text;not null" json:"title"`
	Details         string            `gorm:"type:text" json:"details,omitempty"`
	ResourceType    string            `gorm:"type:text" json:"resource_type,omitempty"`
	ResourceID      *snowflake.ID     `json:"resource_id,omitempty"`
	PartnerID       *snowflake.ID     `gorm:"index" json:"partner_id,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	DedupeKey       string            `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Livemode        bool              `gorm:"not null" json:"livemode"`
	CreatedAt       time.Time         `gorm:"not null;index" json:"created_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      *string           `gorm:"type:text" json:"resolved_by,omitempty"`
	ResolutionNotes *string           `gorm:"type:text" json:"resolution_notes,omitempty"`
}

func (Notification) TableName() string { return "notifications" }
