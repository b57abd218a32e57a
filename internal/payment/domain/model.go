package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeCaptured EventType = "captured"
	EventTypeRefunded EventType = "refunded"
)

// PaymentEvent is an inbound provider event. It is immutable once recorded
// and external_event_id is unique across every event ever stored.
type PaymentEvent struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	ExternalEventID  string            `gorm:"type:text;not null;uniqueIndex" json:"external_event_id"`
	EventType        EventType         `gorm:"type:text;not null" json:"event_type"`
	PaymentReference string            `gorm:"type:text;not null;index" json:"payment_reference"`
	PartnerID        *snowflake.ID     `gorm:"index" json:"partner_id,omitempty"`
	DealID           string            `gorm:"type:text" json:"deal_id,omitempty"`
	Amount           int64             `gorm:"not null" json:"amount"`
	Currency         string            `gorm:"type:text;not null" json:"currency"`
	OccurredAt       time.Time         `gorm:"not null" json:"occurred_at"`
	Livemode         bool              `gorm:"not null" json:"livemode"`
	Metadata         datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	Outcome          string            `gorm:"type:text" json:"outcome"`
	ReceivedAt       time.Time         `gorm:"not null" json:"received_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
