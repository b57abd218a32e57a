package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidEvent   = errors.New("invalid_event")
	ErrDuplicateEvent = errors.New("duplicate_event")
	ErrModeOverride   = errors.New("mode_override_not_allowed")
)

type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeDuplicateIgnored Outcome = "duplicate_ignored"
)

// IngestRequest is an already-authenticated provider notification.
type IngestRequest struct {
	ExternalEventID  string         `json:"external_event_id" validate:"required,max=255"`
	EventType        EventType      `json:"event_type" validate:"required,oneof=captured refunded"`
	PaymentReference string         `json:"payment_reference" validate:"required,max=255"`
	PartnerID        snowflake.ID   `json:"partner_id" validate:"required_if=EventType captured"`
	DealID           string         `json:"deal_id" validate:"max=255"`
	Amount           int64          `json:"amount" validate:"gt=0"`
	Currency         string         `json:"currency" validate:"required,len=3"`
	OccurredAt       time.Time      `json:"occurred_at" validate:"required"`
	Mode             string         `json:"mode,omitempty" validate:"omitempty,oneof=live test"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type IngestResult struct {
	Outcome Outcome      `json:"outcome"`
	EventID snowflake.ID `json:"event_id,omitempty"`
	// Detail is the ledger effect, e.g. the commission created or the
	// refund outcome.
	Detail string `json:"detail,omitempty"`
	// Reason is ErrDuplicateEvent for duplicate_ignored.
	Reason error `json:"-"`
}

type Repository interface {
	// InsertEvent reports false when external_event_id was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, ev *PaymentEvent) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*PaymentEvent, error)
}

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}
