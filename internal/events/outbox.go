package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMissingTransaction = errors.New("missing_transaction")
	ErrOutboxUnavailable  = errors.New("outbox_unavailable")
	ErrInvalidEvent       = errors.New("invalid_event")
)

// Publisher writes events inside the caller's transaction so an event exists
// if and only if the state change it describes was committed.
type Publisher interface {
	PublishTx(ctx context.Context, tx *gorm.DB, event Event) error
}

// Outbox stores events in the transition_events table.
type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return ErrMissingTransaction
	}
	if o == nil || o.genID == nil {
		return ErrOutboxUnavailable
	}
	kind := strings.TrimSpace(event.Kind)
	entityType := strings.TrimSpace(event.EntityType)
	if kind == "" || entityType == "" || event.EntityID == 0 {
		return ErrInvalidEvent
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	record := Record{
		ID:         o.genID.Generate(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   event.EntityID,
		PartnerID:  event.PartnerID,
		FromState:  event.FromState,
		ToState:    event.ToState,
		OccurredAt: occurredAt.UTC(),
		Livemode:   event.Livemode,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if dedupe := strings.TrimSpace(event.DedupeKey); dedupe != "" {
		record.DedupeKey = &dedupe
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&record).Error
}
