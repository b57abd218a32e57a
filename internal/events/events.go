package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event kinds written to the transition outbox.
const (
	KindTransition           = "state_transition"
	KindPayoutReconciled     = "payout_reconciled"
	KindPostPaymentClawback  = "post_payment_clawback"
	KindConsistencyViolation = "consistency_violation"
	KindPayoutOverpaid       = "payout_overpaid"
	KindPayoutStuck          = "payout_stuck"
	KindCommissionFrozen     = "commission_frozen_in_payout"
)

// Entity types carried on events.
const (
	EntityCommission = "commission"
	EntityPayout     = "payout"
	EntityPartner    = "partner"
)

// Event is what producers hand to the outbox. For KindTransition the
// FromState/ToState pair is the edge taken; FromState is empty on creation.
type Event struct {
	// ID is set on events read back from the outbox.
	ID         snowflake.ID
	Kind       string
	EntityType string
	EntityID   snowflake.ID
	PartnerID  snowflake.ID
	FromState  string
	ToState    string
	OccurredAt time.Time
	Livemode   bool
	Payload    map[string]any
	DedupeKey  string
}

// Transition builds a KindTransition event.
func Transition(entityType string, entityID, partnerID snowflake.ID, from, to string, at time.Time) Event {
	return Event{
		Kind:       KindTransition,
		EntityType: entityType,
		EntityID:   entityID,
		PartnerID:  partnerID,
		FromState:  from,
		ToState:    to,
		OccurredAt: at,
	}
}

// Record is the persisted outbox row.
type Record struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Kind        string            `gorm:"type:text;not null;index"`
	EntityType  string            `gorm:"type:text;not null;index:idx_transition_events_entity"`
	EntityID    snowflake.ID      `gorm:"not null;index:idx_transition_events_entity"`
	PartnerID   snowflake.ID      `gorm:"index"`
	FromState   string            `gorm:"type:text"`
	ToState     string            `gorm:"type:text"`
	OccurredAt  time.Time         `gorm:"not null"`
	Livemode    bool              `gorm:"not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex"`
	Published   bool              `gorm:"not null;default:false;index"`
	PublishedAt *time.Time
	Attempts    int     `gorm:"not null;default:0"`
	LastError   *string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (Record) TableName() string { return "transition_events" }

// ToEvent converts a stored row back into an Event for subscribers.
func (r Record) ToEvent() Event {
	ev := Event{
		ID:         r.ID,
		Kind:       r.Kind,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		PartnerID:  r.PartnerID,
		FromState:  r.FromState,
		ToState:    r.ToState,
		OccurredAt: r.OccurredAt,
		Livemode:   r.Livemode,
		Payload:    map[string]any(r.Payload),
	}
	if r.DedupeKey != nil {
		ev.DedupeKey = *r.DedupeKey
	}
	return ev
}
