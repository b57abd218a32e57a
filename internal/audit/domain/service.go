package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry describes an action to audit. ActorID empty means the system.
type Entry struct {
	PartnerID  snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	// RecordTx writes the entry in the caller's transaction.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
}
