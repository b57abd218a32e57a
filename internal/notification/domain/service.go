package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("notification_not_found")
	ErrAlreadyResolved = errors.New("notification_already_resolved")
)

type ListFilter struct {
	Severity   Severity
	Category   Category
	Unresolved bool
	PartnerID  snowflake.ID
	Limit      int
	Offset     int
}

type Repository interface {
	// Insert reports false when an alert with the same dedupe key exists.
	Insert(ctx context.Context, db *gorm.DB, n *Notification) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Notification, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, by, notes string, at time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Notification, error)
}

type Service interface {
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	Resolve(ctx context.Context, id snowflake.ID, notes, actor string) (*Notification, error)
}
