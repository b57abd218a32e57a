package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() notificationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *notificationdomain.Notification) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*notificationdomain.Notification, error) {
	var n notificationdomain.Notification
	err := db.WithContext(ctx).Where("id = ?", id).Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notificationdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, by, notes string, at time.Time) (bool, error) {
	updates := map[string]any{"resolved_at": at.UTC(), "resolved_by": by}
	if notes != "" {
		updates["resolution_notes"] = notes
	}
	res := db.WithContext(ctx).
		Model(&notificationdomain.Notification{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter notificationdomain.ListFilter) ([]notificationdomain.Notification, error) {
	query := db.WithContext(ctx).Model(&notificationdomain.Notification{})
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Unresolved {
		query = query.Where("resolved_at IS NULL")
	}
	if filter.PartnerID != 0 {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []notificationdomain.Notification
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	return rows, err
}
