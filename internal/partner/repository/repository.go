package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() partnerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *partnerdomain.Partner) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*partnerdomain.Partner, error) {
	return r.find(ctx, db, id, false)
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*partnerdomain.Partner, error) {
	return r.find(ctx, db, id, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, lock bool) (*partnerdomain.Partner, error) {
	query := db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p partnerdomain.Partner
	if err := query.Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, partnerdomain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&partnerdomain.Partner{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return partnerdomain.ErrNotFound
	}
	return nil
}

func (r *repo) ListFraudActive(ctx context.Context, db *gorm.DB) ([]partnerdomain.Partner, error) {
	var rows []partnerdomain.Partner
	err := db.WithContext(ctx).
		Where("fraud_flag = ? AND status = ?", true, partnerdomain.StatusActive).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
