package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() commissiondomain.Repository {
	return &repo{}
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, c *commissiondomain.Commission) error {
	return db.WithContext(ctx).Create(c).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*commissiondomain.Commission, error) {
	return r.takeOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*commissiondomain.Commission, error) {
	return r.takeOne(forUpdate(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) LockByPaymentReference(ctx context.Context, db *gorm.DB, reference string) (*commissiondomain.Commission, error) {
	return r.takeOne(forUpdate(db.WithContext(ctx)).Where("payment_reference = ?", reference))
}

func (r *repo) FindReversalOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*commissiondomain.Commission, error) {
	return r.takeOne(db.WithContext(ctx).Where("reverses_commission_id = ?", id))
}

func (r *repo) takeOne(query *gorm.DB) (*commissiondomain.Commission, error) {
	var c commissiondomain.Commission
	if err := query.Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commissiondomain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repo) LockByPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]commissiondomain.Commission, error) {
	var rows []commissiondomain.Commission
	err := forUpdate(db.WithContext(ctx)).
		Where("payout_id = ?", payoutID).
		Order("earned_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	from, to commissiondomain.Status,
	fields map[string]any,
) (bool, error) {
	updates := map[string]any{"status": to}
	for key, value := range fields {
		updates[key] = value
	}
	res := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&commissiondomain.Commission{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return commissiondomain.ErrNotFound
	}
	return nil
}

// AppendNote concatenates in SQL so earlier lines are never rewritten.
func (r *repo) AppendNote(ctx context.Context, db *gorm.DB, id snowflake.ID, line string, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET notes = CASE WHEN COALESCE(notes, '') = '' THEN ? ELSE notes || ? END,
		     updated_at = ?
		 WHERE id = ?`,
		line, "\n"+line, at.UTC(), id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return commissiondomain.ErrNotFound
	}
	return nil
}

func (r *repo) ListPayable(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]commissiondomain.Commission, error) {
	var rows []commissiondomain.Commission
	err := db.WithContext(ctx).
		Where("partner_id = ? AND status = ? AND payout_id IS NULL AND on_hold = ?", partnerID, commissiondomain.StatusPayable, false).
		Order("earned_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter commissiondomain.ListFilter) ([]commissiondomain.Commission, error) {
	query := db.WithContext(ctx).Model(&commissiondomain.Commission{})
	if filter.PartnerID != 0 {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.PayoutID != 0 {
		query = query.Where("payout_id = ?", filter.PayoutID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	if filter.Livemode != nil {
		query = query.Where("livemode = ?", *filter.Livemode)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []commissiondomain.Commission
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	return rows, err
}

func (r *repo) LockDueForEarn(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]commissiondomain.Commission, error) {
	return r.lockDue(ctx, db, commissiondomain.StatusPending, "earnable_at <= ?", now, limit)
}

func (r *repo) LockDueForPayable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]commissiondomain.Commission, error) {
	return r.lockDue(ctx, db, commissiondomain.StatusEarned, "payable_after <= ?", now, limit)
}

func (r *repo) lockDue(
	ctx context.Context,
	db *gorm.DB,
	status commissiondomain.Status,
	dueClause string,
	now time.Time,
	limit int,
) ([]commissiondomain.Commission, error) {
	var rows []commissiondomain.Commission
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND on_hold = ?", status, false).
		Where(dueClause, now.UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
