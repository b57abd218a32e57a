package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() payoutdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *payoutdomain.Payout) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.Payout, error) {
	return r.takeOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.Payout, error) {
	return r.takeOne(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) takeOne(query *gorm.DB) (*payoutdomain.Payout, error) {
	var p payoutdomain.Payout
	if err := query.Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payoutdomain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	from, to payoutdomain.Status,
	fields map[string]any,
) (bool, error) {
	updates := map[string]any{"status": to}
	for key, value := range fields {
		updates[key] = value
	}
	res := db.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&payoutdomain.Payout{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return payoutdomain.ErrNotFound
	}
	return nil
}

func (r *repo) AppendNote(ctx context.Context, db *gorm.DB, id snowflake.ID, line string, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET notes = CASE WHEN COALESCE(notes, '') = '' THEN ? ELSE notes || ? END,
		     updated_at = ?
		 WHERE id = ?`,
		line, "\n"+line, at.UTC(), id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return payoutdomain.ErrNotFound
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter payoutdomain.ListFilter) ([]payoutdomain.Payout, error) {
	query := db.WithContext(ctx).Model(&payoutdomain.Payout{})
	if filter.PartnerID != 0 {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Livemode != nil {
		query = query.Where("livemode = ?", *filter.Livemode)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []payoutdomain.Payout
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	return rows, err
}

func (r *repo) ListStuckProcessing(ctx context.Context, db *gorm.DB, before time.Time) ([]payoutdomain.Payout, error) {
	var rows []payoutdomain.Payout
	err := db.WithContext(ctx).
		Where("status = ? AND processing_at <= ?", payoutdomain.StatusProcessing, before.UTC()).
		Order("processing_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) SelectCandidates(
	ctx context.Context,
	db *gorm.DB,
	req payoutdomain.CreateBatchRequest,
	livemode bool,
) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("partner_id = ? AND status = ? AND payout_id IS NULL AND on_hold = ? AND livemode = ?",
			req.PartnerID, commissiondomain.StatusPayable, false, livemode).
		Where("earned_at >= ? AND earned_at < ?", req.PeriodStart.UTC(), req.PeriodEnd.UTC()).
		Order("earned_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Reserve is the conditional "reserve if currently unreserved" update that
// lets exactly one concurrent batch win each commission.
func (r *repo) Reserve(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, commissionIDs []snowflake.ID, at time.Time) (int64, error) {
	if len(commissionIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("id IN ? AND payout_id IS NULL AND status = ? AND on_hold = ?", commissionIDs, commissiondomain.StatusPayable, false).
		Updates(map[string]any{"payout_id": payoutID, "updated_at": at.UTC()})
	return res.RowsAffected, res.Error
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, commissionIDs []snowflake.ID, at time.Time) (int64, error) {
	if len(commissionIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("payout_id = ? AND id IN ?", payoutID, commissionIDs).
		Updates(map[string]any{"payout_id": nil, "updated_at": at.UTC()})
	return res.RowsAffected, res.Error
}

func (r *repo) ReleaseAll(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("payout_id = ?", payoutID).
		Updates(map[string]any{"payout_id": nil, "updated_at": at.UTC()})
	return res.RowsAffected, res.Error
}

func (r *repo) SumReserved(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) (int64, int, error) {
	var row struct {
		Total int64
		Count int
	}
	err := db.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Select("COALESCE(SUM(net_amount), 0) AS total, COUNT(*) AS count").
		Where("payout_id = ?", payoutID).
		Scan(&row).Error
	return row.Total, row.Count, err
}
