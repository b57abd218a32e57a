package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerledger/internal/events"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Violation kinds reported by CheckConsistency.
const (
	ViolationPaidWithoutPaidPayout = "paid_commission_without_paid_payout"
	ViolationPaidPayoutUnpaidItem  = "paid_payout_with_unpaid_commission"
	ViolationStaleReservation      = "reservation_held_by_closed_payout"
	ViolationTotalDrift            = "payout_total_drift"
	ViolationFraudPartnerActive    = "fraud_flagged_partner_active"
)

type idRow struct {
	ID snowflake.ID
}

type driftRow struct {
	ID              snowflake.ID
	TotalAmount     int64
	CommissionCount int
	LiveTotal       int64
	LiveCount       int
}

// CheckConsistency scans the ledger for broken cross-entity invariants. Every
// offending commission or payout is placed on hold; a violation event is
// emitted only the first time an entity is held, so repeated runs are quiet.
func (s *Service) CheckConsistency(ctx context.Context) (*payoutdomain.IntegrityReport, error) {
	ctx, span := s.tracer.Start(ctx, "payout.CheckConsistency")
	defer span.End()

	report := &payoutdomain.IntegrityReport{CheckedAt: s.clock.Now(), Violations: []payoutdomain.Violation{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []idRow
		if err := tx.Raw(`
			SELECT c.id FROM commissions c
			LEFT JOIN payouts p ON p.id = c.payout_id
			WHERE c.status = 'paid' AND (p.id IS NULL OR p.status <> 'paid')
			ORDER BY c.id`).Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			v := payoutdomain.Violation{
				Kind:       ViolationPaidWithoutPaidPayout,
				EntityType: events.EntityCommission,
				EntityID:   r.ID,
				Detail:     "commission is paid but its payout is missing or not paid",
			}
			if err := s.holdCommissionTx(ctx, tx, v); err != nil {
				return err
			}
			report.Violations = append(report.Violations, v)
		}

		rows = rows[:0]
		if err := tx.Raw(`
			SELECT DISTINCT p.id FROM payouts p
			JOIN commissions c ON c.payout_id = p.id
			WHERE p.status = 'paid' AND c.status <> 'paid'
			ORDER BY p.id`).Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			v := payoutdomain.Violation{
				Kind:       ViolationPaidPayoutUnpaidItem,
				EntityType: events.EntityPayout,
				EntityID:   r.ID,
				Detail:     "paid payout still reserves commissions that are not paid",
			}
			if err := s.holdPayoutTx(ctx, tx, v); err != nil {
				return err
			}
			report.Violations = append(report.Violations, v)
		}

		rows = rows[:0]
		if err := tx.Raw(`
			SELECT c.id FROM commissions c
			JOIN payouts p ON p.id = c.payout_id
			WHERE p.status IN ('failed', 'canceled')
			ORDER BY c.id`).Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			v := payoutdomain.Violation{
				Kind:       ViolationStaleReservation,
				EntityType: events.EntityCommission,
				EntityID:   r.ID,
				Detail:     "commission is reserved by a failed or canceled payout",
			}
			if err := s.holdCommissionTx(ctx, tx, v); err != nil {
				return err
			}
			report.Violations = append(report.Violations, v)
		}

		var drift []driftRow
		if err := tx.Raw(`
			SELECT p.id, p.total_amount, p.commission_count,
			       COALESCE(SUM(c.net_amount), 0) AS live_total,
			       COUNT(c.id) AS live_count
			FROM payouts p
			LEFT JOIN commissions c ON c.payout_id = p.id
			WHERE p.status NOT IN ('failed', 'canceled')
			GROUP BY p.id, p.total_amount, p.commission_count
			HAVING p.total_amount <> COALESCE(SUM(c.net_amount), 0)
			    OR p.commission_count <> COUNT(c.id)
			ORDER BY p.id`).Scan(&drift).Error; err != nil {
			return err
		}
		for _, d := range drift {
			v := payoutdomain.Violation{
				Kind:       ViolationTotalDrift,
				EntityType: events.EntityPayout,
				EntityID:   d.ID,
				Detail: fmt.Sprintf("recorded total %d/%d, reserved %d/%d",
					d.TotalAmount, d.CommissionCount, d.LiveTotal, d.LiveCount),
			}
			if err := s.holdPayoutTx(ctx, tx, v); err != nil {
				return err
			}
			report.Violations = append(report.Violations, v)
		}

		rows = rows[:0]
		if err := tx.Raw(`SELECT id FROM partners WHERE fraud_flag = ? AND status = 'active' ORDER BY id`, true).
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			v := payoutdomain.Violation{
				Kind:       ViolationFraudPartnerActive,
				EntityType: events.EntityPartner,
				EntityID:   r.ID,
				Detail:     "fraud-flagged partner is active",
			}
			ev := events.Event{
				Kind:       events.KindConsistencyViolation,
				EntityType: events.EntityPartner,
				EntityID:   r.ID,
				PartnerID:  r.ID,
				OccurredAt: report.CheckedAt,
				Livemode:   s.cfg.Livemode(),
				Payload:    map[string]any{"violation": v.Kind, "detail": v.Detail},
				DedupeKey:  "consistency_violation:" + v.Kind + ":" + r.ID.String(),
			}
			if err := s.outbox.PublishTx(ctx, tx, ev); err != nil {
				return err
			}
			report.Violations = append(report.Violations, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if n := len(report.Violations); n > 0 {
		s.log.Warn("integrity check found violations", zap.Int("count", n))
	} else {
		s.log.Debug("integrity check clean")
	}
	return report, nil
}

func (s *Service) holdCommissionTx(ctx context.Context, tx *gorm.DB, v payoutdomain.Violation) error {
	held, err := s.commissionSvc.PlaceOnHoldTx(ctx, tx, v.EntityID, v.Kind)
	if err != nil || !held {
		return err
	}
	c, err := s.commissionRepo.FindByID(ctx, tx, v.EntityID)
	if err != nil {
		return err
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Kind:       events.KindConsistencyViolation,
		EntityType: events.EntityCommission,
		EntityID:   c.ID,
		PartnerID:  c.PartnerID,
		ToState:    string(c.Status),
		OccurredAt: s.clock.Now(),
		Livemode:   c.Livemode,
		Payload:    map[string]any{"violation": v.Kind, "detail": v.Detail},
	})
}

func (s *Service) holdPayoutTx(ctx context.Context, tx *gorm.DB, v payoutdomain.Violation) error {
	p, err := s.repo.FindByID(ctx, tx, v.EntityID)
	if err != nil {
		return err
	}
	held, err := s.placeOnHoldTx(ctx, tx, p, v.Kind)
	if err != nil || !held {
		return err
	}
	return s.publishTx(ctx, tx, p, events.KindConsistencyViolation, map[string]any{"violation": v.Kind, "detail": v.Detail}, "")
}

// FlagStuckProcessing raises one payout_stuck event per payout that has been
// processing longer than the configured threshold.
func (s *Service) FlagStuckProcessing(ctx context.Context) (int, error) {
	before := s.clock.Now().Add(-s.cfg.Payout.StuckAfter)
	stuck, err := s.repo.ListStuckProcessing(ctx, s.db, before)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range stuck {
			p := &stuck[i]
			payload := map[string]any{"processing_at": p.ProcessingAt}
			if err := s.publishTx(ctx, tx, p, events.KindPayoutStuck, payload, "payout_stuck:"+p.ID.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Warn("payouts stuck in processing", zap.Int("count", len(stuck)), zap.Duration("threshold", s.cfg.Payout.StuckAfter))
	return len(stuck), nil
}
