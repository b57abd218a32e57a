package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/events"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateBatch reserves every payable, unreserved commission the partner
// earned in [PeriodStart, PeriodEnd) and creates the scheduled payout in the
// same transaction.
func (s *Service) CreateBatch(ctx context.Context, req payoutdomain.CreateBatchRequest) (*payoutdomain.Payout, error) {
	ctx, span := s.tracer.Start(ctx, "payout.CreateBatch")
	defer span.End()

	if req.PeriodStart.IsZero() || !req.PeriodEnd.After(req.PeriodStart) {
		return nil, payoutdomain.ErrInvalidPeriod
	}
	livemode := s.cfg.Livemode()
	if req.Livemode != nil {
		livemode = *req.Livemode
	}

	var created *payoutdomain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.partnerRepo.FindByID(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		if !partner.EligibleForPayout() {
			return fmt.Errorf("%w: partner %s is %s (fraud_flag=%t)",
				payoutdomain.ErrPartnerNotEligible, partner.ID, partner.Status, partner.FraudFlag)
		}

		candidates, err := s.repo.SelectCandidates(ctx, tx, req, livemode)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return payoutdomain.ErrEmptyBatch
		}

		now := s.clock.Now()
		p := &payoutdomain.Payout{
			ID:          s.genID.Generate(),
			PartnerID:   partner.ID,
			PeriodStart: req.PeriodStart.UTC(),
			PeriodEnd:   req.PeriodEnd.UTC(),
			Currency:    s.cfg.Currency,
			Status:      payoutdomain.StatusScheduled,
			Livemode:    livemode,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Insert(ctx, tx, p); err != nil {
			return err
		}

		reserved, err := s.repo.Reserve(ctx, tx, p.ID, candidates, s.clock.Now())
		if err != nil {
			return err
		}
		if reserved == 0 {
			return payoutdomain.ErrReservationConflict
		}
		if _, err := s.recomputeTx(ctx, tx, p); err != nil {
			return err
		}

		note := fmt.Sprintf("created for %s..%s with %d commissions totaling %d",
			p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"), p.CommissionCount, p.TotalAmount)
		if lost := int64(len(candidates)) - reserved; lost > 0 {
			note += fmt.Sprintf("; %d commissions were reserved concurrently by another batch", lost)
		}
		if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(req.Actor, note), s.clock.Now()); err != nil {
			return err
		}

		ev := events.Transition(events.EntityPayout, p.ID, p.PartnerID, "", string(p.Status), now)
		ev.Livemode = p.Livemode
		ev.Payload = map[string]any{"total_amount": p.TotalAmount, "commission_count": p.CommissionCount}
		if err := s.outbox.PublishTx(ctx, tx, ev); err != nil {
			return err
		}
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  p.PartnerID,
			ActorID:    req.Actor,
			Action:     "payout.created",
			TargetType: "payout",
			TargetID:   p.ID.String(),
			Metadata: map[string]any{
				"total_amount":     p.TotalAmount,
				"commission_count": p.CommissionCount,
				"period_start":     p.PeriodStart,
				"period_end":       p.PeriodEnd,
			},
		}); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		if !errors.Is(err, payoutdomain.ErrEmptyBatch) {
			s.log.Warn("create batch failed", zap.String("partner_id", req.PartnerID.String()), zap.Error(err))
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int64("payout.total_amount", created.TotalAmount), attribute.Int("payout.commission_count", created.CommissionCount))
	s.log.Info("payout batch created",
		zap.String("payout_id", created.ID.String()),
		zap.String("partner_id", created.PartnerID.String()),
		zap.Int64("total_amount", created.TotalAmount),
		zap.Int("commission_count", created.CommissionCount),
	)
	return s.repo.FindByID(ctx, s.db, created.ID)
}

// Reconcile drops reservations on commissions that are no longer payable and
// recomputes totals. Running it again without ledger changes is a no-op.
func (s *Service) Reconcile(ctx context.Context, id snowflake.ID, actor string) (*payoutdomain.Payout, error) {
	meta := map[string]any{}
	return s.operatorAction(ctx, id, actor, "payout.reconciled", meta, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		released, err := s.reconcileTx(ctx, tx, p, actor)
		meta["released"] = released
		return err
	})
}

func (s *Service) reconcileTx(ctx context.Context, tx *gorm.DB, p *payoutdomain.Payout, actor string) (int, error) {
	if !p.Status.Mutable() {
		return 0, &payoutdomain.TransitionError{From: p.Status, To: "reconcile"}
	}

	rows, err := s.commissionRepo.LockByPayout(ctx, tx, p.ID)
	if err != nil {
		return 0, err
	}
	stale := make([]snowflake.ID, 0)
	for _, c := range rows {
		if c.Status != commissiondomain.StatusPayable {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) > 0 {
		if _, err := s.repo.Release(ctx, tx, p.ID, stale, s.clock.Now()); err != nil {
			return 0, err
		}
		for _, c := range rows {
			if c.Status == commissiondomain.StatusPayable {
				continue
			}
			note := fmt.Sprintf("released from payout %s by reconcile (status %s)", p.ID, c.Status)
			if err := s.commissionSvc.AppendNoteTx(ctx, tx, c.ID, actor, note); err != nil {
				return 0, err
			}
		}
	}

	beforeTotal, beforeCount := p.TotalAmount, p.CommissionCount
	changed, err := s.recomputeTx(ctx, tx, p)
	if err != nil {
		return 0, err
	}
	if !changed && len(stale) == 0 {
		return 0, nil
	}

	note := fmt.Sprintf("reconciled: released %d; total %d -> %d; count %d -> %d",
		len(stale), beforeTotal, p.TotalAmount, beforeCount, p.CommissionCount)
	if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(actor, note), s.clock.Now()); err != nil {
		return 0, err
	}
	payload := map[string]any{
		"released":         len(stale),
		"total_before":     beforeTotal,
		"total_after":      p.TotalAmount,
		"commission_count": p.CommissionCount,
	}
	if err := s.publishTx(ctx, tx, p, events.KindPayoutReconciled, payload, ""); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// LockReservingPayoutTx locks the payout currently reserving the commission
// for paymentReference, if any. Refund handling calls it before the ledger
// locks the commission so payout rows are always locked before commission
// rows.
func (s *Service) LockReservingPayoutTx(ctx context.Context, tx *gorm.DB, paymentReference string) error {
	var payoutIDs []snowflake.ID
	if err := tx.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("payment_reference = ? AND payout_id IS NOT NULL", paymentReference).
		Pluck("payout_id", &payoutIDs).Error; err != nil {
		return err
	}
	for _, id := range payoutIDs {
		if _, err := s.repo.LockByID(ctx, tx, id); err != nil && !errors.Is(err, payoutdomain.ErrNotFound) {
			return err
		}
	}
	return nil
}

// HandleRefundedCommissionTx runs after the ledger applied a refund. A
// mutable payout is reconciled at once; a processing payout keeps the
// reservation until mark-paid excludes it; a paid payout records the
// post-payment clawback for out-of-band recovery.
func (s *Service) HandleRefundedCommissionTx(
	ctx context.Context,
	tx *gorm.DB,
	c *commissiondomain.Commission,
	priorPayoutID *snowflake.ID,
) error {
	if c == nil || priorPayoutID == nil {
		return nil
	}
	p, err := s.repo.LockByID(ctx, tx, *priorPayoutID)
	if err != nil {
		return err
	}

	switch {
	case c.Status == commissiondomain.StatusPaid:
		note := fmt.Sprintf("post-payment refund on commission %s (net %d); recovery required", c.ID, c.NetAmount)
		if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(systemActor, note), s.clock.Now()); err != nil {
			return err
		}
		payload := map[string]any{"commission_id": c.ID.String(), "net_amount": c.NetAmount}
		return s.publishTx(ctx, tx, p, events.KindPostPaymentClawback, payload, "post_payment_clawback:"+c.ID.String())
	case p.Status.Mutable():
		_, err := s.reconcileTx(ctx, tx, p, systemActor)
		return err
	case p.Status == payoutdomain.StatusProcessing:
		note := fmt.Sprintf("commission %s became %s while processing; it will be excluded at mark paid", c.ID, c.Status)
		if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(systemActor, note), s.clock.Now()); err != nil {
			return err
		}
		payload := map[string]any{"commission_id": c.ID.String(), "commission_status": string(c.Status), "net_amount": c.NetAmount}
		return s.publishTx(ctx, tx, p, events.KindCommissionFrozen, payload, "")
	default:
		return nil
	}
}
