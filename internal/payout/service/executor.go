package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/observability/logger"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// transferKey is stable per payout so a retried Execute never sends twice.
func transferKey(id snowflake.ID) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("payout:"+id.String())).String()
}

func (s *Service) MarkReady(ctx context.Context, id snowflake.ID, actor string) (*payoutdomain.Payout, error) {
	return s.operatorAction(ctx, id, actor, "payout.ready", nil, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		if !payoutdomain.CanTransition(p.Status, payoutdomain.StatusReady) {
			return &payoutdomain.TransitionError{From: p.Status, To: string(payoutdomain.StatusReady)}
		}
		if p.OnHold {
			return payoutdomain.ErrOnHold
		}
		if _, err := s.reconcileTx(ctx, tx, p, actor); err != nil {
			return err
		}
		if p.CommissionCount == 0 {
			return payoutdomain.ErrEmptyBatch
		}
		return s.transitionTx(ctx, tx, p, payoutdomain.StatusReady, map[string]any{"ready_at": s.clock.Now()}, nil)
	})
}

// Execute moves a ready payout to processing and hands the transfer to the
// channel. The processing state is committed before the channel is called so
// a crash never leaves money in flight on a ready payout.
func (s *Service) Execute(ctx context.Context, id snowflake.ID, actor string) (*payoutdomain.Payout, error) {
	enabled, err := s.flags.Bool(ctx, sysdomain.KeyPayoutsEnabled, s.cfg.Payout.EnabledByDefault)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, payoutdomain.ErrPayoutsDisabled
	}

	var req payoutdomain.TransferRequest
	meta := map[string]any{"channel": s.channel.Name()}
	p, err := s.operatorAction(ctx, id, actor, "payout.executed", meta, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		if !payoutdomain.CanTransition(p.Status, payoutdomain.StatusProcessing) {
			return &payoutdomain.TransitionError{From: p.Status, To: string(payoutdomain.StatusProcessing)}
		}
		if p.OnHold {
			return payoutdomain.ErrOnHold
		}
		// Contents freeze at processing; anything that stopped being payable
		// since ready must not be transferred.
		released, err := s.reconcileTx(ctx, tx, p, actor)
		if err != nil {
			return err
		}
		if released > 0 {
			meta["released"] = released
		}
		if p.CommissionCount == 0 {
			return payoutdomain.ErrEmptyBatch
		}
		partner, err := s.partnerRepo.FindByID(ctx, tx, p.PartnerID)
		if err != nil {
			return err
		}
		if !partner.EligibleForPayout() {
			return payoutdomain.ErrPartnerNotEligible
		}

		amount := p.TotalAmount
		fields := map[string]any{"processing_at": s.clock.Now(), "transferred_amount": amount}
		if err := s.transitionTx(ctx, tx, p, payoutdomain.StatusProcessing, fields, map[string]any{"transferred_amount": amount}); err != nil {
			return err
		}
		meta["transferred_amount"] = amount
		req = payoutdomain.TransferRequest{
			PayoutID:       p.ID,
			PartnerID:      p.PartnerID,
			Amount:         amount,
			Currency:       p.Currency,
			Method:         partner.PayoutMethod,
			Destination:    partner.PayoutDestination,
			IdempotencyKey: transferKey(p.ID),
			Livemode:       p.Livemode,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := s.channel.Initiate(ctx, req)
	if err != nil {
		if errors.Is(err, payoutdomain.ErrTransferRejected) {
			s.log.Warn("transfer rejected",
				zap.String("payout_id", id.String()),
				zap.String("channel", s.channel.Name()),
				zap.Error(err),
			)
			if _, ferr := s.MarkFailed(ctx, id, err.Error(), systemActor); ferr != nil {
				return nil, errors.Join(fmt.Errorf("%w: %v", payoutdomain.ErrExternalTransferFailure, err), ferr)
			}
			return nil, fmt.Errorf("%w: %v", payoutdomain.ErrExternalTransferFailure, err)
		}
		s.log.Error("transfer channel unavailable; payout left processing",
			zap.String("payout_id", id.String()),
			zap.String("channel", s.channel.Name()),
			zap.Error(err),
		)
		return p, fmt.Errorf("%w: %v", payoutdomain.ErrTransferUnavailable, err)
	}

	if ref := strings.TrimSpace(result.Reference); ref != "" {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.Update(ctx, tx, id, map[string]any{"transfer_reference": ref, "updated_at": s.clock.Now()}); err != nil {
				return err
			}
			return s.repo.AppendNote(ctx, tx, id, s.noteLine(actor, fmt.Sprintf("transfer initiated via %s: %s", s.channel.Name(), ref)), s.clock.Now())
		})
		if err != nil {
			return nil, err
		}
	}
	s.log.Info("payout transfer initiated",
		zap.String("payout_id", id.String()),
		zap.Int64("amount", req.Amount),
		zap.String("channel", s.channel.Name()),
		zap.String("destination", logger.MaskDestination(req.Destination)),
	)
	return s.repo.FindByID(ctx, s.db, id)
}

// MarkPaid settles a processing payout. Commissions that left the payable
// state while the transfer was in flight are released instead of paid. When
// nothing payable is left the payout is put on hold and
// ErrConsistencyViolation is returned after the hold is committed.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, reference, actor string) (*payoutdomain.Payout, error) {
	var violation bool
	var paidTotal int64
	meta := map[string]any{}
	if reference != "" {
		meta["transfer_reference"] = reference
	}

	p, err := s.operatorAction(ctx, id, actor, "payout.paid", meta, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		if !payoutdomain.CanTransition(p.Status, payoutdomain.StatusPaid) {
			return &payoutdomain.TransitionError{From: p.Status, To: string(payoutdomain.StatusPaid)}
		}
		if p.OnHold {
			return payoutdomain.ErrOnHold
		}

		rows, err := s.commissionRepo.LockByPayout(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		survivors := make([]commissiondomain.Commission, 0, len(rows))
		excluded := make([]commissiondomain.Commission, 0)
		for _, c := range rows {
			if c.Status == commissiondomain.StatusPayable && !c.OnHold {
				survivors = append(survivors, c)
			} else {
				excluded = append(excluded, c)
			}
		}

		if len(survivors) == 0 {
			violation = true
			meta["outcome"] = "consistency_hold"
			reason := "no payable commissions left at mark paid"
			held, err := s.placeOnHoldTx(ctx, tx, p, reason)
			if err != nil {
				return err
			}
			if held {
				payload := map[string]any{"violation": "payout_without_payable_commissions", "detail": reason}
				return s.publishTx(ctx, tx, p, events.KindConsistencyViolation, payload, "")
			}
			return nil
		}

		if len(excluded) > 0 {
			ids := make([]snowflake.ID, 0, len(excluded))
			for _, c := range excluded {
				ids = append(ids, c.ID)
			}
			if _, err := s.repo.Release(ctx, tx, p.ID, ids, s.clock.Now()); err != nil {
				return err
			}
			for _, c := range excluded {
				note := fmt.Sprintf("excluded from payout %s at mark paid (status %s)", p.ID, c.Status)
				if err := s.commissionSvc.AppendNoteTx(ctx, tx, c.ID, actor, note); err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		var total int64
		for i := range survivors {
			if err := s.commissionSvc.MarkPaidTx(ctx, tx, &survivors[i], p.ID, now); err != nil {
				return err
			}
			total += survivors[i].NetAmount
		}

		fields := map[string]any{
			"paid_at":          now,
			"total_amount":     total,
			"commission_count": len(survivors),
		}
		if reference != "" {
			fields["transfer_reference"] = reference
		}
		payload := map[string]any{"total_amount": total, "excluded": len(excluded)}
		if err := s.transitionTx(ctx, tx, p, payoutdomain.StatusPaid, fields, payload); err != nil {
			return err
		}
		p.TotalAmount = total
		p.CommissionCount = len(survivors)
		paidTotal = total
		meta["total_amount"] = total
		meta["excluded"] = len(excluded)

		if p.TransferredAmount != nil && *p.TransferredAmount > total {
			over := *p.TransferredAmount - total
			note := fmt.Sprintf("overpaid by %d: transferred %d, settled %d", over, *p.TransferredAmount, total)
			if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(systemActor, note), s.clock.Now()); err != nil {
				return err
			}
			overPayload := map[string]any{"transferred_amount": *p.TransferredAmount, "settled_amount": total, "overpaid_amount": over}
			return s.publishTx(ctx, tx, p, events.KindPayoutOverpaid, overPayload, "payout_overpaid:"+p.ID.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if violation {
		s.log.Error("payout has no payable commissions at mark paid; placed on hold", zap.String("payout_id", id.String()))
		return p, fmt.Errorf("%w: payout %s has no payable commissions left", payoutdomain.ErrConsistencyViolation, id)
	}
	s.metrics.ObservePayoutPaid(paidTotal, p.Livemode)
	return p, nil
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason, actor string) (*payoutdomain.Payout, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, payoutdomain.ErrReasonRequired
	}
	meta := map[string]any{"reason": reason}
	return s.operatorAction(ctx, id, actor, "payout.failed", meta, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		now := s.clock.Now()
		fields := map[string]any{"failed_at": now, "failure_reason": reason}
		if err := s.transitionTx(ctx, tx, p, payoutdomain.StatusFailed, fields, map[string]any{"reason": reason}); err != nil {
			return err
		}
		released, err := s.releaseAllTx(ctx, tx, p, actor, "payout failed: "+reason)
		meta["released"] = released
		return err
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason, actor string) (*payoutdomain.Payout, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, payoutdomain.ErrReasonRequired
	}
	meta := map[string]any{"reason": reason}
	return s.operatorAction(ctx, id, actor, "payout.canceled", meta, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		fields := map[string]any{"canceled_at": s.clock.Now(), "failure_reason": reason}
		if err := s.transitionTx(ctx, tx, p, payoutdomain.StatusCanceled, fields, map[string]any{"reason": reason}); err != nil {
			return err
		}
		released, err := s.releaseAllTx(ctx, tx, p, actor, "payout canceled: "+reason)
		meta["released"] = released
		return err
	})
}

// releaseAllTx returns every reserved commission to the payable pool.
// Payout totals are kept as the historical record of the batch.
func (s *Service) releaseAllTx(ctx context.Context, tx *gorm.DB, p *payoutdomain.Payout, actor, why string) (int, error) {
	rows, err := s.commissionRepo.LockByPayout(ctx, tx, p.ID)
	if err != nil {
		return 0, err
	}
	if _, err := s.repo.ReleaseAll(ctx, tx, p.ID, s.clock.Now()); err != nil {
		return 0, err
	}
	for _, c := range rows {
		note := fmt.Sprintf("released from payout %s (%s)", p.ID, why)
		if err := s.commissionSvc.AppendNoteTx(ctx, tx, c.ID, actor, note); err != nil {
			return 0, err
		}
	}
	if err := s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(actor, fmt.Sprintf("%s; released %d commissions", why, len(rows))), s.clock.Now()); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Service) ReleaseHold(ctx context.Context, id snowflake.ID, actor string) (*payoutdomain.Payout, error) {
	return s.operatorAction(ctx, id, actor, "payout.hold_released", nil, func(tx *gorm.DB, p *payoutdomain.Payout) error {
		if !p.OnHold {
			return payoutdomain.ErrNotOnHold
		}
		if err := s.repo.Update(ctx, tx, p.ID, map[string]any{
			"on_hold":     false,
			"hold_reason": nil,
			"updated_at":  s.clock.Now(),
		}); err != nil {
			return err
		}
		p.OnHold = false
		return s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(actor, "hold released"), s.clock.Now())
	})
}
