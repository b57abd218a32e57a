package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/observability/tracing"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	systemAuthor  = "system"
	maxNoteLength = 2000
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Cfg         config.Config
	Clock       clock.Clock
	Repo        commissiondomain.Repository
	PartnerRepo partnerdomain.Repository
	AuditSvc    auditdomain.Service
	Outbox      events.Publisher
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	cfg         config.Config
	loc         *time.Location
	clock       clock.Clock
	repo        commissiondomain.Repository
	partnerRepo partnerdomain.Repository
	auditSvc    auditdomain.Service
	outbox      events.Publisher
	tracer      trace.Tracer
}

func NewService(p Params) commissiondomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("commission.ledger"),
		genID:       p.GenID,
		cfg:         p.Cfg,
		loc:         p.Cfg.Location(),
		clock:       p.Clock,
		repo:        p.Repo,
		partnerRepo: p.PartnerRepo,
		auditSvc:    p.AuditSvc,
		outbox:      p.Outbox,
		tracer:      tracing.Tracer("commission.ledger"),
	}
}

// noteLine formats an append-only note entry.
func (s *Service) noteLine(author, text string) string {
	if strings.TrimSpace(author) == "" {
		author = systemAuthor
	}
	return fmt.Sprintf("[%s] %s: %s", s.clock.Now().In(s.loc).Format("2006-01-02 15:04"), author, text)
}

func (s *Service) publishTransition(ctx context.Context, tx *gorm.DB, c *commissiondomain.Commission, from, to commissiondomain.Status, payload map[string]any) error {
	ev := events.Transition(events.EntityCommission, c.ID, c.PartnerID, string(from), string(to), s.clock.Now())
	ev.Livemode = c.Livemode
	ev.Payload = payload
	return s.outbox.PublishTx(ctx, tx, ev)
}

// transitionTx moves c along one ledger edge and records the transition.
func (s *Service) transitionTx(
	ctx context.Context,
	tx *gorm.DB,
	c *commissiondomain.Commission,
	to commissiondomain.Status,
	fields map[string]any,
	payload map[string]any,
) error {
	from := c.Status
	if !commissiondomain.CanTransition(from, to) {
		return &commissiondomain.TransitionError{From: from, To: to}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["updated_at"] = s.clock.Now()

	ok, err := s.repo.UpdateStatus(ctx, tx, c.ID, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return commissiondomain.ErrConcurrentUpdate
	}
	c.Status = to
	return s.publishTransition(ctx, tx, c, from, to, payload)
}

func (s *Service) RecordFromPaymentTx(ctx context.Context, tx *gorm.DB, in commissiondomain.PaymentInput) (*commissiondomain.Commission, error) {
	if in.Amount <= 0 {
		return nil, commissiondomain.ErrInvalidAmount
	}
	reference := strings.TrimSpace(in.PaymentReference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", commissiondomain.ErrInvalidAmount)
	}

	partner, err := s.partnerRepo.FindByID(ctx, tx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	rate := partner.CommissionRate
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: partner %s has rate %s", commissiondomain.ErrInvalidRate, partner.ID, rate)
	}

	if existing, err := s.repo.LockByPaymentReference(ctx, tx, reference); err == nil && existing != nil {
		return nil, commissiondomain.ErrDuplicatePayment
	} else if err != nil && !errors.Is(err, commissiondomain.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	occurredAt := in.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	clawbackUntil := occurredAt.Add(s.cfg.Ledger.ClawbackWindow)
	paymentEventID := in.PaymentEventID

	c := &commissiondomain.Commission{
		ID:                    s.genID.Generate(),
		PartnerID:             partner.ID,
		DealID:                strings.TrimSpace(in.DealID),
		PaymentEventID:        &paymentEventID,
		PaymentReference:      &reference,
		Currency:              strings.ToUpper(strings.TrimSpace(in.Currency)),
		GrossAmount:           in.Amount,
		NetAmount:             commissiondomain.ComputeNet(in.Amount, rate),
		CommissionRate:        rate,
		Status:                commissiondomain.StatusPending,
		EarnableAt:            occurredAt.Add(s.cfg.Ledger.EarnHold),
		ClawbackEligibleUntil: clawbackUntil,
		PayableAfter:          clawbackUntil,
		Livemode:              in.Livemode,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if c.NetAmount < 0 {
		return nil, commissiondomain.ErrInvalidRate
	}
	c.Notes = s.noteLine(systemAuthor, fmt.Sprintf("recorded from payment %s: gross %d at rate %s = net %d",
		reference, c.GrossAmount, rate.String(), c.NetAmount))

	var payload map[string]any
	if partner.FraudFlag {
		prior := commissiondomain.StatusPending
		c.Status = commissiondomain.StatusDisputed
		c.DisputePriorStatus = &prior
		c.Notes += "\n" + s.noteLine(systemAuthor, "partner is fraud flagged; commission held in dispute for review")
		payload = map[string]any{"reason": "partner_fraud_flag"}
	}

	if err := s.repo.Insert(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := s.publishTransition(ctx, tx, c, "", c.Status, payload); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ApplyRefundTx(ctx context.Context, tx *gorm.DB, in commissiondomain.RefundInput) (*commissiondomain.RefundResult, error) {
	reference := strings.TrimSpace(in.PaymentReference)
	c, err := s.repo.LockByPaymentReference(ctx, tx, reference)
	if errors.Is(err, commissiondomain.ErrNotFound) {
		return &commissiondomain.RefundResult{Outcome: commissiondomain.RefundNoCommission}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &commissiondomain.RefundResult{Commission: c, PriorPayoutID: c.PayoutID}
	refundDesc := fmt.Sprintf("refund %s of %d on payment %s", in.ExternalEventID, in.Amount, reference)
	if in.Amount > 0 && in.Amount < c.GrossAmount {
		refundDesc = fmt.Sprintf("partial refund %s of %d (gross %d) on payment %s", in.ExternalEventID, in.Amount, c.GrossAmount, reference)
	}

	switch c.Status {
	case commissiondomain.StatusPaid:
		result.Outcome = commissiondomain.RefundPostPaymentClawback
		note := s.noteLine(systemAuthor, refundDesc+" after payout; net "+fmt.Sprint(c.NetAmount)+" requires out-of-band recovery")
		if err := s.repo.AppendNote(ctx, tx, c.ID, note, s.clock.Now()); err != nil {
			return nil, err
		}
	case commissiondomain.StatusClawedBack:
		result.Outcome = commissiondomain.RefundAlreadyClawedBack
		if err := s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(systemAuthor, refundDesc+"; already clawed back"), s.clock.Now()); err != nil {
			return nil, err
		}
	default:
		result.Outcome = commissiondomain.RefundClawedBack
		now := s.clock.Now()
		payload := map[string]any{"external_event_id": in.ExternalEventID, "refund_amount": in.Amount}
		if c.PayoutID != nil {
			payload["payout_id"] = c.PayoutID.String()
		}
		if err := s.transitionTx(ctx, tx, c, commissiondomain.StatusClawedBack,
			map[string]any{"clawed_back_at": now}, payload); err != nil {
			return nil, err
		}
		note := s.noteLine(systemAuthor, fmt.Sprintf("%s; clawed back, net %d reversed in full", refundDesc, c.NetAmount))
		if err := s.repo.AppendNote(ctx, tx, c.ID, note, s.clock.Now()); err != nil {
			return nil, err
		}
		c.ClawedBackAt = &now
	}

	reloaded, err := s.repo.FindByID(ctx, tx, c.ID)
	if err != nil {
		return nil, err
	}
	result.Commission = reloaded
	return result, nil
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, c *commissiondomain.Commission, payoutID snowflake.ID, at time.Time) error {
	if c.PayoutID == nil || *c.PayoutID != payoutID {
		return fmt.Errorf("%w: commission %s is not reserved by payout %s", commissiondomain.ErrConcurrentUpdate, c.ID, payoutID)
	}
	payload := map[string]any{"payout_id": payoutID.String()}
	if err := s.transitionTx(ctx, tx, c, commissiondomain.StatusPaid, map[string]any{"paid_at": at}, payload); err != nil {
		return err
	}
	c.PaidAt = &at
	return s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(systemAuthor, fmt.Sprintf("paid in payout %s", payoutID)), s.clock.Now())
}

func (s *Service) AppendNoteTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, author, text string) error {
	return s.repo.AppendNote(ctx, tx, id, s.noteLine(author, text), s.clock.Now())
}

// PlaceOnHoldTx reports false when the commission was already on hold.
func (s *Service) PlaceOnHoldTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&commissiondomain.Commission{}).
		Where("id = ? AND on_hold = ?", id, false).
		Updates(map[string]any{"on_hold": true, "hold_reason": reason, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, s.repo.AppendNote(ctx, tx, id, s.noteLine(systemAuthor, "placed on hold: "+reason), s.clock.Now())
}

func (s *Service) ListPayable(ctx context.Context, partnerID snowflake.ID) ([]commissiondomain.Commission, error) {
	return s.repo.ListPayable(ctx, s.db, partnerID)
}

func (s *Service) List(ctx context.Context, filter commissiondomain.ListFilter) ([]commissiondomain.Commission, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", commissiondomain.ErrInvalidStateTransition, status)
		}
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*commissiondomain.Commission, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

// Advance applies the time-driven edges: pending -> earned once the hold has
// elapsed, then earned -> payable once PayableAfter has passed.
func (s *Service) Advance(ctx context.Context, limit int) (commissiondomain.AdvanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "commission.Advance")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	var result commissiondomain.AdvanceResult
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.LockDueForEarn(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range rows {
			c := &rows[i]
			earnedAt := c.EarnableAt
			fields := map[string]any{"earned_at": earnedAt}
			if s.cfg.Ledger.PayoutCalendar {
				calendar := payoutCalendarDate(earnedAt, s.loc, s.cfg.Ledger.CutoffDay, s.cfg.Ledger.PayableHour)
				fields["payable_after"] = later(c.ClawbackEligibleUntil, calendar)
			}
			if err := s.transitionTx(ctx, tx, c, commissiondomain.StatusEarned, fields, nil); err != nil {
				return err
			}
			result.Earned++
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.LockDueForPayable(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range rows {
			c := &rows[i]
			if err := s.transitionTx(ctx, tx, c, commissiondomain.StatusPayable, map[string]any{"payable_at": c.PayableAfter}, nil); err != nil {
				return err
			}
			result.Payable++
		}
		return nil
	})

	span.SetAttributes(attribute.Int("commission.earned", result.Earned), attribute.Int("commission.payable", result.Payable))
	if result.Earned > 0 || result.Payable > 0 {
		s.log.Info("commissions advanced", zap.Int("earned", result.Earned), zap.Int("payable", result.Payable))
	}
	return result, err
}

// Dispute freezes a non-terminal commission. A reservation is kept; the
// batcher releases it on the next reconcile or at mark-paid.
func (s *Service) Dispute(ctx context.Context, id snowflake.ID, reason, actor string) (*commissiondomain.Commission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, commissiondomain.ErrReasonRequired
	}
	return s.operatorAction(ctx, id, actor, "commission.disputed", map[string]any{"reason": reason},
		func(tx *gorm.DB, c *commissiondomain.Commission) error {
			prior := c.Status
			if err := s.transitionTx(ctx, tx, c, commissiondomain.StatusDisputed,
				map[string]any{"dispute_prior_status": prior}, map[string]any{"reason": reason}); err != nil {
				return err
			}
			return s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(actor, fmt.Sprintf("disputed (was %s): %s", prior, reason)), s.clock.Now())
		})
}

func (s *Service) ResolveDispute(ctx context.Context, id snowflake.ID, target commissiondomain.Status, resolution, actor string) (*commissiondomain.Commission, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, commissiondomain.ErrReasonRequired
	}
	switch target {
	case commissiondomain.StatusEarned, commissiondomain.StatusPayable, commissiondomain.StatusClawedBack:
	default:
		return nil, fmt.Errorf("%w: %q", commissiondomain.ErrInvalidResolution, target)
	}

	meta := map[string]any{"resolution": resolution, "target": string(target)}
	return s.operatorAction(ctx, id, actor, "commission.dispute_resolved", meta,
		func(tx *gorm.DB, c *commissiondomain.Commission) error {
			if c.Status != commissiondomain.StatusDisputed {
				return &commissiondomain.TransitionError{From: c.Status, To: target}
			}
			now := s.clock.Now()
			fields := map[string]any{"dispute_prior_status": nil}
			switch target {
			case commissiondomain.StatusEarned:
				if c.EarnedAt == nil {
					fields["earned_at"] = now
				}
			case commissiondomain.StatusPayable:
				if c.EarnedAt == nil {
					fields["earned_at"] = now
				}
				fields["payable_at"] = now
			case commissiondomain.StatusClawedBack:
				fields["clawed_back_at"] = now
			}
			if err := s.transitionTx(ctx, tx, c, target, fields, map[string]any{"resolution": resolution}); err != nil {
				return err
			}
			return s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(actor, fmt.Sprintf("dispute resolved to %s: %s", target, resolution)), s.clock.Now())
		})
}

func (s *Service) AddNote(ctx context.Context, id snowflake.ID, text, actor string) (*commissiondomain.Commission, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxNoteLength {
		return nil, commissiondomain.ErrInvalidNote
	}
	return s.operatorAction(ctx, id, actor, "commission.note_added", nil,
		func(tx *gorm.DB, c *commissiondomain.Commission) error {
			return s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(actor, text), s.clock.Now())
		})
}

// ReversePaid records a clawback against a paid commission as a new
// clawed_back commission. The paid record keeps its amounts and status.
func (s *Service) ReversePaid(ctx context.Context, id snowflake.ID, reason, actor string) (*commissiondomain.Commission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, commissiondomain.ErrReasonRequired
	}

	var reversal *commissiondomain.Commission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if original.Status != commissiondomain.StatusPaid {
			return &commissiondomain.TransitionError{From: original.Status, To: commissiondomain.StatusClawedBack}
		}
		if _, err := s.repo.FindReversalOf(ctx, tx, original.ID); err == nil {
			return commissiondomain.ErrAlreadyReversed
		} else if !errors.Is(err, commissiondomain.ErrNotFound) {
			return err
		}

		now := s.clock.Now()
		originalID := original.ID
		reversal = &commissiondomain.Commission{
			ID:                    s.genID.Generate(),
			PartnerID:             original.PartnerID,
			DealID:                original.DealID,
			Currency:              original.Currency,
			GrossAmount:           original.GrossAmount,
			NetAmount:             original.NetAmount,
			CommissionRate:        original.CommissionRate,
			Status:                commissiondomain.StatusClawedBack,
			EarnableAt:            now,
			ClawbackEligibleUntil: now,
			PayableAfter:          now,
			ClawedBackAt:          &now,
			ReversesCommissionID:  &originalID,
			Livemode:              original.Livemode,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		reversal.Notes = s.noteLine(actor, fmt.Sprintf("reversal of paid commission %s (net %d): %s", original.ID, original.NetAmount, reason))
		if err := s.repo.Insert(ctx, tx, reversal); err != nil {
			return err
		}
		payload := map[string]any{"reverses_commission_id": original.ID.String(), "reason": reason}
		if err := s.publishTransition(ctx, tx, reversal, "", commissiondomain.StatusClawedBack, payload); err != nil {
			return err
		}
		if err := s.repo.AppendNote(ctx, tx, original.ID, s.noteLine(actor, fmt.Sprintf("reversed by commission %s: %s", reversal.ID, reason)), s.clock.Now()); err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  original.PartnerID,
			ActorID:    actor,
			Action:     "commission.reversed",
			TargetType: "commission",
			TargetID:   original.ID.String(),
			Metadata:   map[string]any{"reversal_id": reversal.ID.String(), "reason": reason, "net_amount": original.NetAmount},
		})
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (s *Service) ReleaseHold(ctx context.Context, id snowflake.ID, actor string) (*commissiondomain.Commission, error) {
	return s.operatorAction(ctx, id, actor, "commission.hold_released", nil,
		func(tx *gorm.DB, c *commissiondomain.Commission) error {
			if !c.OnHold {
				return commissiondomain.ErrNotOnHold
			}
			if err := s.repo.Update(ctx, tx, c.ID, map[string]any{
				"on_hold":     false,
				"hold_reason": nil,
				"updated_at":  s.clock.Now(),
			}); err != nil {
				return err
			}
			return s.repo.AppendNote(ctx, tx, c.ID, s.noteLine(actor, "hold released"), s.clock.Now())
		})
}

// operatorAction locks the commission, applies fn, audits and returns the
// reloaded row, all in one transaction.
func (s *Service) operatorAction(
	ctx context.Context,
	id snowflake.ID,
	actor string,
	action string,
	meta map[string]any,
	fn func(tx *gorm.DB, c *commissiondomain.Commission) error,
) (*commissiondomain.Commission, error) {
	ctx, span := s.tracer.Start(ctx, action)
	defer span.End()

	var updated *commissiondomain.Commission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  c.PartnerID,
			ActorID:    actor,
			Action:     action,
			TargetType: "commission",
			TargetID:   c.ID.String(),
			Metadata:   meta,
		}); err != nil {
			return err
		}
		updated, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		s.log.Info("commission action rejected", zap.String("action", action), zap.String("commission_id", id.String()), zap.Error(err))
		return nil, err
	}
	return updated, nil
}
