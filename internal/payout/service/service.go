package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	"github.com/smallbiznis/partnerledger/internal/observability/tracing"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const systemActor = "system"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Cfg            config.Config
	Clock          clock.Clock
	Repo           payoutdomain.Repository
	CommissionSvc  commissiondomain.Service
	CommissionRepo commissiondomain.Repository
	PartnerRepo    partnerdomain.Repository
	AuditSvc       auditdomain.Service
	Outbox         events.Publisher
	Flags          sysdomain.Service
	Channel        payoutdomain.TransferChannel
	Metrics        *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	cfg            config.Config
	loc            *time.Location
	clock          clock.Clock
	repo           payoutdomain.Repository
	commissionSvc  commissiondomain.Service
	commissionRepo commissiondomain.Repository
	partnerRepo    partnerdomain.Repository
	auditSvc       auditdomain.Service
	outbox         events.Publisher
	flags          sysdomain.Service
	channel        payoutdomain.TransferChannel
	metrics        *metrics.EngineMetrics
	tracer         trace.Tracer
}

func NewService(p Params) payoutdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payout.service"),
		genID:          p.GenID,
		cfg:            p.Cfg,
		loc:            p.Cfg.Location(),
		clock:          p.Clock,
		repo:           p.Repo,
		commissionSvc:  p.CommissionSvc,
		commissionRepo: p.CommissionRepo,
		partnerRepo:    p.PartnerRepo,
		auditSvc:       p.AuditSvc,
		outbox:         p.Outbox,
		flags:          p.Flags,
		channel:        p.Channel,
		metrics:        p.Metrics,
		tracer:         tracing.Tracer("payout"),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*payoutdomain.Payout, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, filter payoutdomain.ListFilter) ([]payoutdomain.Payout, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", payoutdomain.ErrInvalidStateTransition, status)
		}
	}
	return s.repo.List(ctx, s.db, filter)
}

// ReservedCommissions returns the commissions the payout currently holds.
func (s *Service) ReservedCommissions(ctx context.Context, id snowflake.ID) ([]commissiondomain.Commission, error) {
	if _, err := s.repo.FindByID(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.commissionSvc.List(ctx, commissiondomain.ListFilter{PayoutID: id, Limit: 500})
}

func (s *Service) noteLine(author, text string) string {
	if strings.TrimSpace(author) == "" {
		author = systemActor
	}
	return fmt.Sprintf("[%s] %s: %s", s.clock.Now().In(s.loc).Format("2006-01-02 15:04"), author, text)
}

// transitionTx moves p along one payout edge and records the transition.
func (s *Service) transitionTx(
	ctx context.Context,
	tx *gorm.DB,
	p *payoutdomain.Payout,
	to payoutdomain.Status,
	fields map[string]any,
	payload map[string]any,
) error {
	from := p.Status
	if !payoutdomain.CanTransition(from, to) {
		return &payoutdomain.TransitionError{From: from, To: string(to)}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	now := s.clock.Now()
	fields["updated_at"] = now

	ok, err := s.repo.UpdateStatus(ctx, tx, p.ID, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return payoutdomain.ErrConcurrentUpdate
	}
	p.Status = to

	ev := events.Transition(events.EntityPayout, p.ID, p.PartnerID, string(from), string(to), now)
	ev.Livemode = p.Livemode
	ev.Payload = payload
	return s.outbox.PublishTx(ctx, tx, ev)
}

func (s *Service) publishTx(ctx context.Context, tx *gorm.DB, p *payoutdomain.Payout, kind string, payload map[string]any, dedupe string) error {
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Kind:       kind,
		EntityType: events.EntityPayout,
		EntityID:   p.ID,
		PartnerID:  p.PartnerID,
		ToState:    string(p.Status),
		OccurredAt: s.clock.Now(),
		Livemode:   p.Livemode,
		Payload:    payload,
		DedupeKey:  dedupe,
	})
}

// recomputeTx rewrites the denormalized totals from the live reserved set.
func (s *Service) recomputeTx(ctx context.Context, tx *gorm.DB, p *payoutdomain.Payout) (changed bool, err error) {
	total, count, err := s.repo.SumReserved(ctx, tx, p.ID)
	if err != nil {
		return false, err
	}
	if total == p.TotalAmount && count == p.CommissionCount {
		return false, nil
	}
	if err := s.repo.Update(ctx, tx, p.ID, map[string]any{
		"total_amount":     total,
		"commission_count": count,
		"updated_at":       s.clock.Now(),
	}); err != nil {
		return false, err
	}
	p.TotalAmount = total
	p.CommissionCount = count
	return true, nil
}

// placeOnHoldTx reports false when the payout was already held.
func (s *Service) placeOnHoldTx(ctx context.Context, tx *gorm.DB, p *payoutdomain.Payout, reason string) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ? AND on_hold = ?", p.ID, false).
		Updates(map[string]any{"on_hold": true, "hold_reason": reason, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	p.OnHold = true
	p.HoldReason = &reason
	return true, s.repo.AppendNote(ctx, tx, p.ID, s.noteLine(systemActor, "placed on hold: "+reason), s.clock.Now())
}

// operatorAction locks the payout, applies fn, audits and returns the
// reloaded row, all in one transaction. meta may be filled in by fn.
func (s *Service) operatorAction(
	ctx context.Context,
	id snowflake.ID,
	actor string,
	action string,
	meta map[string]any,
	fn func(tx *gorm.DB, p *payoutdomain.Payout) error,
) (*payoutdomain.Payout, error) {
	ctx, span := s.tracer.Start(ctx, action)
	defer span.End()

	if meta == nil {
		meta = map[string]any{}
	}
	var updated *payoutdomain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		fromStatus := p.Status
		if err := fn(tx, p); err != nil {
			return err
		}
		meta["from_status"] = string(fromStatus)
		meta["to_status"] = string(p.Status)
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  p.PartnerID,
			ActorID:    actor,
			Action:     action,
			TargetType: "payout",
			TargetID:   p.ID.String(),
			Metadata:   meta,
		}); err != nil {
			return err
		}
		updated, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		s.log.Info("payout action rejected", zap.String("action", action), zap.String("payout_id", id.String()), zap.Error(err))
		return nil, err
	}
	return updated, nil
}
