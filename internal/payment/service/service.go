package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/observability/logger"
	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	"github.com/smallbiznis/partnerledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Cfg           config.Config
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	CommissionSvc commissiondomain.Service
	PayoutSvc     payoutdomain.Service
	AuditSvc      auditdomain.Service
	Metrics       *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	cfg           config.Config
	clock         clock.Clock
	repo          paymentdomain.Repository
	commissionSvc commissiondomain.Service
	payoutSvc     payoutdomain.Service
	auditSvc      auditdomain.Service
	metrics       *metrics.EngineMetrics
	validate      *validator.Validate
	tracer        trace.Tracer
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.ingest"),
		genID:         p.GenID,
		cfg:           p.Cfg,
		clock:         p.Clock,
		repo:          p.Repo,
		commissionSvc: p.CommissionSvc,
		payoutSvc:     p.PayoutSvc,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		tracer:        tracing.Tracer("payment.ingest"),
	}
}

// Ingest records the event and applies it to the ledger in one transaction.
// Re-delivery of a known external_event_id is reported as duplicate_ignored
// with a nil error and has no side effects.
func (s *Service) Ingest(ctx context.Context, req paymentdomain.IngestRequest) (*paymentdomain.IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Ingest")
	defer span.End()

	req.ExternalEventID = strings.TrimSpace(req.ExternalEventID)
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidEvent, err)
	}
	if req.Currency != s.cfg.Currency {
		return nil, fmt.Errorf("%w: currency %s is not %s", paymentdomain.ErrInvalidEvent, req.Currency, s.cfg.Currency)
	}
	livemode, err := s.resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.event_type", string(req.EventType)),
		attribute.Bool("payment.livemode", livemode),
	)

	now := s.clock.Now()
	ev := &paymentdomain.PaymentEvent{
		ID:               s.genID.Generate(),
		ExternalEventID:  req.ExternalEventID,
		EventType:        req.EventType,
		PaymentReference: req.PaymentReference,
		DealID:           strings.TrimSpace(req.DealID),
		Amount:           req.Amount,
		Currency:         req.Currency,
		OccurredAt:       req.OccurredAt.UTC(),
		Livemode:         livemode,
		ReceivedAt:       now,
	}
	if req.PartnerID != 0 {
		partnerID := req.PartnerID
		ev.PartnerID = &partnerID
	}
	if len(req.Metadata) > 0 {
		ev.Metadata = datatypes.JSONMap(req.Metadata)
	}

	result := &paymentdomain.IngestResult{Outcome: paymentdomain.OutcomeAccepted, EventID: ev.ID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = paymentdomain.OutcomeDuplicateIgnored
			result.Reason = paymentdomain.ErrDuplicateEvent
			result.EventID = 0
			return nil
		}

		var partnerID snowflake.ID
		switch req.EventType {
		case paymentdomain.EventTypeCaptured:
			c, err := s.commissionSvc.RecordFromPaymentTx(ctx, tx, commissiondomain.PaymentInput{
				PaymentEventID:   ev.ID,
				PaymentReference: ev.PaymentReference,
				PartnerID:        req.PartnerID,
				DealID:           ev.DealID,
				Amount:           ev.Amount,
				Currency:         ev.Currency,
				OccurredAt:       ev.OccurredAt,
				Livemode:         livemode,
			})
			if errors.Is(err, commissiondomain.ErrDuplicatePayment) {
				result.Detail = "payment_already_recorded"
				break
			}
			if err != nil {
				return err
			}
			partnerID = c.PartnerID
			result.Detail = "commission_" + string(c.Status) + ":" + c.ID.String()
		case paymentdomain.EventTypeRefunded:
			if err := s.payoutSvc.LockReservingPayoutTx(ctx, tx, ev.PaymentReference); err != nil {
				return err
			}
			refund, err := s.commissionSvc.ApplyRefundTx(ctx, tx, commissiondomain.RefundInput{
				PaymentEventID:   ev.ID,
				ExternalEventID:  ev.ExternalEventID,
				PaymentReference: ev.PaymentReference,
				Amount:           ev.Amount,
				OccurredAt:       ev.OccurredAt,
			})
			if err != nil {
				return err
			}
			if refund.Commission != nil {
				partnerID = refund.Commission.PartnerID
				if err := s.payoutSvc.HandleRefundedCommissionTx(ctx, tx, refund.Commission, refund.PriorPayoutID); err != nil {
					return err
				}
			}
			result.Detail = string(refund.Outcome)
		}

		if err := s.repo.MarkProcessed(ctx, tx, ev.ID, result.Detail, now); err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  partnerID,
			ActorType:  auditdomain.ActorTypeProvider,
			Action:     "payment_event.ingested",
			TargetType: "payment_event",
			TargetID:   ev.ID.String(),
			Metadata: map[string]any{
				"external_event_id": ev.ExternalEventID,
				"event_type":        string(ev.EventType),
				"payment_reference": ev.PaymentReference,
				"amount":            ev.Amount,
				"result":            result.Detail,
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		s.metrics.IncIngested(string(req.EventType), "failed", livemode)
		s.log.Warn("payment event ingest failed",
			zap.String("external_event_id", req.ExternalEventID),
			zap.String("event_type", string(req.EventType)),
			zap.Any("metadata", logger.MaskJSON(req.Metadata)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.IncIngested(string(req.EventType), string(result.Outcome), livemode)
	if result.Outcome == paymentdomain.OutcomeDuplicateIgnored {
		s.log.Debug("duplicate payment event ignored", zap.String("external_event_id", req.ExternalEventID))
		return result, nil
	}
	s.log.Info("payment event ingested",
		zap.String("external_event_id", req.ExternalEventID),
		zap.String("event_type", string(req.EventType)),
		zap.String("result", result.Detail),
	)
	return result, nil
}

func (s *Service) resolveMode(mode string) (bool, error) {
	livemode := s.cfg.Livemode()
	if mode == "" {
		return livemode, nil
	}
	requested := mode == config.ModeLive
	if requested != livemode && !s.cfg.AllowModeOverride {
		return false, paymentdomain.ErrModeOverride
	}
	return requested, nil
}
