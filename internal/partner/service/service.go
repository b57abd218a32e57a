package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Clock    clock.Clock
	Repo     partnerdomain.Repository
	AuditSvc auditdomain.Service
	Outbox   events.Publisher
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	clock    clock.Clock
	repo     partnerdomain.Repository
	auditSvc auditdomain.Service
	outbox   events.Publisher
}

func NewService(p Params) partnerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("partner.service"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		outbox:   p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, req partnerdomain.CreateRequest) (*partnerdomain.Partner, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", partnerdomain.ErrInvalidPartner)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", partnerdomain.ErrInvalidPartner)
	}

	rate := s.cfg.DefaultCommissionRate()
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	}
	if rate.IsNegative() {
		return nil, partnerdomain.ErrInvalidRate
	}
	method := strings.TrimSpace(req.PayoutMethod)
	if method == "" {
		method = "manual"
	}

	now := s.clock.Now()
	p := &partnerdomain.Partner{
		ID:                s.genID.Generate(),
		Name:              name,
		Email:             email,
		PayoutMethod:      method,
		PayoutDestination: strings.TrimSpace(req.PayoutDestination),
		CommissionRate:    rate,
		Status:            partnerdomain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&partnerdomain.Partner{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return partnerdomain.ErrEmailAlreadyExists
		}
		if err := s.repo.Insert(ctx, tx, p); err != nil {
			return err
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Transition(events.EntityPartner, p.ID, p.ID, "", string(p.Status), now)); err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  p.ID,
			Action:     "partner.created",
			TargetType: "partner",
			TargetID:   p.ID.String(),
			Metadata:   map[string]any{"commission_rate": rate.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*partnerdomain.Partner, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*partnerdomain.Partner, error) {
	return s.repo.FindByID(ctx, tx, id)
}

// Activate rejects fraud-flagged partners.
func (s *Service) Activate(ctx context.Context, id snowflake.ID, actor string) (*partnerdomain.Partner, error) {
	return s.mutate(ctx, id, actor, "partner.activated", nil, func(p *partnerdomain.Partner, fields map[string]any) error {
		if p.FraudFlag {
			return partnerdomain.ErrFraudFlagged
		}
		if p.Status == partnerdomain.StatusActive {
			return nil
		}
		fields["status"] = partnerdomain.StatusActive
		return nil
	})
}

func (s *Service) Suspend(ctx context.Context, id snowflake.ID, reason, actor string) (*partnerdomain.Partner, error) {
	meta := map[string]any{"reason": strings.TrimSpace(reason)}
	return s.mutate(ctx, id, actor, "partner.suspended", meta, func(p *partnerdomain.Partner, fields map[string]any) error {
		if p.Status != partnerdomain.StatusSuspended {
			fields["status"] = partnerdomain.StatusSuspended
		}
		return nil
	})
}

// SetFraudFlag suspends the partner when flagging. Clearing the flag leaves
// the partner suspended; reactivation is a separate decision.
func (s *Service) SetFraudFlag(ctx context.Context, id snowflake.ID, flagged bool, reason, actor string) (*partnerdomain.Partner, error) {
	reason = strings.TrimSpace(reason)
	action := "partner.fraud_flag_cleared"
	if flagged {
		action = "partner.fraud_flag_set"
	}
	meta := map[string]any{"reason": reason}
	return s.mutate(ctx, id, actor, action, meta, func(p *partnerdomain.Partner, fields map[string]any) error {
		fields["fraud_flag"] = flagged
		if flagged {
			fields["fraud_reason"] = reason
			if p.Status != partnerdomain.StatusSuspended {
				fields["status"] = partnerdomain.StatusSuspended
			}
		} else {
			fields["fraud_reason"] = nil
		}
		return nil
	})
}

// AssessRisk stores a 0-100 risk score; high risk sets the fraud flag.
func (s *Service) AssessRisk(ctx context.Context, id snowflake.ID, score int, actor string) (*partnerdomain.Partner, error) {
	if score < 0 || score > 100 {
		return nil, partnerdomain.ErrInvalidRiskScore
	}
	meta := map[string]any{"risk_score": score}
	return s.mutate(ctx, id, actor, "partner.risk_assessed", meta, func(p *partnerdomain.Partner, fields map[string]any) error {
		fields["risk_score"] = score
		if score >= partnerdomain.RiskHigh && !p.FraudFlag {
			fields["fraud_flag"] = true
			fields["fraud_reason"] = fmt.Sprintf("risk score %d", score)
			if p.Status != partnerdomain.StatusSuspended {
				fields["status"] = partnerdomain.StatusSuspended
			}
		}
		return nil
	})
}

func (s *Service) mutate(
	ctx context.Context,
	id snowflake.ID,
	actor string,
	action string,
	meta map[string]any,
	apply func(p *partnerdomain.Partner, fields map[string]any) error,
) (*partnerdomain.Partner, error) {
	var updated *partnerdomain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		fields := map[string]any{}
		if err := apply(p, fields); err != nil {
			return err
		}
		if len(fields) == 0 {
			updated = p
			return nil
		}
		now := s.clock.Now()
		fields["updated_at"] = now
		if err := s.repo.Update(ctx, tx, id, fields); err != nil {
			return err
		}
		next, statusChanged := fields["status"].(partnerdomain.Status)
		statusChanged = statusChanged && next != p.Status
		flagged, _ := fields["fraud_flag"].(bool)
		newlyFlagged := flagged && !p.FraudFlag
		if statusChanged || newlyFlagged {
			if !statusChanged {
				next = p.Status
			}
			ev := events.Transition(events.EntityPartner, p.ID, p.ID, string(p.Status), string(next), now)
			if newlyFlagged {
				ev.Payload = map[string]any{"fraud_flag": true, "reason": fields["fraud_reason"]}
			}
			if err := s.outbox.PublishTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  p.ID,
			ActorID:    actor,
			Action:     action,
			TargetType: "partner",
			TargetID:   p.ID.String(),
			Metadata:   meta,
		}); err != nil {
			return err
		}
		updated, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(action, zap.String("partner_id", id.String()), zap.String("status", string(updated.Status)))
	return updated, nil
}
