package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     notificationdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     notificationdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("notification.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) List(ctx context.Context, filter notificationdomain.ListFilter) ([]notificationdomain.Notification, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Resolve(ctx context.Context, id snowflake.ID, notes, actor string) (*notificationdomain.Notification, error) {
	notes = strings.TrimSpace(notes)
	var resolved *notificationdomain.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if n.ResolvedAt != nil {
			return notificationdomain.ErrAlreadyResolved
		}
		ok, err := s.repo.Resolve(ctx, tx, id, actor, notes, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return notificationdomain.ErrAlreadyResolved
		}
		var partnerID snowflake.ID
		if n.PartnerID != nil {
			partnerID = *n.PartnerID
		}
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			PartnerID:  partnerID,
			ActorID:    actor,
			Action:     "notification.resolved",
			TargetType: "notification",
			TargetID:   id.String(),
			Metadata:   map[string]any{"notes": notes, "title": n.Title},
		}); err != nil {
			return err
		}
		resolved, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
