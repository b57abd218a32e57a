package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/clock"
	obsctx "github.com/smallbiznis/partnerledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errInvalidEntry = errors.New("invalid_audit_entry")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	targetType := strings.TrimSpace(entry.TargetType)
	if action == "" || targetType == "" {
		return errInvalidEntry
	}

	actorType := entry.ActorType
	actorID := strings.TrimSpace(entry.ActorID)
	if actorType == "" {
		actorType = auditdomain.ActorTypeOperator
		if actorID == "" {
			actorType = auditdomain.ActorTypeSystem
		}
	}

	metadata := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}

	log := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(actorType),
		Action:     action,
		TargetType: targetType,
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}
	if entry.PartnerID != 0 {
		partnerID := entry.PartnerID
		log.PartnerID = &partnerID
	}
	if actorID != "" {
		log.ActorID = &actorID
	}
	if targetID := strings.TrimSpace(entry.TargetID); targetID != "" {
		log.TargetID = &targetID
	}
	if requestID := obsctx.RequestIDFromContext(ctx); requestID != "" {
		log.RequestID = &requestID
	}
	if ip := obsctx.ClientIPFromContext(ctx); ip != "" {
		log.IPAddress = &ip
	}

	if err := s.repo.Insert(ctx, tx, log); err != nil {
		s.log.Error("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
