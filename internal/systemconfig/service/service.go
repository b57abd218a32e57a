package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	"github.com/smallbiznis/partnerledger/internal/cache"
	"github.com/smallbiznis/partnerledger/internal/clock"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	auditSvc auditdomain.Service
	cache    *cache.TTLCache[string, string]
}

func NewService(p Params) sysdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("systemconfig.service"),
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		cache:    cache.New[string, string](p.Clock, cacheTTL),
	}
}

// Bool returns the flag value, or fallback when unset or unparseable.
func (s *Service) Bool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, found, err := s.lookup(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !found {
		return fallback, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("unparseable boolean setting", zap.String("key", key), zap.String("value", raw))
		return fallback, nil
	}
	return value, nil
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool, error) {
	return s.cache.GetOrLoad(key, func() (string, bool, error) {
		var setting sysdomain.Setting
		err := s.db.WithContext(ctx).Where(&sysdomain.Setting{Key: key}).Take(&setting).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return setting.Value, true, nil
	})
}

func (s *Service) Set(ctx context.Context, key, value, actor string) (*sysdomain.Setting, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, sysdomain.ErrInvalidKey
	}
	setting := &sysdomain.Setting{Key: key, Value: strings.TrimSpace(value), UpdatedAt: s.clock.Now()}
	if actor = strings.TrimSpace(actor); actor != "" {
		setting.UpdatedBy = &actor
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
		}).Create(setting).Error; err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			ActorID:    actor,
			Action:     "system_config.updated",
			TargetType: "system_config",
			TargetID:   key,
			Metadata:   map[string]any{"value": setting.Value},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(key)
	return setting, nil
}
