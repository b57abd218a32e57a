package events

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Subscriber consumes committed events. Handle runs inside the relay's
// transaction so subscriber writes commit together with the published flag.
// Delivery is at-least-once; subscribers must tolerate redelivery.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, tx *gorm.DB, event Event) error
}

// Observer sees an event only after its delivery has committed, so it runs
// once per event even when a subscriber failure forces a retry.
type Observer interface {
	Observe(event Event)
}

type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{BatchSize: 100, MaxAttempts: 10}
}

func (c RelayConfig) withDefaults() RelayConfig {
	defaults := DefaultRelayConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	return c
}

type RelayParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Subscribers []Subscriber `group:"event_subscribers"`
	Observers   []Observer   `group:"event_observers"`
	Config      RelayConfig  `optional:"true"`
}

// Relay moves unpublished outbox rows to subscribers.
type Relay struct {
	db          *gorm.DB
	log         *zap.Logger
	subscribers []Subscriber
	observers   []Observer
	cfg         RelayConfig
}

func NewRelay(p RelayParams) *Relay {
	subs := make([]Subscriber, 0, len(p.Subscribers))
	for _, sub := range p.Subscribers {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	observers := make([]Observer, 0, len(p.Observers))
	for _, o := range p.Observers {
		if o != nil {
			observers = append(observers, o)
		}
	}
	return &Relay{
		db:          p.DB,
		log:         p.Log.Named("events.relay"),
		subscribers: subs,
		observers:   observers,
		cfg:         p.Config.withDefaults(),
	}
}

// RunOnce delivers one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, ErrOutboxUnavailable
	}

	var delivered []Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published = ? AND attempts < ?", false, r.cfg.MaxAttempts).
			Order("id ASC").
			Limit(r.cfg.BatchSize).
			Find(&rows).Error; err != nil {
			return err
		}
		metrics.Engine().SetOutboxBacklog(len(rows))

		for _, row := range rows {
			event := row.ToEvent()
			deliverErr := tx.Transaction(func(etx *gorm.DB) error {
				for _, sub := range r.subscribers {
					if err := sub.Handle(ctx, etx, event); err != nil {
						return errors.Join(errors.New(sub.Name()), err)
					}
				}
				now := time.Now().UTC()
				return etx.Model(&Record{}).
					Where("id = ?", row.ID).
					Updates(map[string]any{"published": true, "published_at": now}).Error
			})
			if deliverErr != nil {
				r.log.Warn("event delivery failed",
					zap.String("event_id", row.ID.String()),
					zap.String("kind", row.Kind),
					zap.Int("attempt", row.Attempts+1),
					zap.Error(deliverErr),
				)
				msg := deliverErr.Error()
				if err := tx.Model(&Record{}).
					Where("id = ?", row.ID).
					Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "last_error": msg}).Error; err != nil {
					return err
				}
				continue
			}
			delivered = append(delivered, event)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, event := range delivered {
		for _, o := range r.observers {
			o.Observe(event)
		}
	}
	return len(delivered), nil
}

// Drain runs RunOnce until the outbox is empty or nothing more can be published.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// MetricsObserver counts transitions and violations.
type MetricsObserver struct {
	metrics *metrics.EngineMetrics
}

func NewMetricsObserver(m *metrics.EngineMetrics) Observer {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) Observe(event Event) {
	switch event.Kind {
	case KindTransition:
		o.metrics.IncTransition(event.EntityType, event.FromState, event.ToState)
	case KindConsistencyViolation:
		kind, _ := event.Payload["violation"].(string)
		o.metrics.IncViolation(kind)
	}
}
