package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/partnerledger/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// RedisSubscriber fans events out on a redis pub/sub channel so external
// observers can subscribe instead of polling the API.
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
}

type wireEvent struct {
	Kind       string         `json:"kind"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	PartnerID  string         `json:"partner_id,omitempty"`
	FromState  string         `json:"from_state,omitempty"`
	ToState    string         `json:"to_state,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Livemode   bool           `json:"livemode"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func NewRedisSubscriberWithClient(client redis.UniversalClient, channel string) *RedisSubscriber {
	return &RedisSubscriber{client: client, channel: channel}
}

// NewRedisSubscriber returns nil when no redis address is configured.
func NewRedisSubscriber(lc fx.Lifecycle, cfg config.Config) Subscriber {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.StopHook(client.Close))
	return NewRedisSubscriberWithClient(client, cfg.Redis.Channel)
}

func (s *RedisSubscriber) Name() string { return "redis" }

func (s *RedisSubscriber) Handle(ctx context.Context, _ *gorm.DB, event Event) error {
	msg := wireEvent{
		Kind:       event.Kind,
		EntityType: event.EntityType,
		EntityID:   event.EntityID.String(),
		FromState:  event.FromState,
		ToState:    event.ToState,
		OccurredAt: event.OccurredAt,
		Livemode:   event.Livemode,
		Payload:    event.Payload,
	}
	if event.PartnerID != 0 {
		msg.PartnerID = event.PartnerID.String()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}
