package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"pulsecrm/services/tenant"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sink delivers in-app notifications to the tenant's UI channel.
type Sink interface {
	Notify(ctx context.Context, userID string, tn tenant.Tenant, kind string, payload any) error
}

type redisSink struct {
	rdb    *redis.Client
	logger *zap.Logger
}

type SinkParams struct {
	fx.In

	Redis  *redis.Client
	Logger *zap.Logger
}

func NewSink(p SinkParams) Sink {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisSink{rdb: p.Redis, logger: logger}
}

type envelope struct {
	Kind    string `json:"kind"`
	UserID  string `json:"user_id"`
	Payload any    `json:"payload"`
}

func (s *redisSink) Notify(ctx context.Context, userID string, tn tenant.Tenant, kind string, payload any) error {
	body, err := json.Marshal(envelope{Kind: kind, UserID: userID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	channel := fmt.Sprintf("notify:%s:%s", tn.AgencyID, userID)
	if err := s.rdb.Publish(ctx, channel, body).Err(); err != nil {
		s.logger.Error("failed to publish notification", zap.String("channel", channel), zap.Error(err))
		return err
	}
	return nil
}

var Module = fx.Module("messaging",
	fx.Provide(
		NewGateway,
		NewSink,
	),
)
