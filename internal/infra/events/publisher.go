// Package events publishes account lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/port"
)

// DefaultStream is the Redis stream account events are appended to.
const DefaultStream = "account-events"

// RedisPublisher appends events to a Redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ port.EventPublisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher writing to stream. maxLen > 0 trims
// the stream approximately to that length.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.AccountEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":  event.Type,
			"event": payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return &domain.ErrExternalService{Service: "redis/events", Err: err}
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.AccountEvent) error { return nil }

// Logging writes events to the logger. Used when no broker is configured.
type Logging struct {
	Logger *zap.Logger
}

func (l Logging) Publish(_ context.Context, event domain.AccountEvent) error {
	l.Logger.Info("account event",
		zap.String("type", event.Type),
		zap.Int64("user_id", event.UserID),
		zap.String("account_number", event.AccountNumber),
		zap.String("at", event.At),
	)
	return nil
}
