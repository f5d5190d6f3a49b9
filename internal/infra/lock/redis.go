package lock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease can never free somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errLockBusy = errors.New("lock busy")

// RedisConfig tunes the Redis locker.
type RedisConfig struct {
	// Lease bounds how long a crashed holder can block a key.
	Lease time.Duration
	// RetryBackoff is the first wait between SET NX attempts.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Redis is a distributed keyed lock built on SET NX PX.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 250 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

var _ port.Locker = (*Redis)(nil)

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (port.Lock, error) {
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	retryCfg := resilience.Config{
		MaxRetries:     math.MaxInt32,
		InitialBackoff: r.cfg.RetryBackoff,
		MaxBackoff:     r.cfg.MaxBackoff,
	}
	err := resilience.RetryWithBackoff(waitCtx, retryCfg, func() error {
		ok, err := r.client.SetNX(waitCtx, key, token, r.cfg.Lease).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return waitCtx.Err()
			}
			return resilience.Permanent(&domain.ErrExternalService{Service: "redis/lock", Err: err})
		}
		if !ok {
			return errLockBusy
		}
		return nil
	})

	switch {
	case err == nil:
		return &redisLock{client: r.client, key: key, token: token, logger: r.logger}, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errLockBusy):
		return nil, &domain.ErrLockTimeout{Key: key, Wait: wait}
	default:
		return nil, err
	}
}

// Name implements port.HealthChecker.
func (r *Redis) Name() string { return "redis" }

// Ping implements port.HealthChecker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	logger *zap.Logger
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		// Lease ran out while we held it; someone else may own the key now.
		l.logger.Warn("redis lock expired before release", zap.String("key", l.key))
	}
	return nil
}
