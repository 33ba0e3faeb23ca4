package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
)

const lockKeyPrefix = "crosspay:transfer:lock:"

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker guards a key across processes
type Locker interface {
	// Acquire takes the lock for ttl. ok is false when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// NewRedisClient creates a go-redis client from config and verifies the connection
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis successfully", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return rdb, nil
}

// TransferLock is a Redis SETNX lock keyed by payment id
type TransferLock struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTransferLock creates a lock backed by client
func NewTransferLock(client *redis.Client, logger *zap.Logger) *TransferLock {
	return &TransferLock{client: client, logger: logger}
}

var _ Locker = (*TransferLock)(nil)

// Acquire sets the lock key if absent. The returned release is safe to call once
// the TTL has expired or another holder has taken over.
func (l *TransferLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := LockKey(key)

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release transfer lock", zap.String("key", redisKey), zap.Error(err))
		}
	}
	return release, true, nil
}

// Ping checks the connection to Redis
func (l *TransferLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// LockKey namespaces a payment id
func LockKey(paymentID string) string {
	return lockKeyPrefix + paymentID
}
