package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/pkg/idempotency"
)

const idempotencyKeyPrefix = "crosspay:idempotency:"

// IdempotencyStore keeps replayable responses in Redis with a TTL
type IdempotencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewIdempotencyStore creates a store backed by client
func NewIdempotencyStore(client *redis.Client, logger *zap.Logger) *IdempotencyStore {
	return &IdempotencyStore{client: client, logger: logger}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyKey returns the redis key for a scoped idempotency key
func IdempotencyKey(key string) string {
	return idempotencyKeyPrefix + key
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	data, err := s.client.Get(ctx, IdempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	var record idempotency.Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("Discarding unreadable idempotency record", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &record, nil
}

// Save stores the record until its ExpiresAt. A record that is already
// expired is not written.
func (s *IdempotencyStore) Save(ctx context.Context, record *idempotency.Record) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	// SETNX keeps the first response when two retries race
	if err := s.client.SetNX(ctx, IdempotencyKey(record.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}
