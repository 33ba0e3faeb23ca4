//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
	"github.com/crosspay/crosspay_service/pkg/idempotency"
)

func TestTransferLock(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	client, err := NewRedisClient(&config.RedisConfig{URL: url}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	lock := NewTransferLock(client, zap.NewNop())
	ctx := context.Background()
	key := uuid.NewString()

	release, ok, err := lock.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	release()

	release, ok, err = lock.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestIdempotencyStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	client, err := NewRedisClient(&config.RedisConfig{URL: url}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	store := NewIdempotencyStore(client, zap.NewNop())
	ctx := context.Background()
	key := "alice:" + uuid.NewString()

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	first := &idempotency.Record{Key: key, Status: 201, Body: []byte(`{"id":"1"}`), RequestHash: "h", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Save(ctx, first))

	second := *first
	second.Body = []byte(`{"id":"2"}`)
	require.NoError(t, store.Save(ctx, &second))

	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.JSONEq(t, `{"id":"1"}`, string(got.Body), "first response wins")

	ttl, err := client.TTL(ctx, IdempotencyKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
