package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "crosspay:transfer:lock:abc", LockKey("abc"))
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(&config.RedisConfig{URL: "http://not-redis"}, zap.NewNop())
	assert.Error(t, err)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "crosspay:idempotency:alice:k1", IdempotencyKey("alice:k1"))
}
