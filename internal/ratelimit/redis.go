package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore enforces fixed one-minute windows shared across replicas.
// Each key counts requests in the current window via INCR; the first
// increment sets the expiry.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string, perMinute int) (bool, error) {
	window := time.Now().Unix() / 60
	redisKey := fmt.Sprintf("%s%s:%d", s.keyPrefix, key, window)

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit INCR failed: %w", err)
	}
	if count == 1 {
		// Slightly over a minute so the key survives window boundaries.
		if err := s.client.Expire(ctx, redisKey, 90*time.Second).Err(); err != nil {
			return false, fmt.Errorf("rate limit EXPIRE failed: %w", err)
		}
	}

	return count <= int64(perMinute), nil
}
