package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL keeps records long enough to cover every payout retry and resume
const DefaultIdempotencyTTL = 7 * 24 * time.Hour

// IdempotencyStore remembers the first value written for an idempotency key
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotencyStore creates a store whose records expire after ttl
func NewIdempotencyStore(c *Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{rdb: c.Underlying(), ttl: ttl}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// Get returns the stored value, or nil when the key was never claimed
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.rdb.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get idempotency record %s: %w", key, err)
	}
	return value, nil
}

// PutIfAbsent stores value unless the key already has one, returning whether it was stored
func (s *IdempotencyStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, idempotencyKey(key), value, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: put idempotency record %s: %w", key, err)
	}
	return ok, nil
}
