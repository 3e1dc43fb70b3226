package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces idempotency entries in the shared Redis instance.
const keyPrefix = "idempotency:"

// RedisStore implements Store on Redis. Entries expire server-side via the
// key TTL, so no sweeping is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a Store backed by the Redis at addr. ttl is applied
// to every stored entry.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, ttl: ttl}
}

// Ping verifies the Redis connection. Called at startup so a missing cache
// endpoint fails fast instead of degrading silently.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("idempotency: redis ping: %w", err)
	}
	return nil
}

// Lookup returns the cached result for key, or (nil, nil) on a miss.
func (s *RedisStore) Lookup(ctx context.Context, key string) (*CachedResult, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: lookup %q: %w", key, err)
	}
	var res CachedResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return nil, nil
	}
	return &res, nil
}

// Put stores res under key with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, key string, res *CachedResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: put %q: %w", key, err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
