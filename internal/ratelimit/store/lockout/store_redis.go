// Package lockout persists failure counts and locks. Stores are pure
// I/O: windows and durations arrive from the service.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failureKeyPrefix = "mfa:fail:"
	lockKeyPrefix    = "mfa:lock:"
)

// RedisStore keeps counts and locks in Redis so instances share lockout
// state. TTLs do the expiry; nothing is ever swept.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// RecordFailure increments the failure counter, starting the window on
// the first failure. INCR and EXPIRE NX ride one pipeline so the counter
// can never end up without a TTL.
func (s *RedisStore) RecordFailure(ctx context.Context, identifier string, window time.Duration) (int, error) {
	key := failureKeyPrefix + identifier

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return int(incr.Val()), nil
}

// Lock places the lock with SET NX: of any number of concurrent
// callers, exactly one sees true.
func (s *RedisStore) Lock(ctx context.Context, identifier string, duration time.Duration) (bool, error) {
	applied, err := s.client.SetNX(ctx, lockKeyPrefix+identifier, "1", duration).Result()
	if err != nil {
		return false, fmt.Errorf("apply lock: %w", err)
	}
	return applied, nil
}

func (s *RedisStore) Locked(ctx context.Context, identifier string) (bool, error) {
	_, err := s.client.Get(ctx, lockKeyPrefix+identifier).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return true, nil
}

func (s *RedisStore) Clear(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, failureKeyPrefix+identifier, lockKeyPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}
