package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned by operations that need Redis when none is connected.
var ErrUnavailable = errors.New("cache: redis unavailable")

// Store wraps an optional Redis client. A Store with a nil client turns every
// read into a miss and every write into a no-op.
type Store struct {
	client *redis.Client
}

// New returns a Store backed by client, which may be nil.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client, or nil.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Available reports whether a Redis client is configured.
func (s *Store) Available() bool {
	return s.Client() != nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Available() {
		return ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !s.Available() {
		return false, nil
	}
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, ttl).Err()
}

// CacheAside tries Redis first, on miss it calls fetch (which must populate dest),
// then stores the result with ttl. Cache read and write failures fall through
// to fetch; only fetch errors are returned.
func (s *Store) CacheAside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if found, err := s.GetJSON(ctx, key, dest); err == nil && found {
		return nil
	}

	if err := fetch(); err != nil {
		return err
	}

	_ = s.SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate removes keys, ignoring errors.
func (s *Store) Invalidate(ctx context.Context, keys ...string) {
	if !s.Available() || len(keys) == 0 {
		return
	}
	s.client.Del(ctx, keys...)
}

// Allow implements a fixed-window counter: it returns false once id has made
// more than limit calls to resource within window.
func (s *Store) Allow(ctx context.Context, resource, id string, limit int, window time.Duration) (bool, error) {
	if !s.Available() {
		return false, ErrUnavailable
	}

	key := RateLimitKey(resource, id)
	cnt, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		s.client.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}
