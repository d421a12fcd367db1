// Package cache holds the Redis-backed read cache, counter cache, verify
// cooldown and request rate limits. Every helper treats a nil client as a
// cache miss so the API keeps serving without Redis.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"dhoka/internal/observability"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// keyFamily maps a key to the first segment of its inventory prefix.
func keyFamily(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "other"
	}
	key, ok := args[1].(string)
	if !ok {
		return "other"
	}
	family, _, found := strings.Cut(key, ":")
	if !found {
		return "other"
	}
	switch family {
	case "rl":
		return "ratelimit"
	case "verify":
		return "cooldown"
	case "counter", "posts":
		return family
	}
	return "other"
}

// errorHook counts failed commands. redis.Nil is a miss, not an error.
type errorHook struct{}

func (errorHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrors.WithLabelValues(keyFamily(cmd)).Inc()
		}
		return err
	}
}

func (errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			if cerr := cmd.Err(); cerr != nil && !errors.Is(cerr, redis.Nil) {
				observability.RedisErrors.WithLabelValues(keyFamily(cmd)).Inc()
			}
		}
		return err
	}
}

// NewClient builds a client for addr, either host:port or a redis:// URL.
// It does not dial.
func NewClient(addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	// Cooldown and rate-limit checks sit on the request path; fail fast.
	opts.DialTimeout = pingTimeout
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	client := redis.NewClient(opts)
	client.AddHook(errorHook{})
	return client, nil
}

// InitRedis returns a connected client, or nil when addr is empty, invalid or
// unreachable.
func InitRedis(addr string) *redis.Client {
	log := observability.GlobalLogger
	if addr == "" {
		log.Warn("REDIS_URL not set, running without cache")
		return nil
	}

	client, err := NewClient(addr)
	if err != nil {
		log.Warn("invalid REDIS_URL, running without cache", slog.String("error", err.Error()))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, running without cache", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
