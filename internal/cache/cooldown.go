package cache

import (
	"context"
	"log/slog"
	"time"

	"dhoka/internal/observability"
)

// FailPolicy defines the behavior when Redis is unavailable.
type FailPolicy int

const (
	// FailOpen lets the caller proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed refuses the caller if Redis is unavailable.
	FailClosed
)

// Cooldown grants at most one reservation per key within a window.
type Cooldown struct {
	store  *Store
	window time.Duration
	policy FailPolicy
}

// NewCooldown builds a Cooldown. A zero window disables it.
func NewCooldown(store *Store, window time.Duration, policy FailPolicy) *Cooldown {
	return &Cooldown{store: store, window: window, policy: policy}
}

// Reserve claims key for the window. It returns false when the key is
// already held.
func (c *Cooldown) Reserve(ctx context.Context, key string) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	if !c.store.Available() {
		return c.degraded(ctx, ErrUnavailable)
	}

	ok, err := c.store.client.SetNX(ctx, VerifyCooldownKey(key), time.Now().UTC().Format(time.RFC3339), c.window).Result()
	if err != nil {
		return c.degraded(ctx, err)
	}
	return ok, nil
}

// Release drops a reservation so the key can be claimed again.
func (c *Cooldown) Release(ctx context.Context, key string) error {
	if c.window <= 0 || !c.store.Available() {
		return nil
	}
	return c.store.client.Del(ctx, VerifyCooldownKey(key)).Err()
}

func (c *Cooldown) degraded(ctx context.Context, err error) (bool, error) {
	if c.policy == FailClosed {
		return false, err
	}
	observability.GlobalLogger.WarnContext(ctx, "cooldown store unavailable, allowing request",
		slog.String("error", err.Error()))
	return true, nil
}
