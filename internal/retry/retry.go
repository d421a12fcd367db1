// Package retry runs operations under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Name labels the policy in logs and metrics.
	Name         string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Notify, when set, is called before each wait with the attempt that just failed.
	Notify func(attempt int, err error, next time.Duration)
}

// IndexWrite is the policy for search index writes.
func IndexWrite() Policy {
	return Policy{
		Name:         "index_write",
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
	}
}

// ImageDelete is the policy for removing a post's stored images.
func ImageDelete() Policy {
	return Policy{
		Name:         "image_delete",
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Drain is the policy for draining unprocessed batch items. It has no attempt
// cap and stops only on success or context cancellation.
func Drain() Policy {
	return Policy{
		Name:         "drain",
		MaxAttempts:  0,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.RandomizationFactor = 0
	return b
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do runs fn until it succeeds, the attempt cap is reached, ctx is done or
// fn returns a permanent error. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var (
		attempt int
		lastErr error
	)

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.Notify != nil {
				p.Notify(attempt, err, next)
			}
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}

	val, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			lastErr = err
		}
		return v, err
	}, opts...)
	if err == nil {
		return val, nil
	}
	if lastErr == nil {
		return val, err
	}
	// A wait cut short by ctx reports both the cancellation and the last failure.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) && !errors.Is(lastErr, ctxErr) {
		return val, fmt.Errorf("%w: %w", ctxErr, lastErr)
	}
	return val, lastErr
}
