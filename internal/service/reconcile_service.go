package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"dhoka/internal/observability"
	"dhoka/internal/retry"

	"go.opentelemetry.io/otel/attribute"
)

// SweepReport summarises one reconciliation run.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	// Skipped posts kept their record because their images could not be removed.
	Skipped int `json:"skipped"`
	// Failed posts had their images removed but the record delete failed.
	Failed int `json:"failed"`
	// Young posts were too recent to be considered abandoned.
	Young int `json:"young"`
}

// SweeperOptions configure the reconciliation job.
type SweeperOptions struct {
	// MinAge is how old an Init post must be before it counts as abandoned.
	MinAge time.Duration
	// Hour and Minute give the local wall-clock time of the daily run.
	Hour   int
	Minute int
	// ImageRetry governs image deletion per post.
	ImageRetry retry.Policy
}

// Sweeper removes posts abandoned in Init together with their images.
type Sweeper struct {
	store  SweepStore
	images ImageService
	clock  Clock
	opts   SweeperOptions
	once   sync.Once
}

func NewSweeper(store SweepStore, images ImageService, clock Clock, opts SweeperOptions) *Sweeper {
	if clock == nil {
		clock = SystemClock()
	}
	if opts.MinAge <= 0 {
		opts.MinAge = time.Hour
	}
	if opts.ImageRetry.Name == "" {
		opts.ImageRetry = retry.ImageDelete()
	}
	policy := opts.ImageRetry.Name
	notify := opts.ImageRetry.Notify
	opts.ImageRetry.Notify = func(attempt int, err error, next time.Duration) {
		observability.RetryAttempts.WithLabelValues(policy).Inc()
		if notify != nil {
			notify(attempt, err, next)
		}
	}
	return &Sweeper{store: store, images: images, clock: clock, opts: opts}
}

// RunOnce performs a single sweep. Only the initial scan can fail the run;
// per-post failures are logged and counted in the report.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	started := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(started).Seconds()) }()

	span, ctx := observability.NewSpan(ctx, "Sweeper.RunOnce")
	defer span.End()

	job := observability.StartJob(ctx, "reconcile_sweep")

	refs, err := s.store.ScanInit(ctx)
	if err != nil {
		span.Fail(err, "")
		job.Failed(ctx, err)
		return report, fmt.Errorf("scan init posts: %w", err)
	}

	cutoff := s.clock.Now().Add(-s.opts.MinAge)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			job.Failed(ctx, err, slog.Int("scanned", report.Scanned))
			return report, err
		}

		report.Scanned++
		if ref.CreatedAt.After(cutoff) {
			report.Young++
			observability.SweepPosts.WithLabelValues("young").Inc()
			continue
		}

		if len(ref.ImageURLs) > 0 {
			urls := ref.ImageURLs
			err := retry.Do(ctx, s.opts.ImageRetry, func(ctx context.Context) error {
				return s.images.DeleteImagesByURL(ctx, urls)
			})
			if err != nil {
				report.Skipped++
				observability.SweepPosts.WithLabelValues("skipped").Inc()
				observability.GlobalLogger.WarnContext(ctx, "sweep kept post, image delete failed",
					slog.String("post_id", ref.ID), slog.String("error", err.Error()))
				continue
			}
		}

		if err := s.store.BatchDelete(ctx, []string{ref.ID}); err != nil {
			report.Failed++
			observability.SweepPosts.WithLabelValues("failed").Inc()
			observability.GlobalLogger.ErrorContext(ctx, "sweep failed to delete post",
				slog.String("post_id", ref.ID), slog.String("error", err.Error()))
			continue
		}
		report.Deleted++
		observability.SweepPosts.WithLabelValues("deleted").Inc()
	}

	span.AddAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.deleted", report.Deleted),
		attribute.Int("sweep.skipped", report.Skipped),
		attribute.Int("sweep.failed", report.Failed),
	)
	job.Done(ctx,
		slog.Int("scanned", report.Scanned),
		slog.Int("deleted", report.Deleted),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("young", report.Young),
	)
	return report, nil
}

// Start runs the sweep daily at the configured time until ctx is done.
// Calling it again has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.loop(ctx)
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		now := s.clock.Now()
		wait := nextRunAt(now, s.opts.Hour, s.opts.Minute).Sub(now)
		observability.GlobalLogger.InfoContext(ctx, "next reconciliation sweep scheduled",
			slog.Duration("in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		s.safeRun(ctx)
	}
}

func (s *Sweeper) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.ErrorContext(ctx, "panic in reconciliation sweep",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	if _, err := s.RunOnce(ctx); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "reconciliation sweep failed",
			slog.String("error", err.Error()))
	}
}

// nextRunAt returns the first hour:minute strictly after now, in now's location.
func nextRunAt(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
