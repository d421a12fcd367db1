// Command sweep runs one reconciliation pass over abandoned Init posts and
// prints the report. It is meant for cron jobs and manual cleanups.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dhoka/internal/awsutil"
	"dhoka/internal/config"
	"dhoka/internal/media"
	"dhoka/internal/observability"
	"dhoka/internal/repository"
	"dhoka/internal/retry"
	"dhoka/internal/service"
)

func main() {
	minAge := flag.Duration("min-age", 0, "only remove posts older than this (defaults to SWEEP_MIN_AGE_MINUTES)")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the sweep after this long")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.SetLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	awsConfig, err := awsutil.Load(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load AWS configuration: %v\n", err)
		os.Exit(1)
	}
	clients := awsutil.NewClients(awsConfig)

	var invalidator media.CloudFrontAPI
	if cfg.CloudFrontDistID != "" {
		invalidator = clients.CloudFront
	}
	images := media.NewService(clients.S3, invalidator, media.Config{
		Bucket:         cfg.ImageBucket,
		Domain:         cfg.CloudFrontDomain,
		DistributionID: cfg.CloudFrontDistID,
	})
	posts := repository.NewPostRepository(clients.DynamoDB, cfg.PostsTable).WithDrainPolicy(retry.Drain())

	age := *minAge
	if age <= 0 {
		age = cfg.SweepMinAge()
	}
	report, err := service.NewSweeper(posts, images, nil, service.SweeperOptions{MinAge: age}).RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if report.Failed > 0 || report.Skipped > 0 {
		os.Exit(2)
	}
}
