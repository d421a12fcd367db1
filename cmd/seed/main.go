// Command seed fills a local stack with demo scam reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"dhoka/internal/awsutil"
	"dhoka/internal/cache"
	"dhoka/internal/config"
	"dhoka/internal/database"
	"dhoka/internal/observability"
	"dhoka/internal/repository"
	"dhoka/internal/seed"
)

func main() {
	count := flag.Int("count", 50, "number of reports to create")
	maxDays := flag.Int("max-days", 90, "spread creation dates over this many days")
	dryRun := flag.Bool("dry-run", false, "build reports without writing them")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		fmt.Fprintln(os.Stderr, "refusing to seed a production environment")
		os.Exit(1)
	}
	observability.SetLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	awsConfig, err := awsutil.Load(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load AWS configuration: %v\n", err)
		os.Exit(1)
	}
	clients := awsutil.NewClients(awsConfig)

	db, err := database.Connect(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to search database: %v\n", err)
		os.Exit(1)
	}

	store := cache.New(cache.InitRedis(cfg.RedisURL))
	factory := seed.NewFactory(
		repository.NewPostRepository(clients.DynamoDB, cfg.PostsTable),
		repository.NewIndexRepository(db),
		repository.NewCounterRepository(clients.DynamoDB, cfg.CountersTable, store),
		seed.Options{Count: *count, MaxDays: *maxDays, DryRun: *dryRun},
	)

	summary, err := factory.Run(ctx)
	for status, n := range summary {
		fmt.Printf("%-9s %d\n", status, n)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "seeding stopped: %v\n", err)
		os.Exit(1)
	}
	store.Invalidate(ctx, cache.RecentPostsKey, cache.SearchMetricsKey)
}
