// Command server runs the Dhoka report API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dhoka/internal/awsutil"
	"dhoka/internal/cache"
	"dhoka/internal/config"
	"dhoka/internal/database"
	"dhoka/internal/media"
	"dhoka/internal/observability"
	"dhoka/internal/repository"
	"dhoka/internal/retry"
	"dhoka/internal/server"
	"dhoka/internal/service"
	"dhoka/internal/sms"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level := slog.LevelDebug
	if cfg.IsProduction() {
		level = slog.LevelInfo
	}
	observability.SetLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	log := observability.GlobalLogger

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "dhoka-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		log.Error("Failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsConfig, err := awsutil.Load(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		log.Error("Failed to load AWS configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	clients := awsutil.NewClients(awsConfig)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Error("Failed to connect to search database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := cache.New(cache.InitRedis(cfg.RedisURL))

	posts := repository.NewPostRepository(clients.DynamoDB, cfg.PostsTable).WithDrainPolicy(retry.Drain())
	counters := repository.NewCounterRepository(clients.DynamoDB, cfg.CountersTable, store)
	index := repository.NewIndexRepository(db)

	var invalidator media.CloudFrontAPI
	if cfg.CloudFrontDistID != "" {
		invalidator = clients.CloudFront
	}
	images := media.NewService(clients.S3, invalidator, media.Config{
		Bucket:         cfg.ImageBucket,
		Domain:         cfg.CloudFrontDomain,
		DistributionID: cfg.CloudFrontDistID,
	})

	var sender service.SmsSender = sms.LogSender{}
	switch {
	case cfg.SMSProvider == "kavenegar":
		sender = sms.NewKavenegarSender(cfg.SMSAPIKey, cfg.SMSSender)
	case cfg.SMSProvider == "gateway" && cfg.SMSGatewayURL != "":
		sender = sms.NewGatewaySender(cfg.SMSGatewayURL, cfg.SMSAPIKey)
	default:
		log.Warn("No SMS provider configured, verification codes are only logged")
	}

	policy := cache.FailOpen
	if cfg.RateLimitFailClosed {
		policy = cache.FailClosed
	}

	opts := service.DefaultOptions()
	opts.OTPTTL = cfg.OTPTTL()
	postService := service.NewPostService(service.PostDeps{
		Store:    posts,
		Index:    index,
		Counters: counters,
		Images:   images,
		SMS:      sender,
		Limiter:  cache.NewCooldown(store, cfg.VerifyCooldown(), policy),
		Cache:    store,
	}, opts)

	hour, minute, err := cfg.SweepClock()
	if err != nil {
		log.Error("Invalid SWEEP_AT", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sweeper := service.NewSweeper(posts, images, nil, service.SweeperOptions{
		MinAge: cfg.SweepMinAge(),
		Hour:   hour,
		Minute: minute,
	})
	if cfg.SweepEnabled {
		sweeper.Start(ctx)
	}

	checks := map[string]server.Pinger{
		"dynamodb": posts,
		"postgres": index,
	}
	// Redis is optional; only probe it when it was reachable at startup.
	if store.Available() {
		checks["redis"] = store
	}
	srv := server.NewServer(server.Deps{
		Config:  cfg,
		Posts:   postService,
		Sweeper: sweeper,
		Cache:   store,
		Checks:  checks,
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown error", slog.String("error", err.Error()))
		}
		if client := store.Client(); client != nil {
			_ = client.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("Tracer shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := srv.Start(); err != nil {
		log.Error("Server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
