// Package database handles the search index connection and schema.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dhoka/internal/config"
	"dhoka/internal/models"
	"dhoka/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxLoggedSQL = 512

// QueryLogger routes GORM's statement log into slog, tagged as the search
// index store. Missing rows are not errors: EnsureIndexed probes for them.
type QueryLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

// NewQueryLogger returns a GORM logger writing through l at level.
func NewQueryLogger(l *slog.Logger, level logger.LogLevel) *QueryLogger {
	return &QueryLogger{log: l.With(slog.String("store", "indexed_posts")), level: level, slow: 200 * time.Millisecond}
}

// LogMode implements logger.Interface.
func (q *QueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *QueryLogger) printf(ctx context.Context, at logger.LogLevel, lvl slog.Level, msg string, data []interface{}) {
	if q.level >= at {
		q.log.Log(ctx, lvl, fmt.Sprintf(msg, data...))
	}
}

func (q *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Info, slog.LevelInfo, msg, data)
}

func (q *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Warn, slog.LevelWarn, msg, data)
}

func (q *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Error, slog.LevelError, msg, data)
}

// Trace logs failed statements, then slow ones, then (at Info) all of them.
// SQL text is truncated; bound parameters may carry reporter phone numbers.
func (q *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow

	var lvl slog.Level
	var msg string
	switch {
	case failed && q.level >= logger.Error:
		lvl, msg = slog.LevelError, "index query failed"
	case slow && q.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "index query slow"
	case q.level >= logger.Info:
		lvl, msg = slog.LevelInfo, "index query"
	default:
		return
	}

	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "..."
	}
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if failed {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	q.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// DSN builds the PostgreSQL connection string.
func DSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		sslMode,
	)
}

// Connect opens the search index database and prepares its schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:                 NewQueryLogger(observability.GlobalLogger.Logger, logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	observability.GlobalLogger.Info("search index connected", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))

	if err := Migrate(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute)
	}

	return db, nil
}

// Migrate creates the indexed_posts table and its full-text search column.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.IndexedPost{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := EnsureSearchSchema(db); err != nil {
		return err
	}
	observability.GlobalLogger.Info("search index schema ready")
	return nil
}

var searchSchema = []string{
	`ALTER TABLE indexed_posts ADD COLUMN IF NOT EXISTS search_vector tsvector
	GENERATED ALWAYS AS (
		setweight(to_tsvector('simple', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(description, '')), 'B') ||
		to_tsvector('simple', coalesce(scam_type, '') || ' ' || coalesce(payment_details, '') || ' ' || coalesce(mobile_numbers::text, ''))
	) STORED`,
	`CREATE INDEX IF NOT EXISTS idx_indexed_posts_search_vector ON indexed_posts USING GIN (search_vector)`,
	`CREATE INDEX IF NOT EXISTS idx_indexed_posts_title_prefix ON indexed_posts (lower(title) text_pattern_ops)`,
}

// EnsureSearchSchema adds the generated tsvector column and the indexes that
// back search and autocomplete. Every statement is idempotent.
func EnsureSearchSchema(db *gorm.DB) error {
	for _, stmt := range searchSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to prepare search schema: %w", err)
		}
	}
	return nil
}
