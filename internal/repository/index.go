package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"dhoka/internal/models"
	"dhoka/internal/observability"
	"dhoka/internal/retry"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const searchPredicate = "search_vector @@ plainto_tsquery('simple', ?)"

// IndexRepository is the full-text search index over approved and settled
// posts, stored in Postgres.
type IndexRepository struct {
	db  *gorm.DB
	log *observability.StoreLogger
}

// NewIndexRepository creates a new IndexRepository.
func NewIndexRepository(db *gorm.DB) *IndexRepository {
	return &IndexRepository{db: db, log: observability.NewStoreLogger("indexed_posts")}
}

// classify marks errors that a retry cannot fix as permanent. Data (22),
// integrity (23) and syntax/access (42) SQLSTATE classes are permanent;
// connection, resource and timeout failures stay transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return retry.Permanent(err)
		}
	}
	if errors.Is(err, gorm.ErrInvalidData) || errors.Is(err, gorm.ErrInvalidField) {
		return retry.Permanent(err)
	}
	return err
}

// Upsert writes the document, replacing any existing one with the same id.
func (r *IndexRepository) Upsert(ctx context.Context, doc *models.IndexedPost) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(doc).Error
	if err != nil {
		r.log.Fail(ctx, "upsert", err)
		return classify(err)
	}
	r.log.Write(ctx, "upsert", slog.String("post_id", doc.ID), slog.String("status", string(doc.Status)))
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (r *IndexRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.IndexedPost{}).Error
	if err != nil {
		r.log.Fail(ctx, "delete", err)
		return classify(err)
	}
	r.log.Write(ctx, "delete", slog.String("post_id", id))
	return nil
}

// Get returns a single document.
func (r *IndexRepository) Get(ctx context.Context, id string) (*models.IndexedPost, error) {
	var doc models.IndexedPost
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &doc, nil
}

// Search runs a ranked full-text query. page is 1-based.
func (r *IndexRepository) Search(ctx context.Context, term string, page, pageSize int) (*models.SearchPage, error) {
	result := &models.SearchPage{Items: []models.IndexedPost{}, Page: page, PageSize: pageSize}

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.IndexedPost{}).Where(searchPredicate, term)
	}

	if err := base().Count(&result.TotalCount).Error; err != nil {
		r.log.Fail(ctx, "search_count", err)
		return nil, classify(err)
	}
	if result.TotalCount == 0 {
		return result, nil
	}

	err := base().
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "ts_rank(search_vector, plainto_tsquery('simple', ?)) DESC, created_at DESC",
			Vars:               []interface{}{term},
			WithoutParentheses: true,
		}}).
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&result.Items).Error
	if err != nil {
		r.log.Fail(ctx, "search", err)
		return nil, classify(err)
	}
	return result, nil
}

// AutocompleteTitles returns up to max distinct titles starting with prefix,
// case-insensitively.
func (r *IndexRepository) AutocompleteTitles(ctx context.Context, prefix string, max int) ([]string, error) {
	titles := []string{}
	err := r.db.WithContext(ctx).
		Model(&models.IndexedPost{}).
		Distinct("title").
		Where("lower(title) LIKE ?", escapeLike(strings.ToLower(prefix))+"%").
		Order("title").
		Limit(max).
		Pluck("title", &titles).Error
	if err != nil {
		r.log.Fail(ctx, "autocomplete", err)
		return nil, classify(err)
	}
	return titles, nil
}

// Recent returns the newest indexed documents.
func (r *IndexRepository) Recent(ctx context.Context, limit int) ([]models.IndexedPost, error) {
	docs := []models.IndexedPost{}
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&docs).Error
	if err != nil {
		r.log.Fail(ctx, "recent", err)
		return nil, classify(err)
	}
	return docs, nil
}

// Ping checks database connectivity.
func (r *IndexRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
