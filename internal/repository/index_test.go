package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"dhoka/internal/models"
	"dhoka/internal/retry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock
}

func TestIndexRepository_Upsert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectExec(`INSERT INTO "indexed_posts" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &models.IndexedPost{ID: "p1", Status: models.StatusApproved, Title: "Fake job", CreatedAt: time.Now(), IndexedAt: time.Now()}
	require.NoError(t, repo.Upsert(context.Background(), doc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_UpsertClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"invalid text", &pgconn.PgError{Code: "22P02"}, true},
		{"undefined column", &pgconn.PgError{Code: "42703"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewIndexRepository(db)

			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "indexed_posts"`)).WillReturnError(tt.err)

			err := repo.Upsert(context.Background(), &models.IndexedPost{ID: "p1", Title: "t"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
		})
	}
}

func TestIndexRepository_Delete(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "indexed_posts" WHERE id = $1`)).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_Get(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "indexed_posts" WHERE id = $1`)).
		WithArgs("p1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "title"}).AddRow("p1", "Settled", "Fake job"))

	doc, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettled, doc.Status)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "indexed_posts" WHERE id = $1`)).
		WithArgs("nope", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "indexed_posts" WHERE search_vector @@ plainto_tsquery('simple', $1)`)).
		WithArgs("lottery").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT \* FROM "indexed_posts" WHERE search_vector @@ plainto_tsquery\('simple', \$1\) ORDER BY ts_rank`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "status"}).
			AddRow("a", "Lottery win", "Approved").
			AddRow("b", "Lottery scam", "Settled"))

	page, err := repo.Search(context.Background(), "lottery", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(12), page.TotalCount)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNextPage())
	assert.True(t, page.HasPreviousPage())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_SearchEmptySkipsFetch(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "indexed_posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	page, err := repo.Search(context.Background(), "nothing", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.False(t, page.HasNextPage())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_AutocompleteTitles(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "title" FROM "indexed_posts" WHERE lower(title) LIKE $1 ORDER BY title LIMIT $2`)).
		WithArgs(`50\%%`, 5).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("50% off scam"))

	titles, err := repo.AutocompleteTitles(context.Background(), "50%", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"50% off scam"}, titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRepository_Recent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewIndexRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "indexed_posts" ORDER BY created_at DESC LIMIT $1`)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("a", "A").AddRow("b", "B"))

	docs, err := repo.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
