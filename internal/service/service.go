// Package service implements the scam report lifecycle on top of the primary
// store, the search index and their supporting collaborators.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"dhoka/internal/media"
	"dhoka/internal/models"

	"github.com/go-playground/validator/v10"
)

// PostStore is the system of record for posts.
type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	// Delete removes the post only while its stored version equals version.
	Delete(ctx context.Context, id string, version int64) error
	ListByStatus(ctx context.Context, status models.Status, limit int, token string) (*models.PostPage, error)
}

// SweepStore is what the reconciliation sweep needs from the primary store.
type SweepStore interface {
	ScanInit(ctx context.Context) ([]models.InitPostRef, error)
	BatchDelete(ctx context.Context, ids []string) error
}

// SearchIndex holds the public projection of approved and settled posts.
type SearchIndex interface {
	Upsert(ctx context.Context, doc *models.IndexedPost) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.IndexedPost, error)
	Search(ctx context.Context, term string, page, pageSize int) (*models.SearchPage, error)
	AutocompleteTitles(ctx context.Context, prefix string, max int) ([]string, error)
	Recent(ctx context.Context, limit int) ([]models.IndexedPost, error)
}

// CounterStore keeps the public statistics.
type CounterStore interface {
	GetCount(ctx context.Context, label models.CounterLabel) (int64, error)
	SetCount(ctx context.Context, label models.CounterLabel, n int64) error
	Increment(ctx context.Context, label models.CounterLabel, delta int64) (int64, error)
}

// ImageService stores and removes post images.
type ImageService interface {
	UploadImages(ctx context.Context, postID string, files []media.Upload) ([]string, error)
	DeleteImagesByURL(ctx context.Context, urls []string) error
}

// SmsSender delivers a text message. A false result with a nil error means
// the gateway declined the message.
type SmsSender interface {
	Send(ctx context.Context, phone, message string) (bool, error)
}

// VerifyLimiter hands out at most one verification per contact per window.
type VerifyLimiter interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Cache is the read-through cache used for hot public reads.
type Cache interface {
	CacheAside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error
	Invalidate(ctx context.Context, keys ...string)
}

// Clock abstracts time for expiry checks and the sweep schedule.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// OTPGenerator produces a four digit verification code.
type OTPGenerator func() (int, error)

// RandomOTP draws a code uniformly from 1000-9999.
func RandomOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return 0, fmt.Errorf("generate otp: %w", err)
	}
	return int(n.Int64()) + 1000, nil
}

type noopCache struct{}

func (noopCache) CacheAside(_ context.Context, _ string, _ any, _ time.Duration, fetch func() error) error {
	return fetch()
}

func (noopCache) Invalidate(context.Context, ...string) {}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into a single readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewValidationError(err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			unit := "characters"
			if fe.Kind() == reflect.Slice {
				unit = "entries"
			}
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s %s", fe.Field(), fe.Param(), unit))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return models.NewValidationError(strings.Join(msgs, "; "))
}
