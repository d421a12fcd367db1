package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dhoka/internal/cache"
	"dhoka/internal/models"
	"dhoka/internal/repository"
)

const (
	defaultSearchPageSize = 10
	maxSearchPageSize     = 50
	defaultSuggestions    = 5
	maxSuggestions        = 20
	defaultListLimit      = 20
	maxListLimit          = 100
	recentPostsLimit      = 5
)

// GetPublic returns the public view of an approved or settled post. Posts
// still under moderation are reported as missing.
func (s *PostService) GetPublic(ctx context.Context, id string) (*models.IndexedPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !post.IsIndexable() {
		return nil, models.NewNotFoundError("Post", id)
	}

	at := post.CreatedAt
	if post.UpdatedAt != nil {
		at = *post.UpdatedAt
	}
	return post.Projection(at), nil
}

// GetAdmin returns the full record for moderators, without the OTP.
func (s *PostService) GetAdmin(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return post.AdminView(), nil
}

// ListAdmin pages through posts, optionally filtered by status.
func (s *PostService) ListAdmin(ctx context.Context, status models.Status, limit int, token string) (*models.PostPage, error) {
	if status != "" && !status.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	page, err := s.store.ListByStatus(ctx, status, limit, token)
	if errors.Is(err, repository.ErrInvalidToken) {
		return nil, models.NewValidationError("invalid pagination token")
	}
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("list posts: %w", err))
	}
	for i, p := range page.Items {
		page.Items[i] = p.AdminView()
	}
	return page, nil
}

// Search runs a full-text query over published posts and counts the search.
func (s *PostService) Search(ctx context.Context, term string, page, pageSize int) (*models.SearchPage, error) {
	term = strings.TrimSpace(term)
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSearchPageSize
	}
	pageSize = min(pageSize, maxSearchPageSize)

	if term == "" {
		return &models.SearchPage{Items: []models.IndexedPost{}, Page: page, PageSize: pageSize}, nil
	}

	res, err := s.index.Search(ctx, term, page, pageSize)
	if err != nil {
		return nil, indexError(err)
	}
	s.bump(ctx, models.CounterSearch)
	return res, nil
}

// Autocomplete suggests published titles starting with prefix.
func (s *PostService) Autocomplete(ctx context.Context, prefix string, max int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	if max <= 0 {
		max = defaultSuggestions
	}
	max = min(max, maxSuggestions)

	titles, err := s.index.AutocompleteTitles(ctx, prefix, max)
	if err != nil {
		return nil, indexError(err)
	}
	if titles == nil {
		titles = []string{}
	}
	return titles, nil
}

// Recent returns the newest published posts.
func (s *PostService) Recent(ctx context.Context) ([]models.IndexedPost, error) {
	var docs []models.IndexedPost
	err := s.cache.CacheAside(ctx, cache.RecentPostsKey, &docs, cache.RecentPostsTTL, func() error {
		var err error
		docs, err = s.index.Recent(ctx, recentPostsLimit)
		return err
	})
	if err != nil {
		return nil, indexError(err)
	}
	if docs == nil {
		docs = []models.IndexedPost{}
	}
	return docs, nil
}

// SearchMetrics summarises the statistics counters for display.
func (s *PostService) SearchMetrics(ctx context.Context) (*models.SearchMetrics, error) {
	var m models.SearchMetrics
	err := s.cache.CacheAside(ctx, cache.SearchMetricsKey, &m, cache.SearchMetricsTTL, func() error {
		labels := []models.CounterLabel{models.CounterSearch, models.CounterPosts, models.CounterApproved, models.CounterSettled}
		counts := make([]string, len(labels))
		for i, l := range labels {
			n, err := s.counters.GetCount(ctx, l)
			if err != nil {
				return fmt.Errorf("read counter %s: %w", l, err)
			}
			counts[i] = models.FormatCount(n)
		}
		m = models.SearchMetrics{
			TotalSearches:      counts[0],
			TotalPosts:         counts[1],
			TotalApprovedPosts: counts[2],
			TotalSettledPosts:  counts[3],
		}
		return nil
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &m, nil
}

// SetCounter overwrites a statistics counter, for corrections by moderators.
func (s *PostService) SetCounter(ctx context.Context, label models.CounterLabel, n int64) error {
	switch label {
	case models.CounterPosts, models.CounterApproved, models.CounterSettled, models.CounterSearch:
	default:
		return models.NewValidationError(fmt.Sprintf("unknown counter %q", label))
	}
	if n < 0 {
		return models.NewValidationError("counter value cannot be negative")
	}
	if err := s.counters.SetCount(ctx, label, n); err != nil {
		return models.NewInternalError(fmt.Errorf("set counter %s: %w", label, err))
	}
	s.cache.Invalidate(ctx, cache.SearchMetricsKey)
	return nil
}
