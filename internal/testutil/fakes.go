// Package testutil provides in-memory test doubles for the post engine.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dhoka/internal/media"
	"dhoka/internal/models"
	"dhoka/internal/repository"
)

// PostStoreFake is an in-memory primary store with optimistic versioning.
type PostStoreFake struct {
	mu    sync.Mutex
	items map[string]*models.Post

	// UpdateErr, when set, fails every Update without touching the item.
	UpdateErr error
	// DeleteErr, when set, fails every Delete and BatchDelete.
	DeleteErr error
	// ScanErr, when set, fails ScanInit.
	ScanErr error
	// BeforeDelete runs at the start of Delete, outside the lock, so a test
	// can land a concurrent write between a read and the delete.
	BeforeDelete func(id string)

	Updates int
}

// NewPostStoreFake creates an empty store.
func NewPostStoreFake() *PostStoreFake {
	return &PostStoreFake{items: make(map[string]*models.Post)}
}

// Put stores post as-is, bypassing version checks.
func (s *PostStoreFake) Put(post *models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[post.ID] = post.Clone()
}

// Peek returns a copy of the stored post, or nil.
func (s *PostStoreFake) Peek(id string) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[id]; ok {
		return p.Clone()
	}
	return nil
}

// Len reports how many posts are stored.
func (s *PostStoreFake) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *PostStoreFake) Create(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[post.ID]; ok {
		return repository.ErrAlreadyExists
	}
	post.Version = 1
	s.items[post.ID] = post.Clone()
	return nil
}

func (s *PostStoreFake) GetByID(_ context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *PostStoreFake) Update(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	cur, ok := s.items[post.ID]
	if !ok || cur.Version != post.Version {
		return repository.ErrVersionConflict
	}
	now := time.Now().UTC()
	post.Version++
	post.UpdatedAt = &now
	s.items[post.ID] = post.Clone()
	s.Updates++
	return nil
}

func (s *PostStoreFake) Delete(_ context.Context, id string, version int64) error {
	if s.BeforeDelete != nil {
		s.BeforeDelete(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if cur, ok := s.items[id]; ok && cur.Version != version {
		return repository.ErrVersionConflict
	}
	delete(s.items, id)
	return nil
}

func (s *PostStoreFake) ListByStatus(_ context.Context, status models.Status, limit int, token string) (*models.PostPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.items))
	for id, p := range s.items {
		if status == "" || p.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := &models.PostPage{Items: []*models.Post{}}
	for _, id := range ids {
		if token != "" && id <= token {
			continue
		}
		if len(page.Items) == limit {
			page.PaginationToken = page.Items[len(page.Items)-1].ID
			break
		}
		page.Items = append(page.Items, s.items[id].Clone())
	}
	return page, nil
}

func (s *PostStoreFake) ScanInit(_ context.Context) ([]models.InitPostRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	var refs []models.InitPostRef
	for _, p := range s.items {
		if p.Status != models.StatusInit {
			continue
		}
		refs = append(refs, models.InitPostRef{ID: p.ID, ImageURLs: append([]string(nil), p.ImageURLs...), CreatedAt: p.CreatedAt})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (s *PostStoreFake) BatchDelete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for _, id := range ids {
		delete(s.items, id)
	}
	return nil
}

// IndexFake is an in-memory search index. UpsertErrs is consumed one error
// per Upsert call; once empty, upserts succeed.
type IndexFake struct {
	mu   sync.Mutex
	docs map[string]*models.IndexedPost

	UpsertErrs []error
	DeleteErr  error
	GetErr     error
	SearchErr  error

	UpsertCalls int
	DeleteCalls int
}

// NewIndexFake creates an empty index.
func NewIndexFake() *IndexFake {
	return &IndexFake{docs: make(map[string]*models.IndexedPost)}
}

// Doc returns a copy of the document for id, or nil.
func (f *IndexFake) Doc(id string) *models.IndexedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		cp := *d
		return &cp
	}
	return nil
}

// Put stores doc directly.
func (f *IndexFake) Put(doc *models.IndexedPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
}

func (f *IndexFake) Upsert(_ context.Context, doc *models.IndexedPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertCalls++
	if len(f.UpsertErrs) > 0 {
		err := f.UpsertErrs[0]
		f.UpsertErrs = f.UpsertErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *IndexFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.docs, id)
	return nil
}

func (f *IndexFake) Get(_ context.Context, id string) (*models.IndexedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *IndexFake) sorted() []models.IndexedPost {
	out := make([]models.IndexedPost, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (f *IndexFake) Search(_ context.Context, term string, page, pageSize int) (*models.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	term = strings.ToLower(term)
	var hits []models.IndexedPost
	for _, d := range f.sorted() {
		if strings.Contains(strings.ToLower(d.Title+" "+d.Description), term) {
			hits = append(hits, d)
		}
	}

	res := &models.SearchPage{Items: []models.IndexedPost{}, Page: page, PageSize: pageSize, TotalCount: int64(len(hits))}
	start := (page - 1) * pageSize
	if start < len(hits) {
		end := min(start+pageSize, len(hits))
		res.Items = hits[start:end]
	}
	return res, nil
}

func (f *IndexFake) AutocompleteTitles(_ context.Context, prefix string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := map[string]bool{}
	var titles []string
	for _, d := range f.docs {
		if strings.HasPrefix(strings.ToLower(d.Title), strings.ToLower(prefix)) && !seen[d.Title] {
			seen[d.Title] = true
			titles = append(titles, d.Title)
		}
	}
	sort.Strings(titles)
	if len(titles) > max {
		titles = titles[:max]
	}
	return titles, nil
}

func (f *IndexFake) Recent(_ context.Context, limit int) ([]models.IndexedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.sorted()
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// CounterFake keeps counters in memory.
type CounterFake struct {
	mu     sync.Mutex
	counts map[models.CounterLabel]int64

	IncrementErr error
	GetErr       error
}

// NewCounterFake creates zeroed counters.
func NewCounterFake() *CounterFake {
	return &CounterFake{counts: make(map[models.CounterLabel]int64)}
}

// Value reads a counter without error injection.
func (c *CounterFake) Value(label models.CounterLabel) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[label]
}

func (c *CounterFake) GetCount(_ context.Context, label models.CounterLabel) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return 0, c.GetErr
	}
	return c.counts[label], nil
}

func (c *CounterFake) SetCount(_ context.Context, label models.CounterLabel, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[label] = n
	return nil
}

func (c *CounterFake) Increment(_ context.Context, label models.CounterLabel, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IncrementErr != nil {
		return 0, c.IncrementErr
	}
	c.counts[label] += delta
	return c.counts[label], nil
}

// ImageFake records image uploads and deletes.
type ImageFake struct {
	mu sync.Mutex

	UploadErr error
	// DeleteErrs is consumed one error per DeleteImagesByURL call.
	DeleteErrs []error

	Uploaded []string
	Deleted  [][]string
	// DeleteCalls counts DeleteImagesByURL calls, failed ones included.
	DeleteCalls int
}

func (f *ImageFake) UploadImages(_ context.Context, postID string, files []media.Upload) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return nil, f.UploadErr
	}
	urls := make([]string, 0, len(files))
	for i, file := range files {
		urls = append(urls, fmt.Sprintf("https://cdn.test/%s/%d-%s", postID, len(f.Uploaded)+i, file.Filename))
	}
	f.Uploaded = append(f.Uploaded, urls...)
	return urls, nil
}

func (f *ImageFake) DeleteImagesByURL(_ context.Context, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if len(f.DeleteErrs) > 0 {
		err := f.DeleteErrs[0]
		f.DeleteErrs = f.DeleteErrs[1:]
		if err != nil {
			return err
		}
	}
	f.Deleted = append(f.Deleted, append([]string(nil), urls...))
	return nil
}

// SentSMS is one message handed to SMSFake.
type SentSMS struct {
	Phone   string
	Message string
}

// SMSFake records messages. Refuse makes the gateway decline delivery.
type SMSFake struct {
	mu sync.Mutex

	Refuse bool
	Err    error
	Sent   []SentSMS
}

func (f *SMSFake) Send(_ context.Context, phone, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	if f.Refuse {
		return false, nil
	}
	f.Sent = append(f.Sent, SentSMS{Phone: phone, Message: message})
	return true, nil
}

// LimiterFake grants one reservation per key until released or Reset.
type LimiterFake struct {
	mu   sync.Mutex
	held map[string]bool

	Err      error
	Released []string
}

// NewLimiterFake creates a limiter with no reservations.
func NewLimiterFake() *LimiterFake {
	return &LimiterFake{held: make(map[string]bool)}
}

func (l *LimiterFake) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *LimiterFake) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.Released = append(l.Released, key)
	return nil
}

// Reset drops all reservations, as if the window elapsed.
func (l *LimiterFake) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = make(map[string]bool)
}

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
