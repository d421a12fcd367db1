// Package seed fills a development environment with believable scam reports.
// It is intended for local stacks and demos only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"dhoka/internal/models"
	"dhoka/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// Store is where seeded posts are written.
type Store interface {
	Create(ctx context.Context, post *models.Post) error
}

// Index receives the projection of every published seeded post.
type Index interface {
	Upsert(ctx context.Context, doc *models.IndexedPost) error
}

// Counters are bumped so the statistics match the seeded data.
type Counters interface {
	Increment(ctx context.Context, label models.CounterLabel, delta int64) (int64, error)
}

// Distribution gives the share of seeded posts per status, in percent.
type Distribution struct {
	Init     int
	Pending  int
	Approved int
	Rejected int
	Settled  int
}

var defaultDistribution = Distribution{Init: 5, Pending: 20, Approved: 50, Rejected: 10, Settled: 15}

// Options configure a seeding run.
type Options struct {
	Count        int
	Distribution Distribution
	// MaxDays spreads CreatedAt over the last MaxDays days.
	MaxDays int
	// DryRun builds posts without writing anything.
	DryRun bool
}

// Summary reports how many posts were written per status.
type Summary map[models.Status]int

var (
	scamTypes    = []string{"Online Shopping", "Lottery", "Job Offer", "Investment", "Romance", "Rental", "Loan", "Tech Support"}
	paymentTypes = []string{"eSewa", "Khalti", "IME Pay", "Bank Transfer", "Cash"}
	modes        = []string{"Online", "In Person", "Phone"}
	hooks        = map[string][]string{
		"Online Shopping": {"Paid for a phone that never arrived", "Fake Facebook page selling bikes", "Advance taken for a laptop order"},
		"Lottery":         {"Told I won a car in a lucky draw", "Prize claim needed a processing fee"},
		"Job Offer":       {"Overseas visa agent vanished", "Registration fee for a data entry job"},
		"Investment":      {"Crypto group promised double returns", "Share tips channel took my deposit"},
		"Romance":         {"Friend from Instagram asked for customs money"},
		"Rental":          {"Deposit paid for a flat that was already let"},
		"Loan":            {"Instant loan app demanded an insurance fee"},
		"Tech Support":    {"Caller posing as bank staff asked for OTP"},
	}
)

// Factory builds reports and persists them.
type Factory struct {
	store    Store
	index    Index
	counters Counters
	opts     Options
	rnd      *rand.Rand
	now      func() time.Time
}

// NewFactory creates a Factory. counters may be nil.
func NewFactory(store Store, index Index, counters Counters, opts Options) *Factory {
	if opts.Distribution == (Distribution{}) {
		opts.Distribution = defaultDistribution
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	return &Factory{
		store:    store,
		index:    index,
		counters: counters,
		opts:     opts,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// BuildReport constructs a post in the given status without persisting it.
func (f *Factory) BuildReport(status models.Status, overrides ...func(*models.Post)) *models.Post {
	scamType := scamTypes[f.rnd.Intn(len(scamTypes))]
	titles := hooks[scamType]
	amount := float64(gofakeit.Number(5, 500) * 100)

	created := f.now().UTC().Add(-time.Duration(f.rnd.Intn(f.opts.MaxDays*24*60)) * time.Minute)
	post := &models.Post{
		ID:        uuid.NewString(),
		Status:    status,
		CreatedAt: created,
	}
	if status != models.StatusInit {
		when := created.Add(-time.Duration(f.rnd.Intn(72)) * time.Hour)
		anonymity := models.AnonymityPublic
		if f.rnd.Intn(3) == 0 {
			anonymity = models.AnonymityAnonymous
		}
		post.ScamType = scamType
		post.Title = titles[f.rnd.Intn(len(titles))]
		post.Description = gofakeit.Sentence(20)
		post.TransactionMode = modes[f.rnd.Intn(len(modes))]
		post.PaymentType = paymentTypes[f.rnd.Intn(len(paymentTypes))]
		post.PaymentDetails = gofakeit.Numerify("98########")
		post.Amount = &amount
		post.ScamDateTime = &when
		post.MobileNumbers = []string{gofakeit.Numerify("98########")}
		post.AnonymityPreference = anonymity
		post.ReporterName = gofakeit.Name()
		post.ContactNumber = gofakeit.Numerify("98########")
	}
	if status == models.StatusApproved || status == models.StatusSettled {
		updated := created.Add(time.Duration(f.rnd.Intn(48)+1) * time.Hour)
		post.UpdatedAt = &updated
	}

	for _, override := range overrides {
		override(post)
	}
	return post
}

// Run writes opts.Count posts spread over the configured distribution.
func (f *Factory) Run(ctx context.Context) (Summary, error) {
	log := observability.GlobalLogger
	summary := Summary{}

	for _, plan := range computeCounts(f.opts.Count, f.opts.Distribution) {
		for i := 0; i < plan.n; i++ {
			post := f.BuildReport(plan.status)
			if f.opts.DryRun {
				summary[plan.status]++
				continue
			}
			if err := f.persist(ctx, post); err != nil {
				return summary, fmt.Errorf("seed %s post: %w", plan.status, err)
			}
			summary[plan.status]++
		}
	}

	log.InfoContext(ctx, "seeding complete",
		slog.Int("total", f.opts.Count),
		slog.Bool("dry_run", f.opts.DryRun),
	)
	return summary, nil
}

func (f *Factory) persist(ctx context.Context, post *models.Post) error {
	if err := f.store.Create(ctx, post); err != nil {
		return err
	}
	if post.IsIndexable() {
		indexedAt := post.CreatedAt
		if post.UpdatedAt != nil {
			indexedAt = *post.UpdatedAt
		}
		if err := f.index.Upsert(ctx, post.Projection(indexedAt)); err != nil {
			return err
		}
	}
	if f.counters == nil {
		return nil
	}
	labels := []models.CounterLabel{}
	switch post.Status {
	case models.StatusPending, models.StatusRejected:
		labels = append(labels, models.CounterPosts)
	case models.StatusApproved:
		labels = append(labels, models.CounterPosts, models.CounterApproved)
	case models.StatusSettled:
		labels = append(labels, models.CounterPosts, models.CounterApproved, models.CounterSettled)
	}
	for _, label := range labels {
		if _, err := f.counters.Increment(ctx, label, 1); err != nil {
			return err
		}
	}
	return nil
}

type statusCount struct {
	status models.Status
	n      int
}

// computeCounts splits total across statuses by percentage. Rounding leftovers
// go to Approved so the sum always equals total.
func computeCounts(total int, d Distribution) []statusCount {
	weights := []statusCount{
		{models.StatusInit, d.Init},
		{models.StatusPending, d.Pending},
		{models.StatusApproved, d.Approved},
		{models.StatusRejected, d.Rejected},
		{models.StatusSettled, d.Settled},
	}
	sum := 0
	for _, w := range weights {
		sum += w.n
	}
	if sum <= 0 || total <= 0 {
		return nil
	}

	out := make([]statusCount, len(weights))
	assigned := 0
	for i, w := range weights {
		n := total * w.n / sum
		out[i] = statusCount{status: w.status, n: n}
		assigned += n
	}
	out[2].n += total - assigned
	return out
}
