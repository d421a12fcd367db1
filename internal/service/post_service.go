package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"dhoka/internal/cache"
	"dhoka/internal/media"
	"dhoka/internal/models"
	"dhoka/internal/observability"
	"dhoka/internal/repository"
	"dhoka/internal/retry"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxImagesPerPost = 10

// PostDeps are the collaborators of PostService. Cache, Clock and OTP are
// optional.
type PostDeps struct {
	Store    PostStore
	Index    SearchIndex
	Counters CounterStore
	Images   ImageService
	SMS      SmsSender
	Limiter  VerifyLimiter
	Cache    Cache
	Clock    Clock
	OTP      OTPGenerator
}

// Options tune the post lifecycle.
type Options struct {
	OTPTTL     time.Duration
	IndexRetry retry.Policy
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		OTPTTL:     10 * time.Minute,
		IndexRetry: retry.IndexWrite(),
	}
}

// VerifyInput carries the report details submitted together with the OTP.
type VerifyInput struct {
	ScamType            string                     `json:"scam_type" validate:"max=100"`
	Title               string                     `json:"title" validate:"required,max=300"`
	Description         string                     `json:"description" validate:"max=500"`
	TransactionMode     string                     `json:"transaction_mode" validate:"max=100"`
	PaymentType         string                     `json:"payment_type" validate:"max=100"`
	PaymentDetails      string                     `json:"payment_details" validate:"max=500"`
	Amount              float64                    `json:"amount" validate:"gt=0"`
	ScamDateTime        *time.Time                 `json:"scam_date_time"`
	MobileNumbers       []string                   `json:"mobile_numbers" validate:"max=20,dive,required,max=20"`
	AnonymityPreference models.AnonymityPreference `json:"anonymity_preference" validate:"omitempty,oneof=Public Anonymous"`
	Name                string                     `json:"name" validate:"max=200"`
}

// PostService drives posts through their lifecycle and keeps the search index
// in step with the primary store.
type PostService struct {
	store    PostStore
	index    SearchIndex
	counters CounterStore
	images   ImageService
	sms      SmsSender
	limiter  VerifyLimiter
	cache    Cache
	clock    Clock
	otp      OTPGenerator
	validate *validator.Validate
	opts     Options
}

func NewPostService(deps PostDeps, opts Options) *PostService {
	if deps.Cache == nil {
		deps.Cache = noopCache{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.OTP == nil {
		deps.OTP = RandomOTP
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOptions().OTPTTL
	}
	if opts.IndexRetry.Name == "" {
		opts.IndexRetry = retry.IndexWrite()
	}
	notify := opts.IndexRetry.Notify
	policy := opts.IndexRetry.Name
	opts.IndexRetry.Notify = func(attempt int, err error, next time.Duration) {
		observability.RetryAttempts.WithLabelValues(policy).Inc()
		if notify != nil {
			notify(attempt, err, next)
		}
	}

	return &PostService{
		store:    deps.Store,
		index:    deps.Index,
		counters: deps.Counters,
		images:   deps.Images,
		sms:      deps.SMS,
		limiter:  deps.Limiter,
		cache:    deps.Cache,
		clock:    deps.Clock,
		otp:      deps.OTP,
		validate: newValidator(),
		opts:     opts,
	}
}

func (s *PostService) start(ctx context.Context, op, id string) (*observability.Span, context.Context) {
	return observability.PostSpan(ctx, "PostService."+op, id)
}

func (s *PostService) finish(span *observability.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			outcome = appErr.Code
		}
		span.Fail(err, outcome)
	}
	observability.PostTransitions.WithLabelValues(op, outcome).Inc()
	span.End()
}

func (s *PostService) load(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("load post %s: %w", id, err))
	}
	return post, nil
}

// Init creates an empty post that a reporter fills in and verifies later.
func (s *PostService) Init(ctx context.Context) (post *models.Post, err error) {
	id := uuid.NewString()
	span, ctx := s.start(ctx, "Init", id)
	defer func() { s.finish(span, "init", err) }()

	post = &models.Post{
		ID:        id,
		Status:    models.StatusInit,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.Create(ctx, post); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("create post: %w", err))
	}
	return post, nil
}

// SendOtp texts a verification code to phone and records it on the post.
// Nothing is stored when the message cannot be delivered.
func (s *PostService) SendOtp(ctx context.Context, id, phone string) (err error) {
	span, ctx := s.start(ctx, "SendOtp", id)
	defer func() { s.finish(span, "send_otp", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.Status != models.StatusInit {
		return models.NewInvalidTransitionError(id, post.Status, models.StatusPending)
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.NewValidationError("phone number is required")
	}

	code, err := s.otp()
	if err != nil {
		return models.NewInternalError(err)
	}
	msg := fmt.Sprintf("Your Dhoka verification code is %d. It expires in %d minutes.",
		code, int(s.opts.OTPTTL/time.Minute))
	ok, err := s.sms.Send(ctx, phone, msg)
	if err != nil || !ok {
		return models.NewSMSDeliveryError(err)
	}

	expires := s.clock.Now().UTC().Add(s.opts.OTPTTL)
	post.OTP = code
	post.OTPExpiresAt = &expires
	post.ContactNumber = phone
	return s.writePrimary(ctx, post)
}

// Verify checks the OTP, fills in the report and moves it to Pending.
func (s *PostService) Verify(ctx context.Context, id string, otp int, in VerifyInput) (err error) {
	span, ctx := s.start(ctx, "Verify", id)
	defer func() { s.finish(span, "verify", err) }()

	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.Status != models.StatusInit {
		return models.NewInvalidTransitionError(id, post.Status, models.StatusPending)
	}
	if post.OTPExpiresAt == nil || s.clock.Now().After(*post.OTPExpiresAt) {
		return models.NewOTPExpiredError()
	}
	if subtle.ConstantTimeCompare([]byte(strconv.Itoa(post.OTP)), []byte(strconv.Itoa(otp))) != 1 {
		return models.NewOTPInvalidError()
	}

	key := post.ContactNumber
	if key == "" {
		key = "post:" + id
	}
	ok, err := s.limiter.Reserve(ctx, key)
	if err != nil {
		return models.NewServiceUnavailableError("Verification is temporarily unavailable", err)
	}
	if !ok {
		return models.NewRateLimitedError("A report from this number was verified recently, please try again later")
	}

	post.ScamType = in.ScamType
	post.Title = strings.TrimSpace(in.Title)
	post.Description = in.Description
	post.TransactionMode = in.TransactionMode
	post.PaymentType = in.PaymentType
	post.PaymentDetails = in.PaymentDetails
	amount := in.Amount
	post.Amount = &amount
	post.ScamDateTime = in.ScamDateTime
	post.MobileNumbers = uniqueNumbers(in.MobileNumbers)
	post.AnonymityPreference = in.AnonymityPreference
	if post.AnonymityPreference == "" {
		post.AnonymityPreference = models.AnonymityPublic
	}
	post.ReporterName = in.Name
	post.Status = models.StatusPending
	post.ClearOTP()

	if err := s.writePrimary(ctx, post); err != nil {
		if rerr := s.limiter.Release(ctx, key); rerr != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to release verify cooldown",
				slog.String("post_id", id), slog.String("error", rerr.Error()))
		}
		return err
	}

	s.bump(ctx, models.CounterPosts)
	return nil
}

// Approve publishes a pending post to the search index.
func (s *PostService) Approve(ctx context.Context, id string) (err error) {
	span, ctx := s.start(ctx, "Approve", id)
	defer func() { s.finish(span, "approve", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.IsIndexable() {
		return models.NewAlreadyApprovedError(id)
	}
	if post.Status != models.StatusPending {
		return models.NewInvalidTransitionError(id, post.Status, models.StatusApproved)
	}

	before := post.Clone()
	post.Status = models.StatusApproved
	if err := s.persist(ctx, post, before); err != nil {
		return err
	}

	s.bump(ctx, models.CounterApproved)
	s.cache.Invalidate(ctx, cache.RecentPostsKey)
	return nil
}

// Reject closes a pending post without publishing it.
func (s *PostService) Reject(ctx context.Context, id string) (err error) {
	span, ctx := s.start(ctx, "Reject", id)
	defer func() { s.finish(span, "reject", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.IsIndexable() {
		return models.NewAlreadyApprovedError(id)
	}
	if post.Status != models.StatusPending {
		return models.NewInvalidTransitionError(id, post.Status, models.StatusRejected)
	}

	post.Status = models.StatusRejected
	return s.writePrimary(ctx, post)
}

// Settle marks an approved post as resolved. It stays searchable.
func (s *PostService) Settle(ctx context.Context, id string) (err error) {
	span, ctx := s.start(ctx, "Settle", id)
	defer func() { s.finish(span, "settle", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.IsSettled() {
		return models.NewAlreadySettledError(id)
	}
	if !post.IsApproved() {
		return models.NewNotApprovedError(id)
	}

	before := post.Clone()
	post.Status = models.StatusSettled
	if err := s.persist(ctx, post, before); err != nil {
		return err
	}

	s.bump(ctx, models.CounterSettled)
	s.cache.Invalidate(ctx, cache.RecentPostsKey)
	return nil
}

// Delete removes an unpublished post and its images. The record is kept when
// the images cannot be removed.
func (s *PostService) Delete(ctx context.Context, id string) (err error) {
	span, ctx := s.start(ctx, "Delete", id)
	defer func() { s.finish(span, "delete", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.IsIndexable() {
		return models.NewAlreadyApprovedError(id)
	}

	if len(post.ImageURLs) > 0 {
		if err := s.images.DeleteImagesByURL(ctx, post.ImageURLs); err != nil {
			return models.NewImageDeleteError(err)
		}
	}
	if err := s.store.Delete(ctx, id, post.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return models.NewConcurrentUpdateError(id, err)
		}
		return models.NewInternalError(fmt.Errorf("delete post %s: %w", id, err))
	}
	return nil
}

// EnsureIndexed writes the search document for an approved or settled post
// when it is missing or carries a stale status. It reports whether a write
// happened.
func (s *PostService) EnsureIndexed(ctx context.Context, id string) (written bool, err error) {
	span, ctx := s.start(ctx, "EnsureIndexed", id)
	defer func() { s.finish(span, "ensure_indexed", err) }()

	post, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if !post.IsIndexable() {
		return false, models.NewNotApprovedError(id)
	}

	doc, err := s.index.Get(ctx, id)
	switch {
	case err == nil && doc.Status == post.Status:
		return false, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return false, indexError(err)
	}

	if err := s.upsert(ctx, post.Projection(s.clock.Now().UTC())); err != nil {
		return false, indexError(err)
	}
	observability.GlobalLogger.InfoContext(ctx, "search document repaired",
		slog.String("post_id", id), slog.String("status", string(post.Status)))
	return true, nil
}

// UploadImages attaches images to a post that has not been moderated yet.
func (s *PostService) UploadImages(ctx context.Context, id string, files []media.Upload) (urls []string, err error) {
	span, ctx := s.start(ctx, "UploadImages", id)
	defer func() { s.finish(span, "upload_images", err) }()

	if len(files) == 0 {
		return nil, models.NewValidationError("at least one image is required")
	}

	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusInit && post.Status != models.StatusPending {
		return nil, models.NewPostLockedError(id, post.Status)
	}
	if len(post.ImageURLs)+len(files) > maxImagesPerPost {
		return nil, models.NewValidationError(fmt.Sprintf("a post can have at most %d images", maxImagesPerPost))
	}

	urls, err = s.images.UploadImages(ctx, id, files)
	if errors.Is(err, media.ErrUnsupportedType) {
		return nil, models.NewValidationError(err.Error())
	}
	if err != nil {
		return nil, models.NewServiceUnavailableError("Image upload failed", err)
	}

	post.ImageURLs = append(post.ImageURLs, urls...)
	if err := s.writePrimary(ctx, post); err != nil {
		if derr := s.images.DeleteImagesByURL(context.WithoutCancel(ctx), urls); derr != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to remove orphaned uploads",
				slog.String("post_id", id), slog.String("error", derr.Error()))
		}
		return nil, err
	}
	return urls, nil
}

// persist writes post to the primary store, publishing or refreshing its
// search document first when the new state is indexable. before is the state
// read from the primary store.
func (s *PostService) persist(ctx context.Context, post, before *models.Post) error {
	if !post.IsIndexable() {
		return s.writePrimary(ctx, post)
	}

	if err := s.upsert(ctx, post.Projection(s.clock.Now().UTC())); err != nil {
		return indexError(err)
	}

	if err := s.writePrimary(ctx, post); err != nil {
		s.compensate(ctx, post.ID, before)
		return err
	}
	return nil
}

func (s *PostService) writePrimary(ctx context.Context, post *models.Post) error {
	err := s.store.Update(ctx, post)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionConflict):
		return models.NewConcurrentUpdateError(post.ID, err)
	default:
		return models.NewInternalError(fmt.Errorf("update post %s: %w", post.ID, err))
	}
}

func (s *PostService) upsert(ctx context.Context, doc *models.IndexedPost) error {
	err := retry.Do(ctx, s.opts.IndexRetry, func(ctx context.Context) error {
		return s.index.Upsert(ctx, doc)
	})
	observability.IndexWrites.WithLabelValues("upsert", outcomeOf(err)).Inc()
	return err
}

// compensate brings the search index back in line with the primary store
// after a failed primary write. The document is restored from the stored
// record when that is indexable and removed otherwise. Failures are logged
// and never replace the caller's error.
func (s *PostService) compensate(ctx context.Context, id string, before *models.Post) {
	ctx = context.WithoutCancel(ctx)

	target := before
	current, err := s.store.GetByID(ctx, id)
	switch {
	case err == nil:
		target = current
	case errors.Is(err, repository.ErrNotFound):
		target = nil
	}

	action := "delete"
	if target != nil && target.IsIndexable() {
		action = "restore"
		err = s.upsert(ctx, target.Projection(s.clock.Now().UTC()))
	} else {
		err = retry.Do(ctx, s.opts.IndexRetry, func(ctx context.Context) error {
			return s.index.Delete(ctx, id)
		})
		observability.IndexWrites.WithLabelValues("delete", outcomeOf(err)).Inc()
	}

	observability.Compensations.WithLabelValues(action, outcomeOf(err)).Inc()
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "search index compensation failed",
			slog.String("post_id", id),
			slog.String("action", action),
			slog.String("error", err.Error()))
		return
	}
	observability.GlobalLogger.WarnContext(ctx, "search index compensated after failed primary write",
		slog.String("post_id", id), slog.String("action", action))
}

// uniqueNumbers trims numbers and drops repeats, keeping first-seen order.
// The primary store keeps them as a string set, which rejects duplicates.
func uniqueNumbers(numbers []string) []string {
	if len(numbers) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// bump increments a statistics counter. Counter failures never fail the
// operation that triggered them.
func (s *PostService) bump(ctx context.Context, label models.CounterLabel) {
	if _, err := s.counters.Increment(ctx, label, 1); err != nil {
		observability.CounterFailures.WithLabelValues(string(label)).Inc()
		observability.GlobalLogger.WarnContext(ctx, "failed to update counter",
			slog.String("counter", string(label)), slog.String("error", err.Error()))
	}
}

func indexError(err error) error {
	if retry.IsPermanent(err) {
		return models.NewInternalError(err)
	}
	return models.NewIndexUnavailableError(err)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
