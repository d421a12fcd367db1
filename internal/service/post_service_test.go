package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dhoka/internal/media"
	"dhoka/internal/models"
	"dhoka/internal/repository"
	"dhoka/internal/retry"
	"dhoka/internal/testutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOTP = 4321

var errTransient = errors.New("connection reset by peer")

type harness struct {
	svc      *PostService
	store    *testutil.PostStoreFake
	index    *testutil.IndexFake
	counters *testutil.CounterFake
	images   *testutil.ImageFake
	sms      *testutil.SMSFake
	limiter  *testutil.LimiterFake
	clock    *testutil.Clock
}

func fastPolicy(name string) retry.Policy {
	return retry.Policy{
		Name:         name,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    testutil.NewPostStoreFake(),
		index:    testutil.NewIndexFake(),
		counters: testutil.NewCounterFake(),
		images:   &testutil.ImageFake{},
		sms:      &testutil.SMSFake{},
		limiter:  testutil.NewLimiterFake(),
		clock:    testutil.NewClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
	h.svc = NewPostService(PostDeps{
		Store:    h.store,
		Index:    h.index,
		Counters: h.counters,
		Images:   h.images,
		SMS:      h.sms,
		Limiter:  h.limiter,
		Clock:    h.clock,
		OTP:      func() (int, error) { return testOTP, nil },
	}, Options{OTPTTL: 10 * time.Minute, IndexRetry: fastPolicy("index_write")})
	return h
}

func fakeReport() VerifyInput {
	return VerifyInput{
		ScamType:            gofakeit.RandomString([]string{"Online Shopping", "Lottery", "Job Offer", "Investment"}),
		Title:               gofakeit.Sentence(6),
		Description:         gofakeit.Sentence(15),
		TransactionMode:     "Online",
		PaymentType:         gofakeit.RandomString([]string{"eSewa", "Khalti", "Bank Transfer"}),
		PaymentDetails:      gofakeit.Numerify("98########"),
		Amount:              gofakeit.Float64Range(100, 50000),
		MobileNumbers:       []string{gofakeit.Numerify("98########")},
		AnonymityPreference: models.AnonymityPublic,
		Name:                gofakeit.Name(),
	}
}

// seed stores a post in the given status with enough fields to project.
func (h *harness) seed(id string, status models.Status) *models.Post {
	amount := 500.0
	p := &models.Post{
		ID:                  id,
		Status:              status,
		Title:               "Fake lottery " + id,
		Description:         "Asked for a processing fee",
		Amount:              &amount,
		ReporterName:        "Sita",
		AnonymityPreference: models.AnonymityPublic,
		CreatedAt:           h.clock.Now().Add(-time.Hour),
		Version:             1,
	}
	if status != models.StatusInit {
		p.ContactNumber = "9800000000"
	}
	h.store.Put(p)
	if p.IsIndexable() {
		h.index.Put(p.Projection(h.clock.Now()))
	}
	return p
}

func (h *harness) initWithOTP(t *testing.T, phone string) string {
	t.Helper()
	ctx := context.Background()
	post, err := h.svc.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, h.svc.SendOtp(ctx, post.ID, phone))
	return post.ID
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func TestPostLifecycle_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	post, err := h.svc.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInit, post.Status)
	assert.NotEmpty(t, post.ID)

	require.NoError(t, h.svc.SendOtp(ctx, post.ID, " 9812345678 "))
	require.Len(t, h.sms.Sent, 1)
	assert.Equal(t, "9812345678", h.sms.Sent[0].Phone)
	assert.Contains(t, h.sms.Sent[0].Message, "4321")

	stored := h.store.Peek(post.ID)
	assert.Equal(t, testOTP, stored.OTP)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), *stored.OTPExpiresAt)
	assert.Equal(t, "9812345678", stored.ContactNumber)

	in := fakeReport()
	require.NoError(t, h.svc.Verify(ctx, post.ID, testOTP, in))
	stored = h.store.Peek(post.ID)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, in.Title, stored.Title)
	assert.False(t, stored.HasOTP())
	assert.Nil(t, h.index.Doc(post.ID), "pending posts are not searchable")

	require.NoError(t, h.svc.Approve(ctx, post.ID))
	assert.Equal(t, models.StatusApproved, h.store.Peek(post.ID).Status)
	require.NotNil(t, h.index.Doc(post.ID))
	assert.Equal(t, models.StatusApproved, h.index.Doc(post.ID).Status)

	require.NoError(t, h.svc.Settle(ctx, post.ID))
	assert.Equal(t, models.StatusSettled, h.store.Peek(post.ID).Status)
	assert.Equal(t, models.StatusSettled, h.index.Doc(post.ID).Status)

	assert.Equal(t, int64(1), h.counters.Value(models.CounterPosts))
	assert.Equal(t, int64(1), h.counters.Value(models.CounterApproved))
	assert.Equal(t, int64(1), h.counters.Value(models.CounterSettled))
}

func TestSendOtp_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed("pending", models.StatusPending)
	h.seed("init", models.StatusInit)

	assertCode(t, h.svc.SendOtp(ctx, "missing", "980"), models.CodePostNotFound)
	assertCode(t, h.svc.SendOtp(ctx, "pending", "980"), models.CodePostInvalidState)
	assertCode(t, h.svc.SendOtp(ctx, "init", "  "), models.CodeValidation)
	assert.Empty(t, h.sms.Sent)
}

func TestSendOtp_DeliveryFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name string
		sms  *testutil.SMSFake
	}{
		{"gateway refused", &testutil.SMSFake{Refuse: true}},
		{"gateway unreachable", &testutil.SMSFake{Err: errTransient}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.svc.sms = tt.sms
			h.seed("p1", models.StatusInit)

			err := h.svc.SendOtp(context.Background(), "p1", "9812345678")
			assertCode(t, err, models.CodeSMSDeliveryFailed)

			stored := h.store.Peek("p1")
			assert.False(t, stored.HasOTP())
			assert.Empty(t, stored.ContactNumber)
			assert.Zero(t, h.store.Updates)
		})
	}
}

func TestVerify_ErrorPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("validation comes first", func(t *testing.T) {
		h := newHarness(t)
		in := fakeReport()
		in.Title = ""
		in.Amount = 0
		err := h.svc.Verify(ctx, "missing", testOTP, in)
		assertCode(t, err, models.CodeValidation)
		assert.Contains(t, err.Error(), "title is required")
		assert.Contains(t, err.Error(), "amount must be greater than 0")
	})

	t.Run("description is capped", func(t *testing.T) {
		h := newHarness(t)
		in := fakeReport()
		in.Description = strings.Repeat("x", 501)
		assertCode(t, h.svc.Verify(ctx, "missing", testOTP, in), models.CodeValidation)
	})

	t.Run("not found", func(t *testing.T) {
		h := newHarness(t)
		assertCode(t, h.svc.Verify(ctx, "missing", testOTP, fakeReport()), models.CodePostNotFound)
	})

	t.Run("not in Init", func(t *testing.T) {
		h := newHarness(t)
		h.seed("p1", models.StatusPending)
		assertCode(t, h.svc.Verify(ctx, "p1", testOTP, fakeReport()), models.CodePostInvalidState)
	})

	t.Run("no otp issued counts as expired", func(t *testing.T) {
		h := newHarness(t)
		h.seed("p1", models.StatusInit)
		assertCode(t, h.svc.Verify(ctx, "p1", testOTP, fakeReport()), models.CodeOTPExpired)
	})

	t.Run("expiry wins over a wrong code", func(t *testing.T) {
		h := newHarness(t)
		id := h.initWithOTP(t, "9812345678")
		h.clock.Advance(11 * time.Minute)
		assertCode(t, h.svc.Verify(ctx, id, 1111, fakeReport()), models.CodeOTPExpired)
		assertCode(t, h.svc.Verify(ctx, id, testOTP, fakeReport()), models.CodeOTPExpired)
	})

	t.Run("wrong code", func(t *testing.T) {
		h := newHarness(t)
		id := h.initWithOTP(t, "9812345678")
		h.clock.Advance(9 * time.Minute)
		assertCode(t, h.svc.Verify(ctx, id, 1111, fakeReport()), models.CodeOTPInvalid)
		assert.Equal(t, models.StatusInit, h.store.Peek(id).Status)
	})

	t.Run("code matching only in the low 32 bits", func(t *testing.T) {
		h := newHarness(t)
		id := h.initWithOTP(t, "9812345678")
		assertCode(t, h.svc.Verify(ctx, id, testOTP+1<<32, fakeReport()), models.CodeOTPInvalid)
		assertCode(t, h.svc.Verify(ctx, id, -testOTP, fakeReport()), models.CodeOTPInvalid)
		assert.Equal(t, models.StatusInit, h.store.Peek(id).Status)
		assert.Zero(t, h.counters.Value(models.CounterPosts))
	})
}

func TestVerify_DeduplicatesMobileNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.initWithOTP(t, "9812345678")

	in := fakeReport()
	in.MobileNumbers = []string{"9811111111", " 9811111111", "9822222222", "9811111111"}
	require.NoError(t, h.svc.Verify(ctx, id, testOTP, in))

	assert.Equal(t, []string{"9811111111", "9822222222"}, h.store.Peek(id).MobileNumbers)
}

func TestVerify_CooldownPerContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.initWithOTP(t, "9812345678")
	second := h.initWithOTP(t, "9812345678")
	other := h.initWithOTP(t, "9811111111")

	require.NoError(t, h.svc.Verify(ctx, first, testOTP, fakeReport()))
	assertCode(t, h.svc.Verify(ctx, second, testOTP, fakeReport()), models.CodeVerifyRateLimited)
	assert.Equal(t, models.StatusInit, h.store.Peek(second).Status)
	require.NoError(t, h.svc.Verify(ctx, other, testOTP, fakeReport()))

	h.limiter.Reset()
	require.NoError(t, h.svc.Verify(ctx, second, testOTP, fakeReport()))
	assert.Equal(t, int64(3), h.counters.Value(models.CounterPosts))
}

func TestVerify_LimiterUnavailable(t *testing.T) {
	h := newHarness(t)
	id := h.initWithOTP(t, "9812345678")
	h.limiter.Err = errors.New("redis down")

	err := h.svc.Verify(context.Background(), id, testOTP, fakeReport())
	assertCode(t, err, models.CodeServiceUnavailable)
	assert.Equal(t, models.StatusInit, h.store.Peek(id).Status)
}

func TestVerify_ReleasesCooldownWhenWriteFails(t *testing.T) {
	h := newHarness(t)
	id := h.initWithOTP(t, "9812345678")
	h.store.UpdateErr = errTransient

	err := h.svc.Verify(context.Background(), id, testOTP, fakeReport())
	assertCode(t, err, models.CodeInternal)
	assert.Equal(t, []string{"9812345678"}, h.limiter.Released)
	assert.Zero(t, h.counters.Value(models.CounterPosts))

	h.store.UpdateErr = nil
	require.NoError(t, h.svc.Verify(context.Background(), id, testOTP, fakeReport()))
}

func TestTransitions_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, s := range []models.Status{models.StatusInit, models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusSettled} {
		h.seed(string(s), s)
	}

	tests := []struct {
		name string
		op   func(context.Context, string) error
		id   models.Status
		code string
	}{
		{"approve init", h.svc.Approve, models.StatusInit, models.CodePostInvalidState},
		{"approve rejected", h.svc.Approve, models.StatusRejected, models.CodePostInvalidState},
		{"approve approved", h.svc.Approve, models.StatusApproved, models.CodePostAlreadyApproved},
		{"approve settled", h.svc.Approve, models.StatusSettled, models.CodePostAlreadyApproved},
		{"reject init", h.svc.Reject, models.StatusInit, models.CodePostInvalidState},
		{"reject rejected", h.svc.Reject, models.StatusRejected, models.CodePostInvalidState},
		{"reject approved", h.svc.Reject, models.StatusApproved, models.CodePostAlreadyApproved},
		{"reject settled", h.svc.Reject, models.StatusSettled, models.CodePostAlreadyApproved},
		{"settle init", h.svc.Settle, models.StatusInit, models.CodePostNotApproved},
		{"settle pending", h.svc.Settle, models.StatusPending, models.CodePostNotApproved},
		{"settle rejected", h.svc.Settle, models.StatusRejected, models.CodePostNotApproved},
		{"settle settled", h.svc.Settle, models.StatusSettled, models.CodePostAlreadySettled},
		{"delete approved", h.svc.Delete, models.StatusApproved, models.CodePostAlreadyApproved},
		{"delete settled", h.svc.Delete, models.StatusSettled, models.CodePostAlreadyApproved},
		{"approve missing", h.svc.Approve, "missing", models.CodePostNotFound},
		{"reject missing", h.svc.Reject, "missing", models.CodePostNotFound},
		{"settle missing", h.svc.Settle, "missing", models.CodePostNotFound},
		{"delete missing", h.svc.Delete, "missing", models.CodePostNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(ctx, string(tt.id))
			assertCode(t, err, tt.code)
		})
	}

	for _, s := range []models.Status{models.StatusInit, models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusSettled} {
		assert.Equal(t, s, h.store.Peek(string(s)).Status, "status of %s must be unchanged", s)
	}
	assert.Zero(t, h.store.Updates)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)

	require.NoError(t, h.svc.Reject(context.Background(), "p1"))
	assert.Equal(t, models.StatusRejected, h.store.Peek("p1").Status)
	assert.Zero(t, h.index.UpsertCalls)
}

func TestApprove_RetriesTransientIndexErrors(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.index.UpsertErrs = []error{errTransient, errTransient}

	require.NoError(t, h.svc.Approve(context.Background(), "p1"))
	assert.Equal(t, 3, h.index.UpsertCalls)
	assert.Equal(t, models.StatusApproved, h.store.Peek("p1").Status)
}

func TestApprove_IndexUnavailableLeavesPrimaryUntouched(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.index.UpsertErrs = []error{errTransient, errTransient, errTransient}

	err := h.svc.Approve(context.Background(), "p1")
	assertCode(t, err, models.CodeIndexUnavailable)
	assert.Equal(t, 3, h.index.UpsertCalls)
	assert.Equal(t, models.StatusPending, h.store.Peek("p1").Status)
	assert.Zero(t, h.store.Updates)
	assert.Zero(t, h.counters.Value(models.CounterApproved))
}

func TestApprove_PermanentIndexErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.index.UpsertErrs = []error{retry.Permanent(errors.New("invalid input syntax"))}

	err := h.svc.Approve(context.Background(), "p1")
	assertCode(t, err, models.CodeInternal)
	assert.Equal(t, 1, h.index.UpsertCalls)
	assert.Equal(t, models.StatusPending, h.store.Peek("p1").Status)
}

func TestApprove_CompensatesWhenPrimaryWriteFails(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.store.UpdateErr = errTransient

	err := h.svc.Approve(context.Background(), "p1")
	assertCode(t, err, models.CodeInternal)
	assert.Nil(t, h.index.Doc("p1"), "fresh document must be removed")
	assert.Equal(t, models.StatusPending, h.store.Peek("p1").Status)
	assert.Zero(t, h.counters.Value(models.CounterApproved))
}

func TestApprove_VersionConflict(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.store.UpdateErr = repository.ErrVersionConflict

	assertCode(t, h.svc.Approve(context.Background(), "p1"), models.CodePostConcurrentUpdate)
	assert.Nil(t, h.index.Doc("p1"))
}

func TestApprove_CompensationFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.store.UpdateErr = repository.ErrVersionConflict
	h.index.DeleteErr = errTransient

	assertCode(t, h.svc.Approve(context.Background(), "p1"), models.CodePostConcurrentUpdate)
	assert.Equal(t, 3, h.index.DeleteCalls)
	assert.NotNil(t, h.index.Doc("p1"), "drift is left for EnsureIndexed")
}

func TestSettle_CompensationRestoresPreviousProjection(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusApproved)
	h.store.UpdateErr = errTransient

	assertCode(t, h.svc.Settle(context.Background(), "p1"), models.CodeInternal)
	doc := h.index.Doc("p1")
	require.NotNil(t, doc)
	assert.Equal(t, models.StatusApproved, doc.Status)
	assert.Equal(t, models.StatusApproved, h.store.Peek("p1").Status)
	assert.Zero(t, h.counters.Value(models.CounterSettled))
}

func TestCounterFailureDoesNotFailTransition(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.counters.IncrementErr = errTransient

	require.NoError(t, h.svc.Approve(context.Background(), "p1"))
	assert.Equal(t, models.StatusApproved, h.store.Peek("p1").Status)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes images then record", func(t *testing.T) {
		h := newHarness(t)
		p := h.seed("p1", models.StatusPending)
		p.ImageURLs = []string{"https://cdn.test/p1/a.jpg", "https://cdn.test/p1/b.jpg"}
		h.store.Put(p)

		require.NoError(t, h.svc.Delete(ctx, "p1"))
		assert.Nil(t, h.store.Peek("p1"))
		require.Len(t, h.images.Deleted, 1)
		assert.Equal(t, p.ImageURLs, h.images.Deleted[0])
	})

	t.Run("image failure keeps the record", func(t *testing.T) {
		h := newHarness(t)
		p := h.seed("p1", models.StatusRejected)
		p.ImageURLs = []string{"https://cdn.test/p1/a.jpg"}
		h.store.Put(p)
		h.images.DeleteErrs = []error{errTransient}

		assertCode(t, h.svc.Delete(ctx, "p1"), models.CodeImageDeleteFailed)
		assert.NotNil(t, h.store.Peek("p1"))
	})

	t.Run("post without images", func(t *testing.T) {
		h := newHarness(t)
		h.seed("p1", models.StatusInit)
		require.NoError(t, h.svc.Delete(ctx, "p1"))
		assert.Empty(t, h.images.Deleted)
		assert.Zero(t, h.store.Len())
	})

	t.Run("approval landing first keeps the record", func(t *testing.T) {
		h := newHarness(t)
		p := h.seed("p1", models.StatusPending)
		h.store.BeforeDelete = func(id string) {
			approved := p.Clone()
			approved.Status = models.StatusApproved
			approved.Version++
			h.store.Put(approved)
		}

		assertCode(t, h.svc.Delete(ctx, "p1"), models.CodePostConcurrentUpdate)
		require.NotNil(t, h.store.Peek("p1"))
		assert.Equal(t, models.StatusApproved, h.store.Peek("p1").Status)
	})
}

func TestEnsureIndexed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed("approved", models.StatusApproved)
	h.seed("pending", models.StatusPending)
	settled := h.seed("settled", models.StatusSettled)

	written, err := h.svc.EnsureIndexed(ctx, "approved")
	require.NoError(t, err)
	assert.False(t, written, "existing document is left alone")
	assert.Zero(t, h.index.UpsertCalls)

	require.NoError(t, h.index.Delete(ctx, "approved"))
	written, err = h.svc.EnsureIndexed(ctx, "approved")
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, models.StatusApproved, h.index.Doc("approved").Status)

	written, err = h.svc.EnsureIndexed(ctx, "approved")
	require.NoError(t, err)
	assert.False(t, written, "second call is a no-op")

	stale := settled.Projection(h.clock.Now())
	stale.Status = models.StatusApproved
	h.index.Put(stale)
	written, err = h.svc.EnsureIndexed(ctx, "settled")
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, models.StatusSettled, h.index.Doc("settled").Status)

	_, err = h.svc.EnsureIndexed(ctx, "pending")
	assertCode(t, err, models.CodePostNotApproved)
	_, err = h.svc.EnsureIndexed(ctx, "missing")
	assertCode(t, err, models.CodePostNotFound)

	h.index.GetErr = errTransient
	_, err = h.svc.EnsureIndexed(ctx, "approved")
	assertCode(t, err, models.CodeIndexUnavailable)
}

func TestUploadImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed("init", models.StatusInit)
	h.seed("approved", models.StatusApproved)

	files := []media.Upload{
		{Filename: "receipt.jpg", ContentType: "image/jpeg", Body: strings.NewReader("a")},
		{Filename: "chat.png", ContentType: "image/png", Body: strings.NewReader("b")},
	}
	urls, err := h.svc.UploadImages(ctx, "init", files)
	require.NoError(t, err)
	assert.Len(t, urls, 2)
	assert.Equal(t, urls, h.store.Peek("init").ImageURLs)

	_, err = h.svc.UploadImages(ctx, "approved", files)
	assertCode(t, err, models.CodePostInvalidState)

	_, err = h.svc.UploadImages(ctx, "init", nil)
	assertCode(t, err, models.CodeValidation)

	many := make([]media.Upload, 9)
	_, err = h.svc.UploadImages(ctx, "init", many)
	assertCode(t, err, models.CodeValidation)

	h.images.UploadErr = media.ErrUnsupportedType
	_, err = h.svc.UploadImages(ctx, "init", files[:1])
	assertCode(t, err, models.CodeValidation)
}

func TestUploadImages_RemovesUploadsWhenWriteFails(t *testing.T) {
	h := newHarness(t)
	h.seed("p1", models.StatusPending)
	h.store.UpdateErr = errTransient

	_, err := h.svc.UploadImages(context.Background(), "p1", []media.Upload{
		{Filename: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("a")},
	})
	assertCode(t, err, models.CodeInternal)
	require.Len(t, h.images.Deleted, 1)
	assert.Equal(t, h.images.Uploaded, h.images.Deleted[0])
}
