package uploader

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/models"
)

type fakeUploader struct {
	calls    []string
	failWith map[string][]error
	attempts map[string]int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{failWith: make(map[string][]error), attempts: make(map[string]int)}
}

// failTimes makes the first len(errs) attempts for reference fail in order,
// then succeed.
func (f *fakeUploader) failTimes(reference string, errs ...error) {
	f.failWith[reference] = errs
}

func (f *fakeUploader) Upload(ctx context.Context, rec *models.ProductRecord) (models.UploadOutcome, error) {
	f.calls = append(f.calls, rec.Reference)
	f.attempts[rec.Reference]++

	if errs := f.failWith[rec.Reference]; len(errs) > 0 {
		err := errs[0]
		f.failWith[rec.Reference] = errs[1:]
		return models.UploadOutcome{Reference: rec.Reference, StartedAt: time.Now()}, err
	}

	return models.UploadOutcome{
		Reference:  rec.Reference,
		Status:     models.StatusCreated,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}, nil
}

type fakeRotator struct {
	rotations int
}

func (f *fakeRotator) RotateIdentity() string {
	f.rotations++
	return "identity-rotated"
}

type countingPacer struct {
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error { p.waits++; return ctx.Err() }

func (p *countingPacer) SetDelay(min, max time.Duration) {}

type fakeRefs struct {
	known    map[string]bool
	uploaded []string
}

func (f *fakeRefs) IsKnown(ctx context.Context, reference string) (bool, error) {
	return f.known[reference], nil
}

func (f *fakeRefs) MarkUploaded(ctx context.Context, reference string) error {
	f.uploaded = append(f.uploaded, reference)
	return nil
}

func records(refs ...string) []*models.ProductRecord {
	out := make([]*models.ProductRecord, len(refs))
	for i, ref := range refs {
		out[i] = validRecord(ref, 1)
	}
	return out
}

// newTestScheduler wires a scheduler with zero-delay pacing and a sleep that
// records requested delays instead of waiting.
func newTestScheduler(fu *fakeUploader, rotator *fakeRotator, opts *Options) (*Scheduler, *countingPacer, *countingPacer, *[]time.Duration) {
	s := NewScheduler(fu, rotator, opts)
	productPace := &countingPacer{}
	batchPace := &countingPacer{}
	s.productPace = productPace
	s.batchPace = batchPace

	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, productPace, batchPace, &slept
}

func TestRunAllGroupsIntoBatches(t *testing.T) {
	tests := []struct {
		name        string
		refs        []string
		batchSize   int
		wantBatches int
	}{
		{"even split", []string{"A", "B", "C", "D"}, 2, 2},
		{"trailing partial batch", []string{"A", "B", "C", "D", "E"}, 2, 3},
		{"single batch", []string{"A", "B"}, 3, 1},
		{"single product", []string{"A"}, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fu := newFakeUploader()
			opts := DefaultOptions()
			opts.BatchSize = tt.batchSize
			s, productPace, batchPace, _ := newTestScheduler(fu, &fakeRotator{}, opts)

			summary := s.RunAll(context.Background(), records(tt.refs...))

			assert.Equal(t, len(tt.refs), summary.Total)
			assert.Equal(t, len(tt.refs), summary.Success)
			// A pause between batches runs after every batch but the last.
			assert.Equal(t, tt.wantBatches-1, batchPace.waits)
			// The in-batch pause runs between products, never after the
			// batch's last one.
			assert.Equal(t, len(tt.refs)-tt.wantBatches, productPace.waits)
		})
	}
}

func TestRunAllIsSequential(t *testing.T) {
	fu := newFakeUploader()
	opts := DefaultOptions()
	opts.BatchSize = 2
	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, opts)

	s.RunAll(context.Background(), records("A", "B", "C", "D", "E"))

	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, fu.calls)
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	fu := newFakeUploader()
	fu.failTimes("B", &api.Error{StatusCode: http.StatusBadRequest, Message: "preco invalido"})
	opts := DefaultOptions()
	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, opts)

	summary := s.RunAll(context.Background(), records("A", "B", "C"))

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, []string{"A", "B", "C"}, fu.calls)
}

func TestRunOneRetriesAfterBlock(t *testing.T) {
	fu := newFakeUploader()
	blocked := &api.Error{StatusCode: http.StatusNotAcceptable, Message: "Mod_Security"}
	fu.failTimes("A", blocked, blocked)

	rotator := &fakeRotator{}
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	opts.RetryJitter = 0
	s, _, _, slept := newTestScheduler(fu, rotator, opts)

	outcome := s.runOne(context.Background(), validRecord("A", 1))

	assert.Equal(t, models.StatusCreated, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)

	// Identity rotates on every blocked attempt.
	assert.Equal(t, 2, rotator.rotations)

	// Exponential backoff between attempts.
	require.Len(t, *slept, 2)
	assert.Equal(t, opts.RetryBase, (*slept)[0])
	assert.Equal(t, 2*opts.RetryBase, (*slept)[1])
}

func TestRunOneExhaustsRetries(t *testing.T) {
	fu := newFakeUploader()
	blocked := &api.Error{StatusCode: http.StatusNotAcceptable}
	fu.failTimes("A", blocked, blocked, blocked)

	opts := DefaultOptions()
	opts.MaxAttempts = 3
	opts.RetryJitter = 0
	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, opts)

	outcome := s.runOne(context.Background(), validRecord("A", 1))

	assert.Equal(t, models.StatusFailed, outcome.Status)
	assert.True(t, outcome.RetriesExhausted)
	assert.Equal(t, 3, outcome.Attempts)
}

func TestRunOneRateLimitUsesFixedCooldown(t *testing.T) {
	fu := newFakeUploader()
	fu.failTimes("A", &api.Error{StatusCode: http.StatusTooManyRequests})

	opts := DefaultOptions()
	opts.RateLimitCooldown = 30 * time.Second
	s, _, _, slept := newTestScheduler(fu, &fakeRotator{}, opts)

	outcome := s.runOne(context.Background(), validRecord("A", 1))

	assert.Equal(t, models.StatusCreated, outcome.Status)
	require.Len(t, *slept, 1)
	assert.Equal(t, 30*time.Second, (*slept)[0])
}

func TestRunOneTerminalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  *api.Error
	}{
		{"validation", &api.Error{StatusCode: http.StatusBadRequest}},
		{"unprocessable", &api.Error{StatusCode: http.StatusUnprocessableEntity}},
		{"conflict", &api.Error{StatusCode: http.StatusConflict}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fu := newFakeUploader()
			fu.failTimes("A", tt.err)
			s, _, _, slept := newTestScheduler(fu, &fakeRotator{}, DefaultOptions())

			outcome := s.runOne(context.Background(), validRecord("A", 1))

			assert.Equal(t, models.StatusFailed, outcome.Status)
			assert.False(t, outcome.RetriesExhausted)
			assert.Equal(t, 1, outcome.Attempts)
			assert.Equal(t, 1, fu.attempts["A"])
			assert.Empty(t, *slept)
		})
	}
}

func TestRunOneSkipsKnownReference(t *testing.T) {
	fu := newFakeUploader()
	opts := DefaultOptions()
	opts.SkipKnown = true
	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, opts)
	s.UseKnownRefs(&fakeRefs{known: map[string]bool{"A": true}})

	outcome := s.runOne(context.Background(), validRecord("A", 1))

	assert.Equal(t, models.StatusSkipped, outcome.Status)
	assert.Equal(t, models.ReasonAlreadySynced, outcome.Reason)
	assert.Empty(t, fu.calls)
}

func TestRunAllMarksSuccessfulReferences(t *testing.T) {
	fu := newFakeUploader()
	fu.failTimes("B", &api.Error{StatusCode: http.StatusBadRequest})
	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, DefaultOptions())

	refs := &fakeRefs{known: map[string]bool{}}
	s.UseKnownRefs(refs)

	s.RunAll(context.Background(), records("A", "B", "C"))

	assert.Equal(t, []string{"A", "C"}, refs.uploaded)
}

func TestRunAllStopsOnCancelledContext(t *testing.T) {
	fu := newFakeUploader()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _, _, _ := newTestScheduler(fu, &fakeRotator{}, DefaultOptions())
	summary := s.RunAll(ctx, records("A", "B", "C"))

	assert.Empty(t, fu.calls)
	assert.Equal(t, 3, summary.Total)
	assert.Empty(t, summary.Details)
}
