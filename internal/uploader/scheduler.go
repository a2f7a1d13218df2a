package uploader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
	"github.com/maltedev/catalog-sync/internal/retry"
)

// Uploader is what the scheduler drives per product; satisfied by
// *Orchestrator.
type Uploader interface {
	Upload(ctx context.Context, rec *models.ProductRecord) (models.UploadOutcome, error)
}

// IdentityRotator swaps the outgoing client identity between retries after a
// defense-heuristic block; satisfied by *api.Session.
type IdentityRotator interface {
	RotateIdentity() string
}

// OutcomeRecorder persists per-product results; satisfied by
// *database.Repository.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec *models.ProductRecord, outcome *models.UploadOutcome) error
}

// KnownRefs tracks references that already made it to the remote API;
// satisfied by the refstore implementations.
type KnownRefs interface {
	IsKnown(ctx context.Context, reference string) (bool, error)
	MarkUploaded(ctx context.Context, reference string) error
}

type Options struct {
	BatchSize         int
	MaxAttempts       int
	RetryBase         time.Duration
	RetryMax          time.Duration
	RetryJitter       time.Duration
	RateLimitCooldown time.Duration
	ProductDelayMin   time.Duration
	ProductDelayMax   time.Duration
	BatchDelayMin     time.Duration
	BatchDelayMax     time.Duration
	SkipKnown         bool
}

func DefaultOptions() *Options {
	return &Options{
		// Two products per batch, strictly sequential: concurrency is what
		// trips the remote server's intrusion detection.
		BatchSize:         2,
		MaxAttempts:       3,
		RetryBase:         2 * time.Second,
		RetryMax:          60 * time.Second,
		RetryJitter:       time.Second,
		RateLimitCooldown: 30 * time.Second,
		ProductDelayMin:   time.Second,
		ProductDelayMax:   3 * time.Second,
		BatchDelayMin:     3 * time.Second,
		BatchDelayMax:     7 * time.Second,
	}
}

// Scheduler sequences products through the orchestrator with randomized
// pacing, a uniform retry policy, and continue-on-error semantics.
type Scheduler struct {
	uploader    Uploader
	session     IdentityRotator
	opts        *Options
	productPace ratelimit.Pacer
	batchPace   ratelimit.Pacer
	sleep       func(ctx context.Context, d time.Duration) error
	refs        KnownRefs
	recorder    OutcomeRecorder
	logger      *slog.Logger
}

func NewScheduler(uploader Uploader, session IdentityRotator, opts *Options) *Scheduler {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}

	return &Scheduler{
		uploader:    uploader,
		session:     session,
		opts:        opts,
		productPace: ratelimit.NewJitterPacer(opts.ProductDelayMin, opts.ProductDelayMax),
		batchPace:   ratelimit.NewJitterPacer(opts.BatchDelayMin, opts.BatchDelayMax),
		logger:      slog.Default().With("component", "scheduler"),
	}
}

// UseKnownRefs enables skipping of references already uploaded in earlier
// runs.
func (s *Scheduler) UseKnownRefs(refs KnownRefs) { s.refs = refs }

// UseRecorder persists every outcome as it is produced.
func (s *Scheduler) UseRecorder(r OutcomeRecorder) { s.recorder = r }

// RunAll pushes every product through the pipeline and never aborts the run
// on a single product's failure.
func (s *Scheduler) RunAll(ctx context.Context, products []*models.ProductRecord) models.BatchSummary {
	summary := models.BatchSummary{
		Total:     len(products),
		StartedAt: time.Now(),
	}

	batches := lo.Chunk(products, s.opts.BatchSize)
	s.logger.Info("upload run starting", "products", len(products),
		"batches", len(batches), "batch_size", s.opts.BatchSize)

	for bi, batch := range batches {
		for pi, rec := range batch {
			if ctx.Err() != nil {
				s.logger.Warn("run cancelled", "done", len(summary.Details), "total", summary.Total)
				summary.FinishedAt = time.Now()
				return summary
			}

			outcome := s.runOne(ctx, rec)
			summary.Record(outcome)
			s.persist(ctx, rec, &outcome)

			s.logger.Info("product finished", "reference", rec.Reference,
				"status", outcome.Status, "attempts", outcome.Attempts)

			if pi < len(batch)-1 {
				if err := s.productPace.Wait(ctx); err != nil {
					summary.FinishedAt = time.Now()
					return summary
				}
			}
		}

		if bi < len(batches)-1 {
			s.logger.Debug("batch done, pausing", "batch", bi+1, "of", len(batches))
			if err := s.batchPace.Wait(ctx); err != nil {
				summary.FinishedAt = time.Now()
				return summary
			}
		}
	}

	summary.FinishedAt = time.Now()
	s.logger.Info("upload run finished", "total", summary.Total,
		"success", summary.Success, "errors", summary.Errors, "skipped", summary.Skipped)
	return summary
}

func (s *Scheduler) runOne(ctx context.Context, rec *models.ProductRecord) models.UploadOutcome {
	if s.opts.SkipKnown && s.refs != nil {
		known, err := s.refs.IsKnown(ctx, rec.Reference)
		if err != nil {
			s.logger.Warn("known-reference lookup failed", "reference", rec.Reference, "error", err)
		} else if known {
			return models.UploadOutcome{
				Reference:  rec.Reference,
				Name:       rec.Name,
				Status:     models.StatusSkipped,
				Reason:     models.ReasonAlreadySynced,
				StartedAt:  time.Now(),
				FinishedAt: time.Now(),
			}
		}
	}

	policy := &retry.Policy{
		MaxAttempts: s.opts.MaxAttempts,
		Classify:    s.classify,
		Sleep:       s.sleep,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			s.logger.Warn("retrying product", "reference", rec.Reference,
				"attempt", attempt, "delay", delay, "error", err)
		},
	}

	var outcome models.UploadOutcome
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		var uploadErr error
		outcome, uploadErr = s.uploader.Upload(ctx, rec)
		return uploadErr
	})

	if err != nil {
		var exhausted *retry.ExhaustedError
		outcome = models.UploadOutcome{
			Reference:        rec.Reference,
			Name:             rec.Name,
			Status:           models.StatusFailed,
			Err:              err.Error(),
			RetriesExhausted: errors.As(err, &exhausted),
			StartedAt:        outcome.StartedAt,
			FinishedAt:       time.Now(),
		}
	}
	outcome.Attempts = attempts

	return outcome
}

// classify implements the failure taxonomy: blocks retry with exponential
// backoff and a rotated identity, rate limits wait out a fixed cooldown,
// server failures back off exponentially, everything else is terminal.
func (s *Scheduler) classify(err error, attempt int) retry.Decision {
	switch {
	case api.IsBlocked(err):
		identity := s.session.RotateIdentity()
		s.logger.Warn("defense block, rotating identity", "identity", identity)
		return retry.After(retry.Backoff(s.opts.RetryBase, s.opts.RetryMax, s.opts.RetryJitter, attempt))

	case api.IsRateLimited(err):
		return retry.After(s.opts.RateLimitCooldown)

	case api.IsValidation(err) || api.IsConflict(err):
		return retry.FailFast()

	case api.IsTransient(err):
		return retry.After(retry.Backoff(s.opts.RetryBase, s.opts.RetryMax, s.opts.RetryJitter, attempt))

	default:
		return retry.FailFast()
	}
}

func (s *Scheduler) persist(ctx context.Context, rec *models.ProductRecord, outcome *models.UploadOutcome) {
	if s.recorder != nil {
		if err := s.recorder.RecordOutcome(ctx, rec, outcome); err != nil {
			s.logger.Warn("failed to record outcome", "reference", rec.Reference, "error", err)
		}
	}

	if s.refs != nil && outcome.Succeeded() {
		if err := s.refs.MarkUploaded(ctx, rec.Reference); err != nil {
			s.logger.Warn("failed to mark reference uploaded", "reference", rec.Reference, "error", err)
		}
	}
}
