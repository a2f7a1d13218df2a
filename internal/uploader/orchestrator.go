package uploader

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/models"
)

// ProductAPI is the slice of the API client the orchestrator drives.
type ProductAPI interface {
	Exists(ctx context.Context, reference string) api.Existence
	CreateProduct(ctx context.Context, rec *models.ProductRecord) (*api.UploadResult, error)
	UpdateProduct(ctx context.Context, remoteID int64, rec *models.ProductRecord) (*api.UploadResult, error)
}

// ImageDeferrer ships the images that did not fit the initial request.
type ImageDeferrer interface {
	ProcessRemaining(ctx context.Context, remoteID int64, reference string, images []string, batchSize int) api.DeferredResult
}

// Orchestrator runs the create/update state machine for one product:
// validate, resolve existence, send, and hand oversized image sets to the
// deferred processor without blocking the caller.
type Orchestrator struct {
	api               ProductAPI
	deferrer          ImageDeferrer
	deferredBatchSize int
	logger            *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	deferred api.DeferredResult
}

func NewOrchestrator(productAPI ProductAPI, deferrer ImageDeferrer, deferredBatchSize int) *Orchestrator {
	return &Orchestrator{
		api:               productAPI,
		deferrer:          deferrer,
		deferredBatchSize: deferredBatchSize,
		logger:            slog.Default().With("component", "orchestrator"),
	}
}

// Upload pushes one product through the pipeline. Terminal conditions
// (validation failures, rejections, conflicts) come back encoded in the
// outcome with a nil error; a non-nil error means the attempt is worth
// retrying and the scheduler decides how.
func (o *Orchestrator) Upload(ctx context.Context, rec *models.ProductRecord) (models.UploadOutcome, error) {
	out := models.UploadOutcome{
		Reference: rec.Reference,
		Name:      rec.Name,
		StartedAt: time.Now(),
	}

	// Validation happens before any network call.
	if len(rec.Images) == 0 {
		out.Status = models.StatusSkipped
		out.Reason = models.ReasonNoImages
		return o.finish(out), nil
	}
	if missing := rec.Validate(); len(missing) > 0 {
		out.Status = models.StatusRejected
		out.Reason = models.ReasonInvalidFields
		out.Err = "missing required fields: " + strings.Join(missing, ", ")
		return o.finish(out), nil
	}

	existing := o.api.Exists(ctx, rec.Reference)

	var res *api.UploadResult
	var err error
	if existing.Found {
		o.logger.Info("product exists, updating", "reference", rec.Reference, "remote_id", existing.RemoteID)
		res, err = o.api.UpdateProduct(ctx, existing.RemoteID, rec)
	} else {
		o.logger.Info("product not found, creating", "reference", rec.Reference)
		res, err = o.api.CreateProduct(ctx, rec)
	}

	if err != nil {
		switch {
		case errors.Is(err, api.ErrNoValidImages):
			out.Status = models.StatusRejected
			out.Reason = models.ReasonNoValidImages
			out.Err = err.Error()
			return o.finish(out), nil

		case api.IsConflict(err):
			// The existence check said not-found moments ago; another
			// writer won the race.
			o.logger.Warn("create conflicted with an existing reference",
				"reference", rec.Reference, "error", err)
			out.Status = models.StatusRejected
			out.Reason = models.ReasonAlreadyExists
			out.Err = err.Error()
			return o.finish(out), nil

		case api.IsValidation(err):
			out.Status = models.StatusRejected
			out.Reason = models.ReasonInvalidFields
			out.Err = err.Error()
			return o.finish(out), nil

		default:
			// Blocked, rate limited, or transient: the scheduler's retry
			// policy classifies it.
			return o.finish(out), err
		}
	}

	out.RemoteID = res.RemoteID
	out.InitialImages = res.InitialImages
	out.RemainingImages = len(res.RemainingImages)
	if existing.Found {
		out.Status = models.StatusUpdated
	} else {
		out.Status = models.StatusCreated
	}

	if len(res.RemainingImages) > 0 && o.deferrer != nil {
		o.deferAsync(rec.Reference, res.RemoteID, res.RemainingImages)
	}

	return o.finish(out), nil
}

func (o *Orchestrator) finish(out models.UploadOutcome) models.UploadOutcome {
	out.FinishedAt = time.Now()
	return out
}

// deferAsync ships the remaining images out-of-band. The product outcome has
// already been decided, so image failures here only surface through the
// deferred counters and the log.
func (o *Orchestrator) deferAsync(reference string, remoteID int64, images []string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res := o.deferrer.ProcessRemaining(context.Background(), remoteID, reference, images, o.deferredBatchSize)

		o.mu.Lock()
		o.deferred.Processed += res.Processed
		o.deferred.Errors += res.Errors
		o.deferred.Total += res.Total
		o.mu.Unlock()
	}()
}

// WaitDeferred blocks until every in-flight deferred batch finishes and
// returns the accumulated counters for the run summary.
func (o *Orchestrator) WaitDeferred() api.DeferredResult {
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deferred
}
