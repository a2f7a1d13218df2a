package api

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/samber/lo"

	"github.com/maltedev/catalog-sync/internal/models"
)

// DeferredResult accounts for every image handed to the processor:
// Processed + Errors == Total.
type DeferredResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

type DeferredOptions struct {
	BatchSize     int
	DelayBase     time.Duration
	DelayJitter   time.Duration
	BlockedBase   time.Duration
	BlockedJitter time.Duration
}

func DefaultDeferredOptions() *DeferredOptions {
	return &DeferredOptions{
		BatchSize:     3,
		DelayBase:     2 * time.Second,
		DelayJitter:   3 * time.Second,
		BlockedBase:   5 * time.Second,
		BlockedJitter: 10 * time.Second,
	}
}

// DeferredProcessor ships the images that exceeded the initial request
// budget, in small delayed batches so the follow-up traffic stays under the
// server's defense-heuristic threshold.
type DeferredProcessor struct {
	client *Client
	opts   *DeferredOptions
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func NewDeferredProcessor(client *Client, opts *DeferredOptions) *DeferredProcessor {
	if opts == nil {
		opts = DefaultDeferredOptions()
	}
	return &DeferredProcessor{
		client: client,
		opts:   opts,
		sleep:  sleepCtx,
		logger: slog.Default().With("component", "deferred_images"),
	}
}

// ProcessRemaining sends images in batches of batchSize (processor default
// when <= 0). Batches are independent: a failed batch counts its images as
// errors and the next batch still runs. A blocked answer (406) earns an
// extended pause before continuing.
func (p *DeferredProcessor) ProcessRemaining(ctx context.Context, remoteID int64, reference string, images []string, batchSize int) DeferredResult {
	if batchSize <= 0 {
		batchSize = p.opts.BatchSize
	}

	result := DeferredResult{Total: len(images)}
	if len(images) == 0 {
		return result
	}

	batches := lo.Chunk(images, batchSize)
	p.logger.Info("processing deferred images", "reference", reference,
		"remote_id", remoteID, "total", len(images), "batches", len(batches))

	for i, batch := range batches {
		sent, errs := p.sendBatch(ctx, remoteID, reference, i, batch)
		result.Processed += sent
		result.Errors += errs

		if i < len(batches)-1 {
			delay := p.opts.DelayBase + jitter(p.opts.DelayJitter)
			if err := p.sleep(ctx, delay); err != nil {
				result.Errors += result.Total - result.Processed - result.Errors
				return result
			}
		}
	}

	p.logger.Info("deferred images done", "reference", reference,
		"processed", result.Processed, "errors", result.Errors, "total", result.Total)
	return result
}

func (p *DeferredProcessor) sendBatch(ctx context.Context, remoteID int64, reference string, index int, batch []string) (sent, errs int) {
	staged := make([]*models.StagedImage, 0, len(batch))
	defer func() { p.client.stager.ReleaseAll(staged) }()

	failed := 0
	for j, imageURL := range batch {
		img, err := p.client.stager.Stage(ctx, imageURL, fmt.Sprintf("%s_lote%d_%d", reference, index, j))
		if err != nil {
			p.logger.Warn("deferred image staging failed", "reference", reference,
				"url", imageURL, "error", err)
			failed++
			continue
		}
		staged = append(staged, img)
	}

	if len(staged) == 0 {
		return 0, len(batch)
	}

	if err := p.client.UpdateImages(ctx, remoteID, staged); err != nil {
		p.logger.Warn("deferred batch rejected", "reference", reference,
			"batch", index+1, "error", err)

		if IsBlocked(err) {
			// Defense-heuristic block: back off well beyond the regular
			// inter-batch pause before trying the next batch.
			delay := p.opts.BlockedBase + jitter(p.opts.BlockedJitter)
			p.logger.Warn("server blocked deferred batch, extended pause",
				"reference", reference, "delay", delay)
			p.sleep(ctx, delay)
		}
		return 0, len(batch)
	}

	return len(staged), failed
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
