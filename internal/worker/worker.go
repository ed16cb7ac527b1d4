// Package worker implements the capture pipeline execution loop.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
	"github.com/kawishanedirisinghe/Remote-browser/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix  string
	Topic       string
	MaxAttempts int
}

const (
	baseRetryDelay = 250 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Worker consumes queue items and executes the capture pipeline.
type Worker struct {
	queue     capture.Queue
	jobStore  capture.JobStore
	blobStore capture.BlobStore
	sink      capture.ArtifactSink
	publisher capture.Publisher
	hasher    capture.Hasher
	clock     capture.Clock
	idGen     capture.IDGenerator
	renderer  capture.Renderer
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The sink is optional.
func New(
	queue capture.Queue,
	jobStore capture.JobStore,
	blobStore capture.BlobStore,
	sink capture.ArtifactSink,
	publisher capture.Publisher,
	hasher capture.Hasher,
	clock capture.Clock,
	idGen capture.IDGenerator,
	renderer capture.Renderer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	telemetry.Init()
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		sink:      sink,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		idGen:     idGen,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item capture.QueueItem) {
	if w.renderer == nil {
		w.logger.Error("no renderer configured", zap.String("job_id", item.JobID))
		if err := w.jobStore.UpdateJobStatus(
			ctx,
			item.JobID,
			capture.JobStatusFailed,
			"no renderer configured",
			capture.JobCounters{},
		); err != nil {
			w.logger.Error("fail job status update", zap.String("job_id", item.JobID), zap.Error(err))
		}
		return
	}
	counters := capture.JobCounters{}
	errText := ""

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, capture.JobStatusRunning, errText, counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	for _, url := range item.Params.URLs {
		for _, kind := range item.Params.Kinds {
			if err := w.handleCapture(ctx, item, url, kind, &counters); err != nil {
				errText = err.Error()
			}
		}
	}

	status, errText := w.deriveFinalStatus(ctx, counters, errText)
	if status == capture.JobStatusFailed && item.Attempt < w.cfg.MaxAttempts {
		if w.requeue(ctx, item) {
			return
		}
	}
	telemetry.ObserveJob(string(status))

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

// requeue puts a failed job back on the queue with an incremented attempt
// counter after a capped exponential backoff. It reports whether the job was
// handed off, in which case the final status update is deferred to the next
// attempt.
func (w *Worker) requeue(ctx context.Context, item capture.QueueItem) bool {
	select {
	case <-time.After(retryBackoff(item.Attempt)):
	case <-ctx.Done():
		return false
	}

	next := item
	next.Attempt++
	if err := w.queue.Enqueue(ctx, next); err != nil {
		w.logger.Error("job requeue failed",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", next.Attempt),
			zap.Error(err),
		)
		return false
	}
	if err := w.jobStore.UpdateJobStatus(
		ctx,
		item.JobID,
		capture.JobStatusQueued,
		"",
		capture.JobCounters{},
	); err != nil {
		w.logger.Error("requeue status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	w.logger.Info("job requeued",
		zap.String("job_id", item.JobID),
		zap.Int("attempt", next.Attempt),
	)
	return true
}

func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRetryDelay << (attempt - 1)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (w *Worker) handleCapture(
	ctx context.Context,
	item capture.QueueItem,
	url string,
	kind capture.Kind,
	counters *capture.JobCounters,
) error {
	telemetry.IncActiveSessions()
	defer telemetry.DecActiveSessions()

	result, err := w.render(ctx, item, url, kind)
	if err != nil {
		counters.ArtifactsFailed++
		telemetry.ObserveCapture(string(kind), "error", 0)
		w.logger.Error("capture failed",
			zap.String("job_id", item.JobID),
			zap.String("url", url),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return err
	}
	telemetry.ObserveCapture(string(kind), "success", result.Duration)

	if err := w.persistAndPublish(ctx, item.JobID, url, kind, result); err != nil {
		counters.ArtifactsFailed++
		w.logger.Error("persist artifact failed",
			zap.String("job_id", item.JobID),
			zap.String("url", url),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return err
	}

	counters.ArtifactsSucceeded++
	w.logger.Debug("artifact captured",
		zap.String("job_id", item.JobID),
		zap.String("url", url),
		zap.String("kind", string(kind)),
	)
	return nil
}

func (w *Worker) render(
	ctx context.Context,
	item capture.QueueItem,
	url string,
	kind capture.Kind,
) (capture.RenderResult, error) {
	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := capture.RenderRequest{
		URL:      url,
		FullPage: item.Params.FullPage,
	}
	switch kind {
	case capture.KindScreenshot:
		return w.renderer.Screenshot(captureCtx, req)
	case capture.KindHTML:
		return w.renderer.HTML(captureCtx, req)
	case capture.KindPDF:
		return w.renderer.PDF(captureCtx, req)
	default:
		return capture.RenderResult{}, fmt.Errorf("unsupported artifact kind %q", kind)
	}
}

func (w *Worker) buildBlobPath(jobID, hash string, kind capture.Kind) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.%s", jobID, hash, kind.Extension())
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, jobID, hash, kind.Extension())
}

func (w *Worker) persistAndPublish(
	ctx context.Context,
	jobID string,
	url string,
	kind capture.Kind,
	result capture.RenderResult,
) error {
	hash, err := w.hasher.Hash(result.Body)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}

	blobPath := w.buildBlobPath(jobID, hash, kind)
	uri, err := w.blobStore.PutObject(ctx, blobPath, kind.ContentType(), result.Body)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	artifactID, err := w.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate artifact id: %w", err)
	}
	artifact := capture.ArtifactRecord{
		ID:          artifactID,
		JobID:       jobID,
		URL:         result.FinalURL,
		Kind:        kind,
		StatusCode:  result.StatusCode,
		CapturedAt:  w.clock.Now(),
		DurationMs:  result.Duration.Milliseconds(),
		ContentHash: hash,
		ContentType: kind.ContentType(),
		Headers:     result.Headers,
		BlobURI:     uri,
	}
	if err := w.jobStore.RecordArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	if w.sink != nil {
		if err := w.sink.RecordArtifact(ctx, artifact); err != nil {
			return fmt.Errorf("archive artifact: %w", err)
		}
	}

	return w.publishResult(ctx, jobID, url, kind, uri, hash, result)
}

func (w *Worker) publishResult(
	ctx context.Context,
	jobID string,
	url string,
	kind capture.Kind,
	uri string,
	hash string,
	result capture.RenderResult,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":    jobID,
		"url":       url,
		"kind":      string(kind),
		"blob_uri":  uri,
		"hash":      hash,
		"timestamp": w.clock.Now().Format(time.RFC3339),
		"status":    result.StatusCode,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("artifact published",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.String("blob_uri", uri),
		zap.String("hash", hash),
	)
	return nil
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	counters capture.JobCounters,
	errText string,
) (capture.JobStatus, string) {
	if counters.ArtifactsSucceeded == 0 && errText == "" {
		errText = "no artifacts were captured"
	}

	switch {
	case ctx.Err() != nil:
		return capture.JobStatusCanceled, errText
	case counters.ArtifactsSucceeded == 0:
		return capture.JobStatusFailed, errText
	default:
		return capture.JobStatusSucceeded, errText
	}
}
