package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
	queueMemory "github.com/kawishanedirisinghe/Remote-browser/internal/queue/memory"
)

func TestProcessJobRecordsArtifacts(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	blobs := &stubBlobStore{}
	pub := &stubPublisher{}
	renderer := &stubRenderer{
		result: capture.RenderResult{
			FinalURL:   "https://example.com/",
			StatusCode: 200,
			Body:       []byte("payload"),
			Duration:   120 * time.Millisecond,
		},
	}
	w := newTestWorker(store, blobs, nil, pub, renderer, Config{BlobPrefix: "captures", Topic: "events"})

	w.processJob(context.Background(), capture.QueueItem{
		JobID: "job-1",
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindScreenshot, capture.KindPDF},
		},
	})

	require.Equal(t, capture.JobStatusSucceeded, store.finalStatus)
	require.Equal(t, 2, store.finalCounters.ArtifactsSucceeded)
	require.Zero(t, store.finalCounters.ArtifactsFailed)

	require.Len(t, store.artifacts, 2)
	first := store.artifacts[0]
	require.Equal(t, "job-1", first.JobID)
	require.Equal(t, "https://example.com/", first.URL)
	require.Equal(t, capture.KindScreenshot, first.Kind)
	require.NotEmpty(t, first.ID)
	require.Equal(t, int64(120), first.DurationMs)

	wantHash := blobs.puts[0].path
	require.Contains(t, wantHash, "captures/job-1/")
	require.Contains(t, wantHash, first.ContentHash)
	require.Equal(t, "memory://"+wantHash, first.BlobURI)

	require.Len(t, pub.published, 2)
	require.Equal(t, "events", pub.published[0].topic)
	require.Equal(t, "job-1", pub.published[0].payload["job_id"])
}

func TestProcessJobAllRendersFail(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	renderer := &stubRenderer{err: errors.New("tab crashed")}
	w := newTestWorker(store, &stubBlobStore{}, nil, nil, renderer, Config{})

	w.processJob(context.Background(), capture.QueueItem{
		JobID: "job-2",
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindScreenshot},
		},
	})

	require.Equal(t, capture.JobStatusFailed, store.finalStatus)
	require.Equal(t, "tab crashed", store.finalError)
	require.Equal(t, 1, store.finalCounters.ArtifactsFailed)
	require.Empty(t, store.artifacts)
}

func TestProcessJobPartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	renderer := &stubRenderer{
		result:  capture.RenderResult{FinalURL: "https://example.com/", Body: []byte("ok")},
		failPDF: true,
	}
	w := newTestWorker(store, &stubBlobStore{}, nil, nil, renderer, Config{})

	w.processJob(context.Background(), capture.QueueItem{
		JobID: "job-3",
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindScreenshot, capture.KindPDF},
		},
	})

	require.Equal(t, capture.JobStatusSucceeded, store.finalStatus)
	require.Equal(t, 1, store.finalCounters.ArtifactsSucceeded)
	require.Equal(t, 1, store.finalCounters.ArtifactsFailed)
}

func TestProcessJobWithoutRendererFails(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	w := newTestWorker(store, &stubBlobStore{}, nil, nil, nil, Config{})

	w.processJob(context.Background(), capture.QueueItem{JobID: "job-4"})

	require.Equal(t, capture.JobStatusFailed, store.finalStatus)
	require.Equal(t, "no renderer configured", store.finalError)
}

func TestProcessJobInvokesSink(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	sink := &stubSink{}
	renderer := &stubRenderer{
		result: capture.RenderResult{FinalURL: "https://example.com/", Body: []byte("ok")},
	}
	w := newTestWorker(store, &stubBlobStore{}, sink, nil, renderer, Config{})

	w.processJob(context.Background(), capture.QueueItem{
		JobID: "job-5",
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindHTML},
		},
	})

	require.Len(t, sink.records, 1)
	require.Equal(t, "job-5", sink.records[0].JobID)
}

func TestProcessJobSinkErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	sink := &stubSink{err: errors.New("db down")}
	renderer := &stubRenderer{
		result: capture.RenderResult{FinalURL: "https://example.com/", Body: []byte("ok")},
	}
	w := newTestWorker(store, &stubBlobStore{}, sink, nil, renderer, Config{})

	w.processJob(context.Background(), capture.QueueItem{
		JobID: "job-6",
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindHTML},
		},
	})

	require.Equal(t, capture.JobStatusFailed, store.finalStatus)
	require.Equal(t, 1, store.finalCounters.ArtifactsFailed)
}

func TestProcessJobRequeuesFailedAttempt(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(2)
	store := newStubJobStore()
	renderer := &stubRenderer{err: errors.New("tab crashed")}
	w := newTestWorkerWithQueue(q, store, &stubBlobStore{}, nil, nil, renderer, Config{MaxAttempts: 2})

	w.processJob(context.Background(), capture.QueueItem{
		JobID:   "job-retry",
		Attempt: 1,
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindScreenshot},
		},
	})

	require.Equal(t, capture.JobStatusQueued, store.finalStatus)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-retry", item.JobID)
	require.Equal(t, 2, item.Attempt)
}

func TestProcessJobExhaustedAttemptsFail(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(2)
	store := newStubJobStore()
	renderer := &stubRenderer{err: errors.New("tab crashed")}
	w := newTestWorkerWithQueue(q, store, &stubBlobStore{}, nil, nil, renderer, Config{MaxAttempts: 2})

	w.processJob(context.Background(), capture.QueueItem{
		JobID:   "job-last",
		Attempt: 2,
		Params: capture.JobParameters{
			URLs:  []string{"https://example.com"},
			Kinds: []capture.Kind{capture.KindScreenshot},
		},
	})

	require.Equal(t, capture.JobStatusFailed, store.finalStatus)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err, "exhausted job must not be requeued")
}

func TestRetryBackoffCapped(t *testing.T) {
	t.Parallel()

	require.Equal(t, 250*time.Millisecond, retryBackoff(0))
	require.Equal(t, 250*time.Millisecond, retryBackoff(1))
	require.Equal(t, 500*time.Millisecond, retryBackoff(2))
	require.Equal(t, maxRetryDelay, retryBackoff(10))
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	w := newTestWorker(newStubJobStore(), &stubBlobStore{}, nil, nil, nil, Config{})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name     string
		ctx      context.Context
		counters capture.JobCounters
		errText  string
		want     capture.JobStatus
	}{
		{"all succeeded", context.Background(), capture.JobCounters{ArtifactsSucceeded: 2}, "", capture.JobStatusSucceeded},
		{"nothing captured", context.Background(), capture.JobCounters{}, "", capture.JobStatusFailed},
		{"failures only", context.Background(), capture.JobCounters{ArtifactsFailed: 3}, "boom", capture.JobStatusFailed},
		{"context canceled", canceled, capture.JobCounters{ArtifactsSucceeded: 1}, "", capture.JobStatusCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, errText := w.deriveFinalStatus(tc.ctx, tc.counters, tc.errText)
			require.Equal(t, tc.want, status)
			if tc.counters.ArtifactsSucceeded == 0 && tc.errText == "" {
				require.NotEmpty(t, errText)
			}
		})
	}
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := newTestWorker(newStubJobStore(), &stubBlobStore{}, nil, nil, nil, Config{BlobPrefix: "/captures/"})
	require.Equal(t, "captures/job/abc.png", w.buildBlobPath("job", "abc", capture.KindScreenshot))

	w = newTestWorker(newStubJobStore(), &stubBlobStore{}, nil, nil, nil, Config{})
	require.Equal(t, "job/abc.pdf", w.buildBlobPath("job", "abc", capture.KindPDF))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	w := newTestWorkerWithQueue(q, newStubJobStore(), &stubBlobStore{}, nil, nil, &stubRenderer{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

// --- stubs ---

type stubRenderer struct {
	result  capture.RenderResult
	err     error
	failPDF bool
}

func (r *stubRenderer) Screenshot(_ context.Context, _ capture.RenderRequest) (capture.RenderResult, error) {
	return r.result, r.err
}

func (r *stubRenderer) HTML(_ context.Context, _ capture.RenderRequest) (capture.RenderResult, error) {
	return r.result, r.err
}

func (r *stubRenderer) PDF(_ context.Context, _ capture.RenderRequest) (capture.RenderResult, error) {
	if r.failPDF {
		return capture.RenderResult{}, errors.New("print failed")
	}
	return r.result, r.err
}

func (r *stubRenderer) Evaluate(_ context.Context, _ capture.RenderRequest) (capture.RenderResult, error) {
	return r.result, r.err
}

type stubJobStore struct {
	mu            sync.Mutex
	statuses      []capture.JobStatus
	finalStatus   capture.JobStatus
	finalError    string
	finalCounters capture.JobCounters
	artifacts     []capture.ArtifactRecord
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{}
}

func (s *stubJobStore) CreateJob(_ context.Context, _ capture.Job) error { return nil }

func (s *stubJobStore) UpdateJobStatus(
	_ context.Context,
	_ string,
	status capture.JobStatus,
	errText string,
	counters capture.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.finalStatus = status
	s.finalError = errText
	s.finalCounters = counters
	return nil
}

func (s *stubJobStore) RecordArtifact(_ context.Context, artifact capture.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

func (s *stubJobStore) GetJob(_ context.Context, _ string) (capture.Job, error) {
	return capture.Job{}, errors.New("not implemented")
}

func (s *stubJobStore) ListArtifacts(_ context.Context, _ string) ([]capture.ArtifactRecord, error) {
	return nil, nil
}

type blobPut struct {
	path        string
	contentType string
}

type stubBlobStore struct {
	mu   sync.Mutex
	puts []blobPut
}

func (b *stubBlobStore) PutObject(_ context.Context, path, contentType string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts = append(b.puts, blobPut{path: path, contentType: contentType})
	return "memory://" + path, nil
}

type stubSink struct {
	mu      sync.Mutex
	records []capture.ArtifactRecord
	err     error
}

func (s *stubSink) RecordArtifact(_ context.Context, artifact capture.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, artifact)
	return nil
}

type publishedMessage struct {
	topic   string
	payload map[string]any
}

type stubPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

func (p *stubPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fields, _ := payload.(map[string]any)
	p.published = append(p.published, publishedMessage{topic: topic, payload: fields})
	return "msg-1", nil
}

type stubHasher struct{}

func (stubHasher) Hash(data []byte) (string, error) {
	return hex.EncodeToString(data), nil
}

type stubClock struct{}

func (stubClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

type stubIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *stubIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "artifact-" + hex.EncodeToString([]byte{byte(g.n)}), nil
}

func newTestWorker(
	store capture.JobStore,
	blobs capture.BlobStore,
	sink capture.ArtifactSink,
	pub capture.Publisher,
	renderer capture.Renderer,
	cfg Config,
) *Worker {
	return newTestWorkerWithQueue(queueMemory.NewQueue(1), store, blobs, sink, pub, renderer, cfg)
}

func newTestWorkerWithQueue(
	queue capture.Queue,
	store capture.JobStore,
	blobs capture.BlobStore,
	sink capture.ArtifactSink,
	pub capture.Publisher,
	renderer capture.Renderer,
	cfg Config,
) *Worker {
	return New(queue, store, blobs, sink, pub, stubHasher{}, stubClock{}, &stubIDGen{}, renderer, cfg, zap.NewNop())
}
