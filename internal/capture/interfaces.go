package capture

import (
	"context"
	"time"
)

// Renderer drives a headless browser session against a single URL.
type Renderer interface {
	Screenshot(ctx context.Context, req RenderRequest) (RenderResult, error)
	HTML(ctx context.Context, req RenderRequest) (RenderResult, error)
	PDF(ctx context.Context, req RenderRequest) (RenderResult, error)
	Evaluate(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// Fetcher performs a plain HTTP GET without rendering.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// JobStore persists job and artifact metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordArtifact(ctx context.Context, artifact ArtifactRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListArtifacts(ctx context.Context, jobID string) ([]ArtifactRecord, error)
}

// ArtifactSink receives a copy of every artifact row, e.g. for durable
// archival next to the serving job store.
type ArtifactSink interface {
	RecordArtifact(ctx context.Context, artifact ArtifactRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for capture jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
