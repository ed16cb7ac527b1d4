// Package capture defines core types shared across subsystems.
package capture

import (
	"encoding/json"
	"net/http"
	"time"
)

// Kind identifies the artifact produced by a capture.
type Kind string

// Artifact kinds accepted by the capture API.
const (
	KindScreenshot Kind = "screenshot"
	KindHTML       Kind = "html"
	KindPDF        Kind = "pdf"
)

// ContentType returns the MIME type written alongside the artifact.
func (k Kind) ContentType() string {
	switch k {
	case KindScreenshot:
		return "image/png"
	case KindPDF:
		return "application/pdf"
	default:
		return "text/html; charset=utf-8"
	}
}

// Extension returns the blob filename extension for the kind.
func (k Kind) Extension() string {
	switch k {
	case KindScreenshot:
		return "png"
	case KindPDF:
		return "pdf"
	default:
		return "html"
	}
}

// Valid reports whether the kind is one the pipeline can produce.
func (k Kind) Valid() bool {
	switch k {
	case KindScreenshot, KindHTML, KindPDF:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a capture job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	URLs     []string          `json:"urls"`
	Kinds    []Kind            `json:"kinds"`
	FullPage bool              `json:"full_page" mapstructure:"full_page"`
	Tags     map[string]string `json:"tags"`
}

// Job represents the metadata persisted for each submitted capture request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks success/failure stats per job.
type JobCounters struct {
	ArtifactsSucceeded int `json:"artifacts_succeeded"`
	ArtifactsFailed    int `json:"artifacts_failed"`
}

// ArtifactRecord is persisted for each captured artifact.
type ArtifactRecord struct {
	ID          string      `json:"id,omitempty"`
	JobID       string      `json:"job_id"`
	URL         string      `json:"url"`
	Kind        Kind        `json:"kind"`
	StatusCode  int         `json:"status_code"`
	CapturedAt  time.Time   `json:"captured_at"`
	DurationMs  int64       `json:"duration_ms"`
	ContentHash string      `json:"content_hash"`
	ContentType string      `json:"content_type"`
	Headers     http.Header `json:"headers"`
	BlobURI     string      `json:"blob_uri"`
}

// RenderRequest captures everything needed to drive a browser at a URL.
type RenderRequest struct {
	URL      string
	Script   string
	FullPage bool
	Headers  http.Header
}

// RenderResult is the outcome of a browser capture.
type RenderResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Result     json.RawMessage
	Duration   time.Duration
}

// FetchRequest describes a plain HTTP fetch without rendering.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job              `json:"job"`
	Artifacts []ArtifactRecord `json:"artifacts"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
