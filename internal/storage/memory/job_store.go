package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]capture.Job
	artifacts map[string][]capture.ArtifactRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]capture.Job),
		artifacts: make(map[string][]capture.ArtifactRecord),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job capture.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status capture.JobStatus,
	errText string,
	counters capture.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == capture.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordArtifact appends an artifact row for a job.
func (s *JobStore) RecordArtifact(_ context.Context, artifact capture.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.JobID] = append(s.artifacts[artifact.JobID], artifact)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (capture.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListArtifacts returns all recorded artifacts for a job.
func (s *JobStore) ListArtifacts(_ context.Context, jobID string) ([]capture.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifacts := s.artifacts[jobID]
	out := make([]capture.ArtifactRecord, len(artifacts))
	copy(out, artifacts)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status capture.JobStatus) bool {
	switch status {
	case capture.JobStatusSucceeded, capture.JobStatusFailed, capture.JobStatusCanceled:
		return true
	default:
		return false
	}
}
