package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
)

func TestJobLifecycleTimestamps(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := capture.Job{ID: "job-1", Status: capture.JobStatusQueued}
	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", capture.JobStatusRunning, "", capture.JobCounters{}))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	counters := capture.JobCounters{ArtifactsSucceeded: 2}
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", capture.JobStatusSucceeded, "", counters))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Finished)
	require.Equal(t, counters, got.Counters)
}

func TestUpdateUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	err := store.UpdateJobStatus(context.Background(), "missing", capture.JobStatusFailed, "", capture.JobCounters{})
	require.Error(t, err)

	_, err = store.GetJob(context.Background(), "missing")
	require.Error(t, err)
}

func TestRecordAndListArtifacts(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.RecordArtifact(ctx, capture.ArtifactRecord{
		JobID: "job-2",
		URL:   "https://example.com",
		Kind:  capture.KindScreenshot,
	}))
	require.NoError(t, store.RecordArtifact(ctx, capture.ArtifactRecord{
		JobID: "job-2",
		URL:   "https://example.com",
		Kind:  capture.KindPDF,
	}))

	artifacts, err := store.ListArtifacts(ctx, "job-2")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	require.Equal(t, capture.KindScreenshot, artifacts[0].Kind)
}
