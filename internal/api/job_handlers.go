package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
)

type jobRequest struct {
	URLs     []string          `json:"urls"`
	Kinds    []string          `json:"kinds"`
	FullPage *bool             `json:"full_page"`
	Tags     map[string]string `json:"tags"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	artifacts, err := s.jobStore.ListArtifacts(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job artifacts")
		return
	}
	s.writeJSON(w, http.StatusOK, capture.JobResult{Job: job, Artifacts: artifacts})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		capture.JobStatusCanceled,
		"canceled via API",
		capture.JobCounters{},
	); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(capture.JobStatusCanceled),
	})
}

func (s *Server) enqueueJob(ctx context.Context, params capture.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := capture.Job{
		ID:         jobID,
		Status:     capture.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   capture.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := capture.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req jobRequest) (capture.JobParameters, error) {
	if len(req.URLs) == 0 {
		return capture.JobParameters{}, errors.New("urls required")
	}
	for _, u := range req.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return capture.JobParameters{}, fmt.Errorf("url %q must start with http:// or https://", u)
		}
	}

	kinds := make([]capture.Kind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind := capture.Kind(k)
		if !kind.Valid() {
			return capture.JobParameters{}, fmt.Errorf("unsupported kind %q", k)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		kinds = []capture.Kind{capture.KindScreenshot}
	}

	params := capture.JobParameters{
		URLs:     req.URLs,
		Kinds:    kinds,
		FullPage: valueOrDefault(req.FullPage, s.cfg.Capture.FullPageDefault),
		Tags:     req.Tags,
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
