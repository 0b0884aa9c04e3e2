package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	core "github.com/consultdeck/deckgen/internal/deck/core"
	"github.com/consultdeck/deckgen/internal/store"
)

type stubJobsStore struct {
	jobs map[string]store.Job
}

func (s *stubJobsStore) CreateJob(ctx context.Context, id, userID, topic, length string) error {
	return nil
}

func (s *stubJobsStore) GetJob(ctx context.Context, jobID, userID string) (store.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return store.Job{}, sql.ErrNoRows
	}
	return job, nil
}

func (s *stubJobsStore) ListJobs(ctx context.Context, userID string, limit, offset int) ([]store.Job, error) {
	return nil, nil
}

func (s *stubJobsStore) JobPayloads(ctx context.Context, jobID, userID string) (core.Storyline, core.ResearchResults, store.Job, error) {
	job, err := s.GetJob(ctx, jobID, userID)
	return core.Storyline{}, core.ResearchResults{}, job, err
}

type runCall struct {
	jobID  string
	topic  string
	length string
}

type stubDeckRunner struct {
	runs chan runCall
}

func (r *stubDeckRunner) Run(ctx context.Context, jobID, topic, length string) (core.Result, error) {
	r.runs <- runCall{jobID: jobID, topic: topic, length: length}
	return core.Result{}, nil
}

func (r *stubDeckRunner) RunSlides(ctx context.Context, jobID, topic, length string, storyline core.Storyline, research core.ResearchResults) (core.Result, error) {
	r.runs <- runCall{jobID: jobID, topic: topic, length: length}
	return core.Result{}, nil
}

func retryRequest(h *JobsHandler, jobID, userID string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/retry", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(jobID)
	c.Set("user_id", userID)
	return rec, h.retry(c)
}

func TestRetryFailedJobRerunsPipeline(t *testing.T) {
	st := &stubJobsStore{jobs: map[string]store.Job{
		"j1": {ID: "j1", UserID: "u1", Topic: "cloud migration", Length: core.LengthShort, Status: core.StageFailed},
	}}
	runner := &stubDeckRunner{runs: make(chan runCall, 1)}
	h := NewJobsHandler(st, runner, time.Minute)

	rec, err := retryRequest(h, "j1", "u1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID != "j1" || resp.Status != core.StageQueued {
		t.Fatalf("unexpected response: %+v", resp)
	}

	select {
	case call := <-runner.runs:
		if call.jobID != "j1" || call.topic != "cloud migration" || call.length != core.LengthShort {
			t.Fatalf("pipeline re-run with wrong arguments: %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline was not re-run")
	}
}

func TestRetryNonFailedJobConflicts(t *testing.T) {
	st := &stubJobsStore{jobs: map[string]store.Job{
		"j1": {ID: "j1", UserID: "u1", Topic: "cloud migration", Length: core.LengthShort, Status: core.StageCompleted},
	}}
	runner := &stubDeckRunner{runs: make(chan runCall, 1)}
	h := NewJobsHandler(st, runner, time.Minute)

	_, err := retryRequest(h, "j1", "u1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 for non-failed job, got %v", err)
	}
	select {
	case call := <-runner.runs:
		t.Fatalf("pipeline should not run for non-failed job, got %+v", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetryUnknownJobNotFound(t *testing.T) {
	st := &stubJobsStore{jobs: map[string]store.Job{}}
	h := NewJobsHandler(st, &stubDeckRunner{runs: make(chan runCall, 1)}, time.Minute)

	_, err := retryRequest(h, "missing", "u1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %v", err)
	}
}

func TestRetryOtherUsersJobNotFound(t *testing.T) {
	st := &stubJobsStore{jobs: map[string]store.Job{
		"j1": {ID: "j1", UserID: "u1", Status: core.StageFailed},
	}}
	h := NewJobsHandler(st, &stubDeckRunner{runs: make(chan runCall, 1)}, time.Minute)

	_, err := retryRequest(h, "j1", "u2")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's job, got %v", err)
	}
}
