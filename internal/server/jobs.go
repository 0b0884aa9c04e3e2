package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	core "github.com/consultdeck/deckgen/internal/deck/core"
	"github.com/consultdeck/deckgen/internal/store"
)

// jobsStore is the slice of the persistence layer the job handlers
// need. Satisfied by *store.Store.
type jobsStore interface {
	CreateJob(ctx context.Context, id, userID, topic, length string) error
	GetJob(ctx context.Context, jobID, userID string) (store.Job, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]store.Job, error)
	JobPayloads(ctx context.Context, jobID, userID string) (core.Storyline, core.ResearchResults, store.Job, error)
}

// deckRunner runs the generation pipeline. Satisfied by *core.Pipeline.
type deckRunner interface {
	Run(ctx context.Context, jobID, topic, length string) (core.Result, error)
	RunSlides(ctx context.Context, jobID, topic, length string, storyline core.Storyline, research core.ResearchResults) (core.Result, error)
}

// JobsHandler exposes deck generation jobs over HTTP. Generation runs
// in the background; clients follow progress through Redis pub/sub or
// by polling the job record.
type JobsHandler struct {
	Store      jobsStore
	Pipeline   deckRunner
	MaxJobTime time.Duration
	logger     *log.Logger
}

func NewJobsHandler(st jobsStore, pipeline deckRunner, maxJobTime time.Duration) *JobsHandler {
	if maxJobTime == 0 {
		maxJobTime = 30 * time.Minute
	}
	return &JobsHandler{
		Store:      st,
		Pipeline:   pipeline,
		MaxJobTime: maxJobTime,
		logger:     log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
	}
}

func (h *JobsHandler) Register(api *echo.Group, authed echo.MiddlewareFunc) {
	api.POST("/generate", h.generate, authed)
	jobs := api.Group("/jobs", authed)
	jobs.GET("", h.list)
	jobs.GET("/:id", h.get)
	jobs.GET("/:id/result", h.result)
	jobs.GET("/:id/download", h.download)
	jobs.POST("/:id/slides", h.regenerateSlides)
	jobs.POST("/:id/retry", h.retry)
}

func (h *JobsHandler) generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	length := req.Length
	switch length {
	case "":
		length = core.LengthMedium
	case core.LengthShort, core.LengthMedium, core.LengthLong:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "length must be short, medium or long")
	}

	userID := c.Get("user_id").(string)
	jobID := uuid.NewString()
	if err := h.Store.CreateJob(c.Request().Context(), jobID, userID, req.Topic, length); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.MaxJobTime)
		defer cancel()
		if _, err := h.Pipeline.Run(ctx, jobID, req.Topic, length); err != nil {
			h.logger.Printf("job %s failed: %v", jobID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, GenerateResponse{JobID: jobID, Status: core.StageQueued})
}

func (h *JobsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	jobs, err := h.Store.ListJobs(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *JobsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	job, err := h.Store.GetJob(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

func (h *JobsHandler) result(c echo.Context) error {
	userID := c.Get("user_id").(string)
	job, err := h.Store.GetJob(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if job.Status != core.StageCompleted {
		return echo.NewHTTPError(http.StatusConflict, "job is not completed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":        job.ID,
		"topic":         job.Topic,
		"length":        job.Length,
		"quality":       job.Quality,
		"storyline":     job.Storyline,
		"research":      job.Research,
		"artifact_path": job.ArtifactPath,
		"iteration":     job.Iteration,
	})
}

func (h *JobsHandler) download(c echo.Context) error {
	userID := c.Get("user_id").(string)
	job, err := h.Store.GetJob(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if job.ArtifactPath == "" {
		return echo.NewHTTPError(http.StatusConflict, "no artifact rendered yet")
	}
	return c.Attachment(job.ArtifactPath, "deck_"+job.ID+".json")
}

// regenerateSlides re-renders and re-refines the deck from the job's
// persisted storyline and research, without re-running the fatal
// upstream stages.
func (h *JobsHandler) regenerateSlides(c echo.Context) error {
	userID := c.Get("user_id").(string)
	jobID := c.Param("id")
	storyline, research, job, err := h.Store.JobPayloads(c.Request().Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.MaxJobTime)
		defer cancel()
		if _, err := h.Pipeline.RunSlides(ctx, jobID, job.Topic, job.Length, storyline, research); err != nil {
			h.logger.Printf("slide regeneration for job %s failed: %v", jobID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, GenerateResponse{JobID: jobID, Status: core.StageSlides})
}

// retry re-runs the full pipeline for a failed job on the existing job
// row, starting from scratch.
func (h *JobsHandler) retry(c echo.Context) error {
	userID := c.Get("user_id").(string)
	jobID := c.Param("id")
	job, err := h.Store.GetJob(c.Request().Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if job.Status != core.StageFailed {
		return echo.NewHTTPError(http.StatusConflict, "only failed jobs can be retried")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.MaxJobTime)
		defer cancel()
		if _, err := h.Pipeline.Run(ctx, job.ID, job.Topic, job.Length); err != nil {
			h.logger.Printf("retry of job %s failed: %v", job.ID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, GenerateResponse{JobID: job.ID, Status: core.StageQueued})
}
