package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/consultdeck/deckgen/config"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckgen_jobs_total",
		Help: "Deck generation jobs by terminal status.",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deckgen_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	refineIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deckgen_refine_iterations",
		Help:    "Review passes executed per job.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	qualityOverall = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deckgen_quality_overall",
		Help:    "Final overall quality score per job.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckgen_llm_tokens_total",
		Help: "LLM tokens consumed, by model and kind.",
	}, []string{"model", "kind"})
)

// Telemetry records pipeline events as structured logs and Prometheus
// metrics.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu         sync.RWMutex
	stageCount map[string]int64
	jobCount   map[string]int64
	tokenCount map[string]int64
}

func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config:     cfg,
		logger:     log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		stageCount: make(map[string]int64),
		jobCount:   make(map[string]int64),
		tokenCount: make(map[string]int64),
	}
}

// RecordTokens records LLM token usage per model. No-op unless cost
// tracking is enabled.
func (t *Telemetry) RecordTokens(model string, promptTokens, completionTokens int) {
	if !t.config.Enabled || !t.config.CostTracking {
		return
	}
	llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))

	t.mu.Lock()
	t.tokenCount[model] += int64(promptTokens + completionTokens)
	t.mu.Unlock()
}

// TokenSnapshot returns total tokens consumed per model.
func (t *Telemetry) TokenSnapshot() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int64, len(t.tokenCount))
	for k, v := range t.tokenCount {
		out[k] = v
	}
	return out
}

// RecordStage records one completed pipeline stage.
func (t *Telemetry) RecordStage(jobID, stage string, d time.Duration, err error) {
	if !t.config.Enabled {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())

	t.mu.Lock()
	t.stageCount[stage]++
	t.mu.Unlock()

	if err != nil {
		t.logger.Printf("Stage Event: job=%s stage=%s duration=%v error=%v", jobID, stage, d, err)
		return
	}
	t.logger.Printf("Stage Event: job=%s stage=%s duration=%v", jobID, stage, d)
}

// RecordJob records a job reaching a terminal status.
func (t *Telemetry) RecordJob(jobID, status string, iterations int, overall int, d time.Duration) {
	if !t.config.Enabled {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		refineIterations.Observe(float64(iterations))
		qualityOverall.Observe(float64(overall))
	}

	t.mu.Lock()
	t.jobCount[status]++
	t.mu.Unlock()

	t.logger.Printf("Job Event: job=%s status=%s iterations=%d overall=%d duration=%v",
		jobID, status, iterations, overall, d)
}

// Snapshot returns in-process counters, mostly for the health endpoint
// and tests.
func (t *Telemetry) Snapshot() (stages map[string]int64, jobs map[string]int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stages = make(map[string]int64, len(t.stageCount))
	for k, v := range t.stageCount {
		stages[k] = v
	}
	jobs = make(map[string]int64, len(t.jobCount))
	for k, v := range t.jobCount {
		jobs[k] = v
	}
	return stages, jobs
}
