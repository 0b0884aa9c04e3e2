package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/consultdeck/deckgen/config"
	"github.com/consultdeck/deckgen/internal/deck/telemetry"
)

// Refinement loop bounds. The loop stops at PassThreshold or after
// MaxIterations review passes, whichever comes first.
const (
	DefaultMaxIterations = 5
	DefaultPassThreshold = 70
)

var pipelineTracer trace.Tracer = otel.Tracer("deckgen/internal/deck/pipeline")

// Reviewer produces a critique and fixes for a rendered deck. Satisfied
// by *QualityReviewer; tests inject deterministic fixtures.
type Reviewer interface {
	Review(ctx context.Context, deck Deck, artifactPath string, storyline Storyline, research ResearchResults, iteration int) (SlideQualityReport, []SlideFeedback)
}

// Patcher applies slide feedback to an artifact and reads artifacts
// back. Satisfied by *DeckRenderer.
type Patcher interface {
	Patch(prevPath string, feedback []SlideFeedback, iteration int) (string, error)
	LoadDeck(path string) (Deck, error)
}

// RefineLoop drives repeated review -> patch cycles over a rendered
// deck until the score threshold, an empty feedback list, a score
// plateau, or the iteration cap ends it. Deterministic given
// deterministic reviewer and patcher behavior.
type RefineLoop struct {
	reviewer      Reviewer
	patcher       Patcher
	maxIterations int
	passThreshold int
	logger        *log.Logger
}

func NewRefineLoop(reviewer Reviewer, patcher Patcher, maxIterations, passThreshold int) *RefineLoop {
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}
	if passThreshold <= 0 {
		passThreshold = DefaultPassThreshold
	}
	return &RefineLoop{
		reviewer:      reviewer,
		patcher:       patcher,
		maxIterations: maxIterations,
		passThreshold: passThreshold,
		logger:        log.New(log.Writer(), "[REFINE] ", log.LstdFlags),
	}
}

// Run refines the artifact at path. Terminal conditions are checked in
// a fixed order on each pass: threshold reached, empty feedback,
// plateau (latest score not above the previous one, only after three
// completed passes), then the unconditional iteration cap.
func (l *RefineLoop) Run(ctx context.Context, path string, storyline Storyline, research ResearchResults) (QualityScore, string, error) {
	var history []int
	var lastReport SlideQualityReport

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		deck, err := l.patcher.LoadDeck(path)
		if err != nil {
			return QualityScore{}, "", fmt.Errorf("iteration %d: %w", iteration, err)
		}

		report, feedback := l.reviewer.Review(ctx, deck, path, storyline, research, iteration)
		lastReport = report
		score := AggregateScore(report, iteration)
		history = append(history, score.Overall)
		l.logger.Printf("iteration %d: overall=%d issues=%d fixes=%d",
			iteration, score.Overall, len(report.Issues), len(feedback))

		if score.Overall >= l.passThreshold {
			l.logger.Printf("stopping: score %d >= threshold %d", score.Overall, l.passThreshold)
			return score, path, nil
		}
		if len(feedback) == 0 {
			l.logger.Printf("stopping: no feedback to apply")
			return score, path, nil
		}
		if len(history) >= 3 && history[len(history)-1] <= history[len(history)-2] {
			l.logger.Printf("stopping: score plateau at %d", score.Overall)
			return score, path, nil
		}
		if iteration == l.maxIterations {
			l.logger.Printf("stopping: iteration cap %d reached", l.maxIterations)
			return score, path, nil
		}

		path, err = l.patcher.Patch(path, feedback, iteration)
		if err != nil {
			return QualityScore{}, "", fmt.Errorf("patch after iteration %d: %w", iteration, err)
		}
	}

	// unreachable: the cap check above returns inside the loop
	return AggregateScore(lastReport, l.maxIterations), path, nil
}

// Result is the full output of one pipeline run.
type Result struct {
	JobID        string          `json:"job_id"`
	Topic        string          `json:"topic"`
	Length       string          `json:"length"`
	Storyline    Storyline       `json:"storyline"`
	Research     ResearchResults `json:"research"`
	ArtifactPath string          `json:"artifact_path"`
	Quality      QualityScore    `json:"quality"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// Pipeline wires the stages together: brief expansion, storyline,
// evidence collection, initial render, refinement. Stage outputs are
// persisted through the JobStore before the next stage starts so a
// crashed job can resume, and progress is pushed through the sink.
type Pipeline struct {
	cfg       *config.Config
	registry  *Registry
	store     JobStore
	progress  ProgressSink
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewPipeline(cfg *config.Config, registry *Registry, store JobStore, progress ProgressSink, tel *telemetry.Telemetry) *Pipeline {
	if store == nil {
		store = NopJobStore{}
	}
	if progress == nil {
		progress = NopProgressSink{}
	}
	if tel != nil {
		registry.SetUsageRecorder(tel.RecordTokens)
	}
	return &Pipeline{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		progress:  progress,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

func (p *Pipeline) publish(ctx context.Context, jobID, stage string, iteration, score int, msg string) {
	p.progress.Publish(ctx, ProgressEvent{
		JobID:     jobID,
		Stage:     stage,
		Iteration: iteration,
		Score:     score,
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (p *Pipeline) stage(ctx context.Context, jobID, stage string, fn func() error) error {
	start := time.Now()
	p.publish(ctx, jobID, stage, 0, 0, "")
	if err := p.store.UpdateStatus(ctx, jobID, stage, ""); err != nil {
		p.logger.Printf("status update failed for job %s: %v", jobID, err)
	}
	err := fn()
	if p.telemetry != nil {
		p.telemetry.RecordStage(jobID, stage, time.Since(start), err)
	}
	return err
}

// Run executes the full pipeline for a topic.
func (p *Pipeline) Run(ctx context.Context, jobID, topic, length string) (Result, error) {
	ctx, span := pipelineTracer.Start(ctx, "deck.generate",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("deck.length", length),
		))
	defer span.End()
	start := time.Now()

	fail := func(stage string, err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if serr := p.store.UpdateStatus(ctx, jobID, StageFailed, err.Error()); serr != nil {
			p.logger.Printf("status update failed for job %s: %v", jobID, serr)
		}
		p.publish(ctx, jobID, StageFailed, 0, 0, err.Error())
		if p.telemetry != nil {
			p.telemetry.RecordJob(jobID, StageFailed, 0, 0, time.Since(start))
		}
		return Result{}, fmt.Errorf("%s: %w", stage, err)
	}

	storylineLLM, err := p.registry.ResolveLLM(p.cfg, "storyline")
	if err != nil {
		return fail("resolve storyline model", err)
	}
	reviewLLM, err := p.registry.ResolveLLM(p.cfg, "review")
	if err != nil {
		return fail("resolve review model", err)
	}
	research, err := p.registry.ResolveResearch(p.cfg.Research)
	if err != nil {
		return fail("resolve research provider", err)
	}

	// brief expansion is optional context for the storyline call
	var brief string
	_ = p.stage(ctx, jobID, StageExpanding, func() error {
		brief = NewBriefExpander(storylineLLM).Expand(ctx, topic)
		return nil
	})

	var storyline Storyline
	if err := p.stage(ctx, jobID, StageStoryline, func() error {
		var serr error
		storyline, serr = NewStorylineBuilder(storylineLLM).Generate(ctx, topic, length, brief)
		if serr != nil {
			return serr
		}
		return p.store.SaveStoryline(ctx, jobID, storyline)
	}); err != nil {
		return fail("storyline", err)
	}
	span.AddEvent("storyline.complete", trace.WithAttributes(
		attribute.Int("hypotheses", len(storyline.Hypotheses)),
	))

	var researchResults ResearchResults
	if err := p.stage(ctx, jobID, StageResearching, func() error {
		var rerr error
		researchResults, rerr = NewEvidenceCollector(research, p.cfg.Research.ResultsPerQuery).Validate(ctx, storyline.Hypotheses)
		if rerr != nil {
			return rerr
		}
		return p.store.SaveResearch(ctx, jobID, researchResults)
	}); err != nil {
		return fail("research", err)
	}

	return p.renderAndRefine(ctx, span, start, jobID, topic, length, storyline, researchResults, reviewLLM)
}

// RunSlides regenerates the deck from a previously persisted storyline
// and research, skipping the fatal upstream stages. Supports the
// re-render operation on completed or failed jobs.
func (p *Pipeline) RunSlides(ctx context.Context, jobID, topic, length string, storyline Storyline, research ResearchResults) (Result, error) {
	ctx, span := pipelineTracer.Start(ctx, "deck.regenerate_slides",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("deck.length", length),
		))
	defer span.End()
	start := time.Now()

	reviewLLM, err := p.registry.ResolveLLM(p.cfg, "review")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("resolve review model: %w", err)
	}
	return p.renderAndRefine(ctx, span, start, jobID, topic, length, storyline, research, reviewLLM)
}

func (p *Pipeline) renderAndRefine(ctx context.Context, span trace.Span, start time.Time, jobID, topic, length string, storyline Storyline, research ResearchResults, reviewLLM LLMProvider) (Result, error) {
	renderer := NewDeckRenderer(p.cfg.Renderer.OutputDir, p.cfg.Renderer.MaxSourceEntries)

	var path string
	if err := p.stage(ctx, jobID, StageSlides, func() error {
		var rerr error
		path, rerr = renderer.Render(topic, storyline, research, length)
		if rerr != nil {
			return rerr
		}
		return p.store.SaveArtifact(ctx, jobID, path, 0)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if serr := p.store.UpdateStatus(ctx, jobID, StageFailed, err.Error()); serr != nil {
			p.logger.Printf("status update failed for job %s: %v", jobID, serr)
		}
		p.publish(ctx, jobID, StageFailed, 0, 0, err.Error())
		if p.telemetry != nil {
			p.telemetry.RecordJob(jobID, StageFailed, 0, 0, time.Since(start))
		}
		return Result{}, fmt.Errorf("render: %w", err)
	}

	var raster *Rasterizer
	if p.cfg.Renderer.ConverterCommand != "" {
		raster = NewRasterizer(p.cfg.Renderer.ConverterCommand, p.cfg.Renderer.ConverterTimeout)
	}
	reviewer := NewQualityReviewer(reviewLLM, raster)
	loop := NewRefineLoop(reviewer, renderer, p.cfg.Refine.MaxIterations, p.cfg.Refine.PassThreshold)

	var quality QualityScore
	if err := p.stage(ctx, jobID, StageRefining, func() error {
		var lerr error
		quality, path, lerr = loop.Run(ctx, path, storyline, research)
		if lerr != nil {
			return lerr
		}
		if serr := p.store.SaveArtifact(ctx, jobID, path, quality.IterationsRun); serr != nil {
			return serr
		}
		return p.store.SaveQuality(ctx, jobID, quality)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if serr := p.store.UpdateStatus(ctx, jobID, StageFailed, err.Error()); serr != nil {
			p.logger.Printf("status update failed for job %s: %v", jobID, serr)
		}
		p.publish(ctx, jobID, StageFailed, 0, 0, err.Error())
		if p.telemetry != nil {
			p.telemetry.RecordJob(jobID, StageFailed, 0, 0, time.Since(start))
		}
		return Result{}, fmt.Errorf("refine: %w", err)
	}

	if err := p.store.UpdateStatus(ctx, jobID, StageCompleted, ""); err != nil {
		p.logger.Printf("status update failed for job %s: %v", jobID, err)
	}
	p.publish(ctx, jobID, StageCompleted, quality.IterationsRun, quality.Overall, "")
	if p.telemetry != nil {
		p.telemetry.RecordJob(jobID, StageCompleted, quality.IterationsRun, quality.Overall, time.Since(start))
	}

	span.SetAttributes(
		attribute.Int("quality.overall", quality.Overall),
		attribute.Int("quality.iterations", quality.IterationsRun),
	)
	span.SetStatus(codes.Ok, "completed")

	return Result{
		JobID:        jobID,
		Topic:        topic,
		Length:       length,
		Storyline:    storyline,
		Research:     research,
		ArtifactPath: path,
		Quality:      quality,
		Elapsed:      time.Since(start),
	}, nil
}
