package core

import (
	"context"
	"time"
)

// Storyline is the structured consulting argument built once per job.
// It is immutable after creation: refinement passes mutate the rendered
// deck, never the storyline itself.
type Storyline struct {
	Situation    string `json:"situation"`
	Complication string `json:"complication"`
	Question     string `json:"question"`
	Answer       string `json:"answer"`

	// Optional per-section action titles keyed by section name
	// (situation, complication, recommendations).
	ActionTitles map[string]string `json:"action_titles,omitempty"`

	// Optional per-section supporting bullets keyed by section name.
	SectionBullets map[string][]string `json:"section_bullets,omitempty"`

	GoverningThought string       `json:"governing_thought"`
	KeyLine          string       `json:"key_line"`
	Hypotheses       []Hypothesis `json:"hypotheses"`
	Recommendations  []string     `json:"recommendations,omitempty"`

	// Free-form slide-data blocks keyed by chart kind (key_drivers,
	// waterfall, framework, sensitivity). Values are LLM-authored and
	// decoded defensively at render time.
	SlideData map[string]interface{} `json:"slide_data,omitempty"`
}

// Hypothesis is a testable claim supporting the storyline's answer. The
// ID is unique within a storyline and stable for the job's lifetime; it
// is the join key into evidence.
type Hypothesis struct {
	ID          int        `json:"id"`
	Text        string     `json:"text"`
	Claim       string     `json:"claim"`
	ActionTitle string     `json:"action_title,omitempty"`
	Chart       *ChartHint `json:"chart,omitempty"`
}

// ChartHint is the storyline-authored suggestion for a hypothesis slide
// visualization. Categories and values are not validated at storyline
// time; the renderer reconciles them.
type ChartHint struct {
	Type        string    `json:"type"`
	Categories  []string  `json:"categories"`
	Values      []float64 `json:"values"`
	MetricLabel string    `json:"metric_label,omitempty"`
}

// SearchResult is a single ranked snippet from the research capability.
type SearchResult struct {
	Source    string  `json:"source"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Date      string  `json:"date,omitempty"`
	Relevance float64 `json:"relevance"`
}

// Confidence tiers assigned by the evidence collector.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// HypothesisEvidence is the aggregated research outcome for one
// hypothesis. Created once by the evidence collector, never mutated.
type HypothesisEvidence struct {
	HypothesisID int            `json:"hypothesis_id"`
	Results      []SearchResult `json:"results"`
	Supports     bool           `json:"supports"`
	Confidence   string         `json:"confidence"`
	Conclusion   string         `json:"conclusion"`
}

// ResearchResults aggregates evidence across all hypotheses.
// TotalSources always equals the sum of len(Results) over Evidence.
type ResearchResults struct {
	Evidence     []HypothesisEvidence `json:"evidence"`
	TotalSources int                  `json:"total_sources"`
}

// SlideContent holds the facts extracted from one rendered slide during
// a review pass. It is derived by re-parsing the artifact and lives only
// as part of the report that was computed over it.
type SlideContent struct {
	Index      int      `json:"index"`
	Title      string   `json:"title"`
	Body       []string `json:"body"`
	HasChart   bool     `json:"has_chart"`
	HasTable   bool     `json:"has_table"`
	ShapeCount int      `json:"shape_count"`
	WordCount  int      `json:"word_count"`
}

// Closed issue taxonomy used by the quality reviewer.
const (
	IssueTooSparse       = "too_sparse"
	IssueTooDense        = "too_dense"
	IssuePlaceholderData = "placeholder_data"
	IssueMissingSoWhat   = "missing_so_what"
	IssueMECEViolation   = "mece_violation"
	IssueWeakTitle       = "weak_title"
	IssueMissingChart    = "missing_chart"
	IssueNarrativeGap    = "narrative_gap"
)

// SlideIssue is one flagged problem on one slide.
type SlideIssue struct {
	SlideIndex  int    `json:"slide_index"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Fix         string `json:"fix,omitempty"`
}

// SlideQualityReport is the structured critique from one review pass.
// Immutable once produced.
type SlideQualityReport struct {
	Iteration          int            `json:"iteration"`
	Slides             []SlideContent `json:"slides"`
	Issues             []SlideIssue   `json:"issues"`
	InformationDensity int            `json:"information_density"`
	ChartQuality       int            `json:"chart_quality"`
	NarrativeFlow      int            `json:"narrative_flow"`
	Suggestions        []string       `json:"suggestions"`
}

// SlideFeedback is one concrete fix for one slide. Empty/nil fields mean
// "leave as is". Consumed by exactly one patch call, then discarded.
type SlideFeedback struct {
	SlideIndex      int        `json:"slide_index"`
	NewTitle        string     `json:"new_title,omitempty"`
	NewBullets      []string   `json:"new_bullets,omitempty"`
	NewChartData    *ChartData `json:"new_chart_data,omitempty"`
	AddressedIssues []string   `json:"addressed_issues,omitempty"`
}

// QualityScore is the terminal artifact of the refinement loop.
type QualityScore struct {
	NarrativeFlow      int                `json:"narrative_flow"`
	MECEScore          int                `json:"mece_score"`
	SoWhatScore        int                `json:"so_what_score"`
	InformationDensity int                `json:"information_density"`
	ChartQuality       int                `json:"chart_quality"`
	VisualScore        int                `json:"visual_score"`
	Overall            int                `json:"overall"`
	Suggestions        []string           `json:"suggestions"`
	IterationsRun      int                `json:"iterations_run"`
	FinalReport        SlideQualityReport `json:"final_report"`
}

// ChartData is the reconciled, render-ready chart block. Always produced
// by DecodeChartData; never built directly from raw LLM output.
type ChartData struct {
	Kind        string    `json:"kind"`
	Categories  []string  `json:"categories"`
	Values      []float64 `json:"values"`
	MetricLabel string    `json:"metric_label,omitempty"`
}

// Slide kinds used by the deck renderer.
const (
	SlideKindTitle           = "title"
	SlideKindSituation       = "situation"
	SlideKindComplication    = "complication"
	SlideKindHypothesis      = "hypothesis"
	SlideKindKeyDrivers      = "key_drivers"
	SlideKindWaterfall       = "waterfall"
	SlideKindFramework       = "framework"
	SlideKindSensitivity     = "sensitivity"
	SlideKindRecommendations = "recommendations"
	SlideKindSources         = "sources"
)

// Slide is one rendered slide inside a deck artifact.
type Slide struct {
	Index   int        `json:"index"`
	Kind    string     `json:"kind"`
	Title   string     `json:"title"`
	Bullets []string   `json:"bullets,omitempty"`
	Chart   *ChartData `json:"chart,omitempty"`
	Table   [][]string `json:"table,omitempty"`
	Notes   string     `json:"notes,omitempty"`
}

// Deck is the rendered artifact. Every render and patch writes a new
// file; decks are never mutated in place.
type Deck struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Length      string    `json:"length"`
	Iteration   int       `json:"iteration"`
	Slides      []Slide   `json:"slides"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Deck length tiers controlling the slide inventory and the hypothesis
// count hint passed to the storyline builder.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// LLMProvider is the text-generation capability consumed by the
// pipeline. Implementations may fail; callers treat any error as "no
// usable response" and apply their own fallback policy.
type LLMProvider interface {
	Generate(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error)
	GenerateWithVision(ctx context.Context, prompt string, imagePaths []string, system string, temperature float64, maxTokens int) (string, error)
	SupportsVision() bool
	ModelName() string
}

// ResearchProvider is the web research capability. May return fewer
// results than requested; transport failures propagate to the caller.
type ResearchProvider interface {
	Search(ctx context.Context, query string, numResults int) ([]SearchResult, error)
	Name() string
}

// ProgressEvent is pushed through a ProgressSink as the pipeline moves
// between stages. Transport (sockets, polling) is the caller's problem.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Iteration int       `json:"iteration,omitempty"`
	Score     int       `json:"score,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pipeline stages reported through progress events and persisted as job
// status.
const (
	StageQueued      = "queued"
	StageExpanding   = "expanding"
	StageStoryline   = "storyline"
	StageResearching = "researching"
	StageSlides      = "slides"
	StageRefining    = "refining"
	StageCompleted   = "completed"
	StageFailed      = "failed"
)

// ProgressSink receives out-of-band progress events from a running job.
type ProgressSink interface {
	Publish(ctx context.Context, event ProgressEvent)
}

// NopProgressSink discards all events.
type NopProgressSink struct{}

func (NopProgressSink) Publish(ctx context.Context, event ProgressEvent) {}

// JobStore persists intermediate stage outputs so a crashed job can be
// resumed from the last completed stage.
type JobStore interface {
	SaveStoryline(ctx context.Context, jobID string, storyline Storyline) error
	SaveResearch(ctx context.Context, jobID string, research ResearchResults) error
	SaveArtifact(ctx context.Context, jobID string, path string, iteration int) error
	SaveQuality(ctx context.Context, jobID string, score QualityScore) error
	UpdateStatus(ctx context.Context, jobID string, status string, errMsg string) error
}

// NopJobStore is used when the pipeline runs without persistence (CLI
// one-shot mode and tests).
type NopJobStore struct{}

func (NopJobStore) SaveStoryline(ctx context.Context, jobID string, storyline Storyline) error {
	return nil
}
func (NopJobStore) SaveResearch(ctx context.Context, jobID string, research ResearchResults) error {
	return nil
}
func (NopJobStore) SaveArtifact(ctx context.Context, jobID string, path string, iteration int) error {
	return nil
}
func (NopJobStore) SaveQuality(ctx context.Context, jobID string, score QualityScore) error {
	return nil
}
func (NopJobStore) UpdateStatus(ctx context.Context, jobID string, status string, errMsg string) error {
	return nil
}
