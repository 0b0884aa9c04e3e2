package core

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// maxReviewImages caps how many slide screenshots are attached to a
// vision review call.
const maxReviewImages = 12

// Derived sub-score baseline and per-issue penalties used by the score
// aggregation.
const (
	derivedScoreBase     = 80
	meceViolationPenalty = 10
	missingSoWhatPenalty = 10
	densityIssuePenalty  = 5
)

const reviewSystemPrompt = `You are a demanding consulting partner reviewing a slide deck.
Judge structure, not prose style: MECE hypotheses, so-what on every slide,
information density, chart quality and narrative flow.
Respond ONLY with the requested JSON.`

// QualityReviewer inspects a rendered deck and produces a structured
// critique plus concrete per-slide fixes. Review failures degrade to
// defaults; they never abort the pipeline.
type QualityReviewer struct {
	llm    LLMProvider
	raster *Rasterizer
	logger *log.Logger
}

// NewQualityReviewer builds a reviewer. raster may be nil, forcing
// text-only review.
func NewQualityReviewer(llm LLMProvider, raster *Rasterizer) *QualityReviewer {
	return &QualityReviewer{
		llm:    llm,
		raster: raster,
		logger: log.New(log.Writer(), "[REVIEW] ", log.LstdFlags),
	}
}

// InspectDeck extracts per-slide facts from a rendered deck.
func InspectDeck(deck Deck) []SlideContent {
	out := make([]SlideContent, 0, len(deck.Slides))
	for _, s := range deck.Slides {
		words := len(strings.Fields(s.Title))
		for _, b := range s.Bullets {
			words += len(strings.Fields(b))
		}
		shapes := 1 // title
		if len(s.Bullets) > 0 {
			shapes++
		}
		if s.Chart != nil {
			shapes++
		}
		if len(s.Table) > 0 {
			shapes++
		}
		out = append(out, SlideContent{
			Index:      s.Index,
			Title:      s.Title,
			Body:       append([]string(nil), s.Bullets...),
			HasChart:   s.Chart != nil,
			HasTable:   len(s.Table) > 0,
			ShapeCount: shapes,
			WordCount:  words,
		})
	}
	return out
}

// Review inspects the artifact, runs the critique call (vision when the
// model and rasterizer both allow it, text otherwise) and converts any
// flagged issues into per-slide fixes with a second call. Parse
// failures fall back to a default report or an empty fix list.
func (q *QualityReviewer) Review(ctx context.Context, deck Deck, artifactPath string, storyline Storyline, research ResearchResults, iteration int) (SlideQualityReport, []SlideFeedback) {
	slides := InspectDeck(deck)

	var raw string
	var err error
	if q.llm.SupportsVision() && q.raster != nil {
		raw, err = q.reviewWithVision(ctx, artifactPath, slides, storyline)
		if err != nil {
			q.logger.Printf("vision review unavailable, falling back to text: %v", err)
			raw, err = q.reviewText(ctx, slides, storyline)
		}
	} else {
		raw, err = q.reviewText(ctx, slides, storyline)
	}
	if err != nil {
		q.logger.Printf("review call failed, using default report: %v", err)
		return defaultReport(iteration, slides), nil
	}

	report, ok := parseReport(raw, iteration, slides)
	if !ok {
		q.logger.Printf("review response unparseable, using default report")
		return defaultReport(iteration, slides), nil
	}

	feedback := q.generateFixes(ctx, report, storyline, research)
	return report, feedback
}

func (q *QualityReviewer) reviewWithVision(ctx context.Context, artifactPath string, slides []SlideContent, storyline Storyline) (string, error) {
	images, cleanup, err := q.raster.Rasterize(ctx, artifactPath)
	if err != nil {
		return "", err
	}
	defer cleanup()
	if len(images) > maxReviewImages {
		images = images[:maxReviewImages]
	}
	prompt := reviewPrompt(slides, storyline) + "\nSlide screenshots are attached in order."
	return q.llm.GenerateWithVision(ctx, prompt, images, reviewSystemPrompt, 0.2, 3000)
}

func (q *QualityReviewer) reviewText(ctx context.Context, slides []SlideContent, storyline Storyline) (string, error) {
	return q.llm.Generate(ctx, reviewPrompt(slides, storyline), reviewSystemPrompt, 0.2, 3000)
}

func reviewPrompt(slides []SlideContent, storyline Storyline) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GOVERNING THOUGHT: %s\n", storyline.GoverningThought)
	sb.WriteString("SLIDES:\n")
	for _, s := range slides {
		fmt.Fprintf(&sb, "[%d] %q chart=%t table=%t words=%d\n", s.Index, s.Title, s.HasChart, s.HasTable, s.WordCount)
		for _, b := range s.Body {
			fmt.Fprintf(&sb, "    - %s\n", truncate(b, 160))
		}
	}
	sb.WriteString(`
Issue types: too_sparse, too_dense, placeholder_data, missing_so_what, mece_violation, weak_title, missing_chart, narrative_gap.
Return ONLY strict JSON:
{
  "issues": [ { "slide_index": number, "type": string, "description": string, "fix": string } ],
  "information_density": number 0-100,
  "chart_quality": number 0-100,
  "narrative_flow": number 0-100,
  "suggestions": [string]
}
`)
	return sb.String()
}

func parseReport(raw string, iteration int, slides []SlideContent) (SlideQualityReport, bool) {
	var wire struct {
		Issues             []SlideIssue `json:"issues"`
		InformationDensity int          `json:"information_density"`
		ChartQuality       int          `json:"chart_quality"`
		NarrativeFlow      int          `json:"narrative_flow"`
		Suggestions        []string     `json:"suggestions"`
	}
	if err := DecodeLLMObject(raw, &wire); err != nil {
		return SlideQualityReport{}, false
	}
	if wire.InformationDensity == 0 && wire.ChartQuality == 0 && wire.NarrativeFlow == 0 && len(wire.Issues) == 0 {
		// structurally empty: treat as unparseable rather than a
		// suspiciously perfect zero report
		return SlideQualityReport{}, false
	}
	return SlideQualityReport{
		Iteration:          iteration,
		Slides:             slides,
		Issues:             wire.Issues,
		InformationDensity: clampScore(wire.InformationDensity),
		ChartQuality:       clampScore(wire.ChartQuality),
		NarrativeFlow:      clampScore(wire.NarrativeFlow),
		Suggestions:        wire.Suggestions,
	}, true
}

func defaultReport(iteration int, slides []SlideContent) SlideQualityReport {
	return SlideQualityReport{
		Iteration:          iteration,
		Slides:             slides,
		Issues:             nil,
		InformationDensity: 50,
		ChartQuality:       50,
		NarrativeFlow:      50,
	}
}

// generateFixes converts flagged issues into concrete per-slide fixes.
// Skipped entirely when the report has no issues; parse failures
// degrade to an empty list.
func (q *QualityReviewer) generateFixes(ctx context.Context, report SlideQualityReport, storyline Storyline, research ResearchResults) []SlideFeedback {
	if len(report.Issues) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("The deck review flagged these issues:\n")
	for _, issue := range report.Issues {
		fmt.Fprintf(&sb, "- slide %d [%s]: %s\n", issue.SlideIndex, issue.Type, issue.Description)
	}
	snippets := topEvidenceSnippets(research, 3)
	if len(snippets) > 0 {
		sb.WriteString("\nSUPPORTING EVIDENCE:\n")
		for _, s := range snippets {
			fmt.Fprintf(&sb, "- %s (%s)\n", truncate(s.Snippet, 200), s.Source)
		}
	}
	fmt.Fprintf(&sb, "\nGOVERNING THOUGHT: %s\n", storyline.GoverningThought)
	sb.WriteString(`
Produce one fix per affected slide, grouped by slide index.
Return ONLY strict JSON:
{
  "fixes": [
    { "slide_index": number, "new_title": string, "new_bullets": [string],
      "new_chart_data": { "kind": string, "categories": [string], "values": [number], "metric_label": string },
      "addressed_issues": [string] }
  ]
}
Omit any field you are not changing.
`)

	raw, err := q.llm.Generate(ctx, sb.String(), reviewSystemPrompt, 0.3, 3000)
	if err != nil {
		q.logger.Printf("fix generation call failed, skipping patch: %v", err)
		return nil
	}

	var wire struct {
		Fixes []struct {
			SlideIndex      int                    `json:"slide_index"`
			NewTitle        string                 `json:"new_title"`
			NewBullets      []string               `json:"new_bullets"`
			NewChartData    map[string]interface{} `json:"new_chart_data"`
			AddressedIssues []string               `json:"addressed_issues"`
		} `json:"fixes"`
	}
	if err := DecodeLLMObject(raw, &wire); err != nil {
		q.logger.Printf("fix response unparseable, skipping patch: %v", err)
		return nil
	}

	out := make([]SlideFeedback, 0, len(wire.Fixes))
	for _, f := range wire.Fixes {
		fb := SlideFeedback{
			SlideIndex:      f.SlideIndex,
			NewTitle:        f.NewTitle,
			NewBullets:      f.NewBullets,
			AddressedIssues: f.AddressedIssues,
		}
		if f.NewChartData != nil {
			cd := DecodeChartData(f.NewChartData)
			fb.NewChartData = &cd
		}
		out = append(out, fb)
	}
	return out
}

// AggregateScore folds a report into the terminal QualityScore. The
// derived mece/so-what/visual sub-scores start at 80 and lose a fixed
// penalty per matching issue, floored at 0; the overall score is a
// fixed weighted sum clamped to [0,100].
func AggregateScore(report SlideQualityReport, iterationsRun int) QualityScore {
	mece := derivedScoreBase
	soWhat := derivedScoreBase
	visual := derivedScoreBase
	for _, issue := range report.Issues {
		switch issue.Type {
		case IssueMECEViolation:
			mece -= meceViolationPenalty
		case IssueMissingSoWhat:
			soWhat -= missingSoWhatPenalty
		case IssueTooDense, IssueTooSparse:
			visual -= densityIssuePenalty
		}
	}
	mece = floorScore(mece)
	soWhat = floorScore(soWhat)
	visual = floorScore(visual)

	overall := overallScore(report.NarrativeFlow, mece, soWhat, report.InformationDensity, report.ChartQuality, visual)

	suggestions := append([]string(nil), report.Suggestions...)
	for i, issue := range report.Issues {
		if i >= 3 {
			break
		}
		suggestions = append(suggestions, issue.Description)
	}
	if len(suggestions) > 6 {
		suggestions = suggestions[:6]
	}

	return QualityScore{
		NarrativeFlow:      report.NarrativeFlow,
		MECEScore:          mece,
		SoWhatScore:        soWhat,
		InformationDensity: report.InformationDensity,
		ChartQuality:       report.ChartQuality,
		VisualScore:        visual,
		Overall:            overall,
		Suggestions:        suggestions,
		IterationsRun:      iterationsRun,
		FinalReport:        report,
	}
}

// overallScore is the fixed weighted sum over the six dimensions,
// truncated to an int and clamped to [0,100].
func overallScore(narrative, mece, soWhat, density, chart, visual int) int {
	overall := int(0.25*float64(narrative) +
		0.25*float64(mece) +
		0.25*float64(soWhat) +
		0.15*float64(density) +
		0.05*float64(chart) +
		0.05*float64(visual))
	return clampScore(overall)
}

func floorScore(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
