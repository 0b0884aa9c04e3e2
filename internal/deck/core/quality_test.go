package core

import (
	"context"
	"strings"
	"testing"
)

// countingLLM wraps MockLLMProvider and records every prompt it served.
type countingLLM struct {
	MockLLMProvider
	prompts []string
}

func (c *countingLLM) Generate(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.MockLLMProvider.Generate(ctx, prompt, system, temperature, maxTokens)
}

func TestOverallScoreFormula(t *testing.T) {
	if got := overallScore(85, 80, 90, 85, 80, 85); got != 84 {
		t.Fatalf("overallScore(85,80,90,85,80,85) = %d, want 84", got)
	}
	if got := overallScore(0, 0, 0, 0, 0, 0); got != 0 {
		t.Fatalf("all-zero overall = %d, want 0", got)
	}
	if got := overallScore(100, 100, 100, 100, 100, 100); got != 100 {
		t.Fatalf("all-hundred overall = %d, want 100", got)
	}
}

func TestAggregateScorePenalties(t *testing.T) {
	report := SlideQualityReport{
		NarrativeFlow:      85,
		InformationDensity: 85,
		ChartQuality:       80,
		Issues: []SlideIssue{
			{SlideIndex: 3, Type: IssueMissingSoWhat, Description: "no so-what on slide 3"},
			{SlideIndex: 4, Type: IssueMECEViolation, Description: "hypotheses overlap"},
			{SlideIndex: 5, Type: IssueTooDense, Description: "slide 5 is a wall of text"},
			{SlideIndex: 6, Type: IssueTooSparse, Description: "slide 6 is nearly empty"},
		},
	}
	score := AggregateScore(report, 2)
	if score.MECEScore != 70 {
		t.Fatalf("mece = %d, want 70", score.MECEScore)
	}
	if score.SoWhatScore != 70 {
		t.Fatalf("so-what = %d, want 70", score.SoWhatScore)
	}
	if score.VisualScore != 70 {
		t.Fatalf("visual = %d, want 70 (two density issues)", score.VisualScore)
	}
	if score.IterationsRun != 2 {
		t.Fatalf("iterations = %d, want 2", score.IterationsRun)
	}
	want := overallScore(85, 70, 70, 85, 80, 70)
	if score.Overall != want {
		t.Fatalf("overall = %d, want %d", score.Overall, want)
	}
}

func TestAggregateScoreFloorsDerivedScores(t *testing.T) {
	report := SlideQualityReport{NarrativeFlow: 50, InformationDensity: 50, ChartQuality: 50}
	for i := 0; i < 12; i++ {
		report.Issues = append(report.Issues, SlideIssue{Type: IssueMECEViolation})
	}
	score := AggregateScore(report, 1)
	if score.MECEScore != 0 {
		t.Fatalf("mece should floor at 0, got %d", score.MECEScore)
	}
}

func TestAggregateScoreSuggestionCap(t *testing.T) {
	report := SlideQualityReport{
		NarrativeFlow: 70, InformationDensity: 70, ChartQuality: 70,
		Suggestions: []string{"s1", "s2", "s3", "s4", "s5"},
		Issues: []SlideIssue{
			{Type: IssueWeakTitle, Description: "i1"},
			{Type: IssueWeakTitle, Description: "i2"},
			{Type: IssueWeakTitle, Description: "i3"},
			{Type: IssueWeakTitle, Description: "i4"},
		},
	}
	score := AggregateScore(report, 1)
	if len(score.Suggestions) != 6 {
		t.Fatalf("suggestions should cap at 6, got %d: %v", len(score.Suggestions), score.Suggestions)
	}
	// report suggestions come first, then issue descriptions (max 3)
	if score.Suggestions[5] != "i1" {
		t.Fatalf("expected first issue description in slot 5, got %q", score.Suggestions[5])
	}
}

const cleanReviewFixture = `{
  "issues": [],
  "information_density": 90,
  "chart_quality": 90,
  "narrative_flow": 90,
  "suggestions": ["tighten the key line"]
}`

const flaggedReviewFixture = `{
  "issues": [
    {"slide_index": 4, "type": "weak_title", "description": "title states a topic, not a finding", "fix": "rewrite as a finding"}
  ],
  "information_density": 75,
  "chart_quality": 70,
  "narrative_flow": 80,
  "suggestions": []
}`

const fixesFixture = `{
  "fixes": [
    {"slide_index": 4, "new_title": "Segment B drives 60% of margin upside",
     "new_chart_data": {"kind": "bar", "categories": ["A", "B"], "values": [40, 60], "metric_label": "Margin share (%)"},
     "addressed_issues": ["weak_title"]}
  ]
}`

func reviewFixtureDeck(t *testing.T) (Deck, Storyline, ResearchResults) {
	t.Helper()
	storyline := fixtureStoryline(3)
	research := fixtureResearch(3, 2)
	r := NewDeckRenderer(t.TempDir(), 15)
	return r.BuildDeck("topic", storyline, research, LengthMedium), storyline, research
}

func TestReviewCleanDeckSkipsFixCall(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	llm := &countingLLM{MockLLMProvider: MockLLMProvider{Responses: []string{cleanReviewFixture}}}
	q := NewQualityReviewer(llm, nil)

	report, feedback := q.Review(context.Background(), deck, "deck.json", storyline, research, 1)
	if report.NarrativeFlow != 90 || report.InformationDensity != 90 {
		t.Fatalf("report scores not carried: %+v", report)
	}
	if feedback != nil {
		t.Fatalf("clean report should yield no feedback, got %v", feedback)
	}
	if len(llm.prompts) != 1 {
		t.Fatalf("clean report should make exactly one call, got %d", len(llm.prompts))
	}
}

func TestReviewFlaggedDeckGeneratesFixes(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	llm := &countingLLM{MockLLMProvider: MockLLMProvider{Responses: []string{flaggedReviewFixture, fixesFixture}}}
	q := NewQualityReviewer(llm, nil)

	report, feedback := q.Review(context.Background(), deck, "deck.json", storyline, research, 1)
	if len(report.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(report.Issues))
	}
	if len(feedback) != 1 {
		t.Fatalf("expected 1 fix, got %d", len(feedback))
	}
	fb := feedback[0]
	if fb.SlideIndex != 4 || !strings.Contains(fb.NewTitle, "60%") {
		t.Fatalf("fix fields wrong: %+v", fb)
	}
	if fb.NewChartData == nil || len(fb.NewChartData.Categories) != 2 {
		t.Fatalf("chart data not decoded: %+v", fb.NewChartData)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("expected review+fix calls, got %d", len(llm.prompts))
	}
	if !strings.Contains(llm.prompts[1], "flagged these issues") {
		t.Fatalf("second call is not the fix prompt: %q", truncate(llm.prompts[1], 80))
	}
}

func TestReviewUnparseableFallsBackToDefault(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	llm := &MockLLMProvider{Responses: []string{"the deck looks fine to me"}}
	q := NewQualityReviewer(llm, nil)

	report, feedback := q.Review(context.Background(), deck, "deck.json", storyline, research, 3)
	if report.InformationDensity != 50 || report.ChartQuality != 50 || report.NarrativeFlow != 50 {
		t.Fatalf("default report scores wrong: %+v", report)
	}
	if report.Iteration != 3 {
		t.Fatalf("default report iteration = %d, want 3", report.Iteration)
	}
	if len(report.Issues) != 0 || feedback != nil {
		t.Fatalf("default report should carry no issues or feedback")
	}
}

func TestReviewCallFailureFallsBackToDefault(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	q := NewQualityReviewer(erroringLLM{}, nil)
	report, feedback := q.Review(context.Background(), deck, "deck.json", storyline, research, 1)
	if report.InformationDensity != 50 || feedback != nil {
		t.Fatalf("erroring provider should degrade to default report")
	}
}

func TestReviewAllZeroReportTreatedAsUnparseable(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	llm := &MockLLMProvider{Responses: []string{`{"issues": [], "information_density": 0, "chart_quality": 0, "narrative_flow": 0}`}}
	q := NewQualityReviewer(llm, nil)
	report, _ := q.Review(context.Background(), deck, "deck.json", storyline, research, 1)
	if report.InformationDensity != 50 {
		t.Fatalf("all-zero wire report should degrade to default, got %+v", report)
	}
}

func TestReviewFixParseFailureYieldsNoFeedback(t *testing.T) {
	deck, storyline, research := reviewFixtureDeck(t)
	llm := &MockLLMProvider{Responses: []string{flaggedReviewFixture, "cannot comply"}}
	q := NewQualityReviewer(llm, nil)
	report, feedback := q.Review(context.Background(), deck, "deck.json", storyline, research, 1)
	if len(report.Issues) != 1 {
		t.Fatalf("review report should survive fix failure")
	}
	if feedback != nil {
		t.Fatalf("unparseable fixes should yield nil feedback, got %v", feedback)
	}
}

func TestInspectDeckCounts(t *testing.T) {
	deck := Deck{Slides: []Slide{
		{Index: 0, Title: "Two words", Bullets: []string{"three more words"}},
		{Index: 1, Title: "Charted", Chart: &ChartData{Kind: "bar"}, Table: [][]string{{"h"}}},
	}}
	slides := InspectDeck(deck)
	if slides[0].WordCount != 5 {
		t.Fatalf("word count = %d, want 5", slides[0].WordCount)
	}
	if slides[0].ShapeCount != 2 {
		t.Fatalf("shape count = %d, want 2 (title+bullets)", slides[0].ShapeCount)
	}
	if slides[1].ShapeCount != 3 || !slides[1].HasChart || !slides[1].HasTable {
		t.Fatalf("chart/table slide inspected wrong: %+v", slides[1])
	}
}
