package core

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// chartProtectedSlides is the number of leading slides (title,
// situation, complication) whose visualization can never be replaced by
// feedback. Title and intro slides carry no chart to replace; the
// protection is structural, not advisory.
const chartProtectedSlides = 3

// DeckRenderer turns a storyline plus evidence into a deck artifact and
// applies per-slide patches. Every render and patch writes a fresh
// uuid-stamped file; artifacts are never mutated in place.
type DeckRenderer struct {
	outputDir  string
	maxSources int
	logger     *log.Logger
}

func NewDeckRenderer(outputDir string, maxSources int) *DeckRenderer {
	if maxSources <= 0 {
		maxSources = 15
	}
	return &DeckRenderer{
		outputDir:  outputDir,
		maxSources: maxSources,
		logger:     log.New(log.Writer(), "[RENDER] ", log.LstdFlags),
	}
}

// Render builds the initial deck and writes it to a new artifact file.
func (r *DeckRenderer) Render(topic string, storyline Storyline, research ResearchResults, length string) (string, error) {
	deck := r.BuildDeck(topic, storyline, research, length)
	path, err := r.writeDeck(deck)
	if err != nil {
		return "", err
	}
	r.logger.Printf("rendered %d slides (%s) -> %s", len(deck.Slides), length, path)
	return path, nil
}

// BuildDeck assembles the slide inventory for a length tier. The
// inventory is length-monotonic: every short slide appears in medium,
// every medium slide in long.
func (r *DeckRenderer) BuildDeck(topic string, storyline Storyline, research ResearchResults, length string) Deck {
	deck := Deck{
		ID:          uuid.NewString(),
		Topic:       topic,
		Length:      length,
		Iteration:   0,
		GeneratedAt: time.Now(),
	}

	deck.Slides = append(deck.Slides, r.titleSlide(topic, storyline))
	deck.Slides = append(deck.Slides, r.sectionSlide(SlideKindSituation, "Situation", storyline.Situation, storyline, "situation"))
	deck.Slides = append(deck.Slides, r.sectionSlide(SlideKindComplication, "Complication", storyline.Complication, storyline, "complication"))

	evidenceByID := make(map[int]HypothesisEvidence, len(research.Evidence))
	for _, ev := range research.Evidence {
		evidenceByID[ev.HypothesisID] = ev
	}
	for _, h := range storyline.Hypotheses {
		deck.Slides = append(deck.Slides, r.hypothesisSlide(h, evidenceByID[h.ID]))
	}

	if length == LengthMedium || length == LengthLong {
		deck.Slides = append(deck.Slides, r.keyDriversSlide(storyline, research))
		deck.Slides = append(deck.Slides, r.waterfallSlide(storyline, research))
	}
	if length == LengthLong {
		deck.Slides = append(deck.Slides, r.frameworkSlide(storyline, research))
		deck.Slides = append(deck.Slides, r.sensitivitySlide(storyline))
	}

	deck.Slides = append(deck.Slides, r.recommendationsSlide(storyline))
	deck.Slides = append(deck.Slides, r.sourcesSlide(research))

	for i := range deck.Slides {
		deck.Slides[i].Index = i
	}
	return deck
}

func (r *DeckRenderer) titleSlide(topic string, storyline Storyline) Slide {
	return Slide{
		Kind:    SlideKindTitle,
		Title:   topic,
		Bullets: []string{storyline.GoverningThought},
		Notes:   storyline.KeyLine,
	}
}

func (r *DeckRenderer) sectionSlide(kind, fallbackTitle, body string, storyline Storyline, section string) Slide {
	title := fallbackTitle
	if at := storyline.ActionTitles[section]; at != "" {
		title = at
	}
	bullets := []string{body}
	bullets = append(bullets, storyline.SectionBullets[section]...)
	return Slide{Kind: kind, Title: title, Bullets: bullets}
}

func (r *DeckRenderer) hypothesisSlide(h Hypothesis, ev HypothesisEvidence) Slide {
	title := h.ActionTitle
	if title == "" {
		title = h.Text
	}
	bullets := []string{h.Claim}
	if ev.Conclusion != "" {
		bullets = append(bullets, ev.Conclusion)
	}
	for i, res := range ev.Results {
		if i >= 3 {
			break
		}
		bullets = append(bullets, fmt.Sprintf("%s (%s)", res.Snippet, res.Source))
	}

	slide := Slide{Kind: SlideKindHypothesis, Title: title, Bullets: bullets}
	if h.Chart != nil {
		cd := ReconcileChart(ChartData{
			Kind:        h.Chart.Type,
			Categories:  append([]string(nil), h.Chart.Categories...),
			Values:      append([]float64(nil), h.Chart.Values...),
			MetricLabel: h.Chart.MetricLabel,
		})
		slide.Chart = &cd
	}
	return slide
}

func (r *DeckRenderer) keyDriversSlide(storyline Storyline, research ResearchResults) Slide {
	chart := storylineChart(storyline, "key_drivers")
	if chart == nil {
		// synthesize from evidence volume per hypothesis
		cd := ChartData{Kind: "bar", MetricLabel: "Supporting sources"}
		for _, ev := range research.Evidence {
			cd.Categories = append(cd.Categories, fmt.Sprintf("H%d", ev.HypothesisID))
			cd.Values = append(cd.Values, float64(len(ev.Results)))
		}
		reconciled := ReconcileChart(cd)
		chart = &reconciled
	}
	return Slide{
		Kind:    SlideKindKeyDrivers,
		Title:   "Key drivers",
		Bullets: []string{storyline.KeyLine},
		Chart:   chart,
	}
}

func (r *DeckRenderer) waterfallSlide(storyline Storyline, research ResearchResults) Slide {
	chart := storylineChart(storyline, "waterfall")
	if chart == nil {
		cd := ChartData{Kind: "waterfall", MetricLabel: "Mean relevance"}
		for _, ev := range research.Evidence {
			cd.Categories = append(cd.Categories, fmt.Sprintf("H%d", ev.HypothesisID))
			cd.Values = append(cd.Values, meanRelevance(ev.Results))
		}
		reconciled := ReconcileChart(cd)
		chart = &reconciled
	} else if chart.Kind == "" {
		chart.Kind = "waterfall"
	}
	return Slide{
		Kind:  SlideKindWaterfall,
		Title: "Value bridge",
		Chart: chart,
	}
}

func (r *DeckRenderer) frameworkSlide(storyline Storyline, research ResearchResults) Slide {
	table := [][]string{{"Hypothesis", "Supports", "Confidence"}}
	evidenceByID := make(map[int]HypothesisEvidence, len(research.Evidence))
	for _, ev := range research.Evidence {
		evidenceByID[ev.HypothesisID] = ev
	}
	for _, h := range storyline.Hypotheses {
		ev := evidenceByID[h.ID]
		supports := "no"
		if ev.Supports {
			supports = "yes"
		}
		table = append(table, []string{h.Text, supports, ev.Confidence})
	}
	slide := Slide{
		Kind:  SlideKindFramework,
		Title: "Hypothesis framework",
		Table: table,
	}
	if chart := storylineChart(storyline, "framework"); chart != nil {
		slide.Chart = chart
	}
	return slide
}

func (r *DeckRenderer) sensitivitySlide(storyline Storyline) Slide {
	chart := storylineChart(storyline, "sensitivity")
	if chart == nil {
		cd := ReconcileChart(ChartData{
			Kind:        "bar",
			Categories:  []string{"Downside", "Base", "Upside"},
			Values:      []float64{-10, 0, 10},
			MetricLabel: "Impact range (%)",
		})
		chart = &cd
	}
	return Slide{
		Kind:  SlideKindSensitivity,
		Title: "Sensitivity of the answer",
		Chart: chart,
	}
}

func (r *DeckRenderer) recommendationsSlide(storyline Storyline) Slide {
	title := "Recommendations"
	if at := storyline.ActionTitles["recommendations"]; at != "" {
		title = at
	}
	bullets := storyline.Recommendations
	if len(bullets) == 0 {
		bullets = []string{storyline.Answer}
	}
	return Slide{Kind: SlideKindRecommendations, Title: title, Bullets: bullets}
}

// sourcesSlide lists sources deduplicated by URL and capped.
func (r *DeckRenderer) sourcesSlide(research ResearchResults) Slide {
	seen := make(map[string]bool)
	var bullets []string
	for _, ev := range research.Evidence {
		for _, res := range ev.Results {
			if res.URL == "" || seen[res.URL] {
				continue
			}
			seen[res.URL] = true
			bullets = append(bullets, fmt.Sprintf("%s - %s", res.Source, res.URL))
			if len(bullets) >= r.maxSources {
				return Slide{Kind: SlideKindSources, Title: "Sources", Bullets: bullets}
			}
		}
	}
	return Slide{Kind: SlideKindSources, Title: "Sources", Bullets: bullets}
}

// storylineChart decodes a free-form slide-data block by chart kind.
// Returns nil when the block is absent or not an object.
func storylineChart(storyline Storyline, key string) *ChartData {
	raw, ok := storyline.SlideData[key]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	cd := DecodeChartData(obj)
	if len(cd.Categories) == 0 {
		return nil
	}
	return &cd
}

func meanRelevance(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Relevance
	}
	return sum / float64(len(results))
}

// Patch applies per-slide feedback to a previously rendered artifact
// and writes the result as a new artifact. Title and bullet
// replacements apply to any slide; chart replacement is refused for
// the first three slides.
func (r *DeckRenderer) Patch(prevPath string, feedback []SlideFeedback, iteration int) (string, error) {
	deck, err := r.LoadDeck(prevPath)
	if err != nil {
		return "", fmt.Errorf("load previous artifact: %w", err)
	}

	patched := 0
	for _, fb := range feedback {
		if fb.SlideIndex < 0 || fb.SlideIndex >= len(deck.Slides) {
			continue
		}
		slide := &deck.Slides[fb.SlideIndex]
		if fb.NewTitle != "" {
			slide.Title = fb.NewTitle
		}
		if len(fb.NewBullets) > 0 {
			slide.Bullets = fb.NewBullets
		}
		if fb.NewChartData != nil && fb.SlideIndex >= chartProtectedSlides {
			cd := ReconcileChart(*fb.NewChartData)
			slide.Chart = &cd
		}
		patched++
	}

	deck.ID = uuid.NewString()
	deck.Iteration = iteration
	deck.GeneratedAt = time.Now()

	path, err := r.writeDeck(deck)
	if err != nil {
		return "", err
	}
	r.logger.Printf("patched %d slides (iteration %d) -> %s", patched, iteration, path)
	return path, nil
}

// LoadDeck reads a deck artifact back from disk.
func (r *DeckRenderer) LoadDeck(path string) (Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Deck{}, err
	}
	var deck Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		return Deck{}, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return deck, nil
}

func (r *DeckRenderer) writeDeck(deck Deck) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(deck, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode deck: %w", err)
	}
	path := filepath.Join(r.outputDir, fmt.Sprintf("deck_%s_iter%02d.json", deck.ID, deck.Iteration))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
