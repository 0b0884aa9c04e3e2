package core

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// hypothesisCountHint maps deck length to the hypothesis count range
// suggested to the model. A hint only: the builder accepts whatever
// count the model returns.
func hypothesisCountHint(length string) string {
	switch length {
	case LengthShort:
		return "2-3"
	case LengthLong:
		return "5-8"
	default:
		return "3-5"
	}
}

const storylineSystemPrompt = `You are a senior management consultant structuring a presentation.
Follow these argumentation rules strictly:
- Lead with the answer: the governing thought states the conclusion up front.
- Hypotheses must be MECE: mutually exclusive, collectively exhaustive.
- Quantify every claim that can be quantified.
- Use active voice and **bold** the key terms.
- Action titles are complete, numerically specific findings, not topic labels.
Respond ONLY with the requested JSON. No prose around it.`

// StorylineBuilder turns a topic into a structured SCQA argument with
// testable hypotheses via a single generation call.
type StorylineBuilder struct {
	llm    LLMProvider
	logger *log.Logger
}

func NewStorylineBuilder(llm LLMProvider) *StorylineBuilder {
	return &StorylineBuilder{
		llm:    llm,
		logger: log.New(log.Writer(), "[STORYLINE] ", log.LstdFlags),
	}
}

// Generate issues one LLM call and maps the response into a Storyline.
// Any parse failure or missing required field is fatal and returns a
// *StorylineParseError carrying the raw response: a malformed storyline
// invalidates the whole downstream pipeline, so there is no fallback
// here.
func (b *StorylineBuilder) Generate(ctx context.Context, topic, length, brief string) (Storyline, error) {
	prompt := b.buildPrompt(topic, length, brief)

	raw, err := b.llm.Generate(ctx, prompt, storylineSystemPrompt, 0.4, 4000)
	if err != nil {
		return Storyline{}, fmt.Errorf("storyline generation call: %w", err)
	}

	var storyline Storyline
	if err := DecodeLLMObject(raw, &storyline); err != nil {
		return Storyline{}, &StorylineParseError{Raw: raw, Err: err}
	}
	if err := validateStoryline(storyline); err != nil {
		return Storyline{}, &StorylineParseError{Raw: raw, Err: err}
	}

	b.logger.Printf("storyline for %q: %d hypotheses, governing thought %q",
		topic, len(storyline.Hypotheses), truncate(storyline.GoverningThought, 80))
	return storyline, nil
}

func (b *StorylineBuilder) buildPrompt(topic, length, brief string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Build an SCQA storyline for a consulting presentation on: %s\n", topic)
	fmt.Fprintf(&sb, "Target %s hypotheses.\n", hypothesisCountHint(length))
	if brief != "" {
		fmt.Fprintf(&sb, "\nRESEARCH BRIEF (context, do not quote verbatim):\n%s\n", brief)
	}
	sb.WriteString(`
Return ONLY strict JSON with this shape:
{
  "situation": string,
  "complication": string,
  "question": string,
  "answer": string,
  "governing_thought": string,
  "key_line": string,
  "action_titles": { "situation": string, "complication": string, "recommendations": string },
  "section_bullets": { "situation": [string], "complication": [string] },
  "hypotheses": [
    { "id": number, "text": string, "claim": string, "action_title": string,
      "chart": { "type": string, "categories": [string], "values": [number], "metric_label": string } }
  ],
  "recommendations": [string],
  "slide_data": {
    "key_drivers": { "kind": "bar", "categories": [string], "values": [number], "metric_label": string },
    "waterfall": { "kind": "waterfall", "categories": [string], "values": [number], "metric_label": string }
  }
}
`)
	return sb.String()
}

func validateStoryline(s Storyline) error {
	if strings.TrimSpace(s.Situation) == "" {
		return fmt.Errorf("missing situation")
	}
	if strings.TrimSpace(s.Complication) == "" {
		return fmt.Errorf("missing complication")
	}
	if strings.TrimSpace(s.Answer) == "" {
		return fmt.Errorf("missing answer")
	}
	if len(s.Hypotheses) == 0 {
		return fmt.Errorf("no hypotheses")
	}
	for i, h := range s.Hypotheses {
		if strings.TrimSpace(h.Text) == "" {
			return fmt.Errorf("hypothesis %d has no text", i)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BriefExpander produces a short research brief for a topic before the
// storyline call. A failed expansion degrades to an empty brief rather
// than aborting the job.
type BriefExpander struct {
	llm    LLMProvider
	logger *log.Logger
}

func NewBriefExpander(llm LLMProvider) *BriefExpander {
	return &BriefExpander{
		llm:    llm,
		logger: log.New(log.Writer(), "[BRIEF] ", log.LstdFlags),
	}
}

// Expand asks the model for the angles, metrics and stakeholders worth
// covering for the topic.
func (e *BriefExpander) Expand(ctx context.Context, topic string) string {
	prompt := fmt.Sprintf(`List the key angles, quantifiable metrics, stakeholders and market forces a consulting deck on %q should cover. Answer in at most 10 short bullet lines, plain text.`, topic)
	out, err := e.llm.Generate(ctx, prompt, "", 0.3, 800)
	if err != nil {
		e.logger.Printf("brief expansion failed, continuing without: %v", err)
		return ""
	}
	return strings.TrimSpace(out)
}
