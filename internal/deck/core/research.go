package core

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Evidence retention and confidence thresholds. These form a fixed
// three-tier table, asserted by tests; do not tune without updating
// the confidence policy everywhere it is documented.
const (
	queriesPerHypothesis = 3
	evidenceTopN         = 10

	highConfidenceMean   = 0.85
	mediumConfidenceMean = 0.7
)

// EvidenceCollector gathers and scores web research support for each
// hypothesis.
type EvidenceCollector struct {
	research        ResearchProvider
	resultsPerQuery int
	logger          *log.Logger
}

func NewEvidenceCollector(research ResearchProvider, resultsPerQuery int) *EvidenceCollector {
	if resultsPerQuery <= 0 {
		resultsPerQuery = 5
	}
	return &EvidenceCollector{
		research:        research,
		resultsPerQuery: resultsPerQuery,
		logger:          log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

// Validate issues three fixed queries per hypothesis, keeps the ten
// most relevant results, and assigns a confidence tier from their mean
// relevance. Search transport failures propagate: evidence collection
// is a fatal stage, not a degradable one.
func (c *EvidenceCollector) Validate(ctx context.Context, hypotheses []Hypothesis) (ResearchResults, error) {
	results := ResearchResults{Evidence: make([]HypothesisEvidence, 0, len(hypotheses))}

	for _, h := range hypotheses {
		queries := hypothesisQueries(h)
		var gathered []SearchResult
		for _, q := range queries {
			found, err := c.research.Search(ctx, q, c.resultsPerQuery)
			if err != nil {
				return ResearchResults{}, fmt.Errorf("research query %q for hypothesis %d: %w", q, h.ID, err)
			}
			gathered = append(gathered, found...)
		}

		evidence := scoreEvidence(h, gathered)
		c.logger.Printf("hypothesis %d: %d results retained, confidence=%s supports=%t",
			h.ID, len(evidence.Results), evidence.Confidence, evidence.Supports)
		results.Evidence = append(results.Evidence, evidence)
		results.TotalSources += len(evidence.Results)
	}

	return results, nil
}

// hypothesisQueries is the fixed query template per hypothesis: the
// literal claim plus two framing variants of the hypothesis text.
func hypothesisQueries(h Hypothesis) [queriesPerHypothesis]string {
	claim := h.Claim
	if claim == "" {
		claim = h.Text
	}
	return [queriesPerHypothesis]string{
		claim,
		h.Text + " market data",
		h.Text + " industry analysis",
	}
}

// scoreEvidence sorts gathered results by relevance descending, keeps
// the top ten, and applies the confidence threshold table to their
// mean relevance. Duplicates are deliberately not removed before the
// cut: a result surfacing under multiple queries is a relevance signal.
func scoreEvidence(h Hypothesis, gathered []SearchResult) HypothesisEvidence {
	sort.SliceStable(gathered, func(i, j int) bool {
		return gathered[i].Relevance > gathered[j].Relevance
	})
	if len(gathered) > evidenceTopN {
		gathered = gathered[:evidenceTopN]
	}

	mean := 0.0
	if len(gathered) > 0 {
		sum := 0.0
		for _, r := range gathered {
			sum += r.Relevance
		}
		mean = sum / float64(len(gathered))
	}

	ev := HypothesisEvidence{
		HypothesisID: h.ID,
		Results:      gathered,
	}
	switch {
	case mean > highConfidenceMean:
		ev.Supports = true
		ev.Confidence = ConfidenceHigh
		ev.Conclusion = fmt.Sprintf("Strong support: %d sources with mean relevance %.2f", len(gathered), mean)
	case mean > mediumConfidenceMean:
		ev.Supports = true
		ev.Confidence = ConfidenceMedium
		ev.Conclusion = fmt.Sprintf("Moderate support: %d sources with mean relevance %.2f", len(gathered), mean)
	default:
		ev.Supports = false
		ev.Confidence = ConfidenceLow
		ev.Conclusion = fmt.Sprintf("Insufficient support: %d sources with mean relevance %.2f", len(gathered), mean)
	}
	return ev
}

// topEvidenceSnippets returns the n highest-relevance snippets across
// all hypotheses, for use as fix-generation context.
func topEvidenceSnippets(research ResearchResults, n int) []SearchResult {
	var all []SearchResult
	for _, ev := range research.Evidence {
		all = append(all, ev.Results...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Relevance > all[j].Relevance
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
