package core

import (
	"context"
	"fmt"
	"testing"
)

// fixedResearch returns resultsPerQuery results at a constant relevance
// for every query, recording the queries it saw.
type fixedResearch struct {
	relevance float64
	perQuery  int
	queries   []string
}

func (f *fixedResearch) Name() string { return "fixed" }

func (f *fixedResearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	n := f.perQuery
	if n == 0 {
		n = numResults
	}
	out := make([]SearchResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SearchResult{
			Source:    fmt.Sprintf("src-%d", i),
			URL:       fmt.Sprintf("https://example.com/%s/%d", query, i),
			Snippet:   "snippet",
			Relevance: f.relevance,
		})
	}
	return out, nil
}

type failingResearch struct{}

func (failingResearch) Name() string { return "failing" }
func (failingResearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	return nil, fmt.Errorf("transport down")
}

func TestScoreEvidenceConfidenceTiers(t *testing.T) {
	// single-result evidence keeps the mean bit-identical to the input
	// relevance, so the boundary cases test the comparison itself rather
	// than float accumulation error
	cases := []struct {
		relevance  float64
		confidence string
		supports   bool
	}{
		{0.9, ConfidenceHigh, true},
		{0.86, ConfidenceHigh, true},
		{0.85, ConfidenceMedium, true}, // strict > for high
		{0.8, ConfidenceMedium, true},
		{0.71, ConfidenceMedium, true},
		{0.7, ConfidenceLow, false}, // boundary: strict > for medium
		{0.3, ConfidenceLow, false},
	}
	for _, tc := range cases {
		ev := scoreEvidence(Hypothesis{ID: 1, Text: "claim", Claim: "claim"}, []SearchResult{{Relevance: tc.relevance}})
		if ev.Confidence != tc.confidence || ev.Supports != tc.supports {
			t.Fatalf("relevance %.2f: got confidence=%s supports=%t, want %s/%t",
				tc.relevance, ev.Confidence, ev.Supports, tc.confidence, tc.supports)
		}
	}
}

func TestValidateConfidenceFromAccumulatedMean(t *testing.T) {
	// 0.75 and 0.5 are exactly representable, so the mean over ten
	// results is exact too
	c := NewEvidenceCollector(&fixedResearch{relevance: 0.75, perQuery: 5}, 5)
	res, err := c.Validate(context.Background(), []Hypothesis{{ID: 1, Text: "t", Claim: "c"}})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ev := res.Evidence[0]; ev.Confidence != ConfidenceMedium || !ev.Supports {
		t.Fatalf("mean 0.75 should be medium/supports, got %s/%t", ev.Confidence, ev.Supports)
	}

	c = NewEvidenceCollector(&fixedResearch{relevance: 0.5, perQuery: 5}, 5)
	res, err = c.Validate(context.Background(), []Hypothesis{{ID: 1, Text: "t", Claim: "c"}})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ev := res.Evidence[0]; ev.Confidence != ConfidenceLow || ev.Supports {
		t.Fatalf("mean 0.5 should be low/unsupported, got %s/%t", ev.Confidence, ev.Supports)
	}
}

func TestValidateRetainsTopTen(t *testing.T) {
	// 3 queries x 5 results = 15 gathered, 10 retained
	c := NewEvidenceCollector(&fixedResearch{relevance: 0.9, perQuery: 5}, 5)
	res, err := c.Validate(context.Background(), []Hypothesis{{ID: 7, Text: "t", Claim: "c"}})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := len(res.Evidence[0].Results); got != 10 {
		t.Fatalf("expected 10 retained results, got %d", got)
	}
	if res.TotalSources != 10 {
		t.Fatalf("total sources should match retained count, got %d", res.TotalSources)
	}
	if res.Evidence[0].HypothesisID != 7 {
		t.Fatalf("hypothesis id not carried: %d", res.Evidence[0].HypothesisID)
	}
	if ev := res.Evidence[0]; ev.Confidence != ConfidenceHigh || !ev.Supports {
		t.Fatalf("mean 0.9 should be high/supports, got %s/%t", ev.Confidence, ev.Supports)
	}
}

func TestValidateQueryTemplate(t *testing.T) {
	f := &fixedResearch{relevance: 0.9, perQuery: 1}
	c := NewEvidenceCollector(f, 5)
	if _, err := c.Validate(context.Background(), []Hypothesis{{ID: 1, Text: "cloud adoption grows", Claim: "cloud spend doubles by 2027"}}); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	want := []string{
		"cloud spend doubles by 2027",
		"cloud adoption grows market data",
		"cloud adoption grows industry analysis",
	}
	if len(f.queries) != len(want) {
		t.Fatalf("expected %d queries, got %d: %v", len(want), len(f.queries), f.queries)
	}
	for i := range want {
		if f.queries[i] != want[i] {
			t.Fatalf("query %d = %q, want %q", i, f.queries[i], want[i])
		}
	}
}

func TestValidateTotalSourcesSum(t *testing.T) {
	for _, n := range []int{0, 1, 3, 6} {
		hyps := make([]Hypothesis, n)
		for i := range hyps {
			hyps[i] = Hypothesis{ID: i + 1, Text: fmt.Sprintf("h%d", i), Claim: fmt.Sprintf("c%d", i)}
		}
		c := NewEvidenceCollector(&fixedResearch{relevance: 0.8, perQuery: 2}, 2)
		res, err := c.Validate(context.Background(), hyps)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		sum := 0
		for _, ev := range res.Evidence {
			sum += len(ev.Results)
		}
		if res.TotalSources != sum {
			t.Fatalf("n=%d: TotalSources=%d, want %d", n, res.TotalSources, sum)
		}
	}
}

func TestScoreEvidenceEmptyIsLow(t *testing.T) {
	ev := scoreEvidence(Hypothesis{ID: 1}, nil)
	if ev.Confidence != ConfidenceLow || ev.Supports {
		t.Fatalf("empty evidence should be low/unsupported, got %s/%t", ev.Confidence, ev.Supports)
	}
}

func TestValidatePropagatesSearchFailure(t *testing.T) {
	c := NewEvidenceCollector(failingResearch{}, 5)
	if _, err := c.Validate(context.Background(), []Hypothesis{{ID: 1, Text: "x"}}); err == nil {
		t.Fatalf("expected transport failure to propagate")
	}
}

func TestTopEvidenceSnippets(t *testing.T) {
	research := ResearchResults{Evidence: []HypothesisEvidence{
		{HypothesisID: 1, Results: []SearchResult{{Relevance: 0.5}, {Relevance: 0.95}}},
		{HypothesisID: 2, Results: []SearchResult{{Relevance: 0.9}, {Relevance: 0.7}}},
	}}
	top := topEvidenceSnippets(research, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 snippets, got %d", len(top))
	}
	if top[0].Relevance != 0.95 || top[1].Relevance != 0.9 || top[2].Relevance != 0.7 {
		t.Fatalf("snippets not in relevance order: %+v", top)
	}
}
