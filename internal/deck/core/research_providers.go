package core

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// BraveResearch implements ResearchProvider using the Brave Search API.
type BraveResearch struct {
	apiKey string
	http   *HTTPClient
}

func (b *BraveResearch) Name() string { return "brave" }

func (b *BraveResearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.apiKey}
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", escapeQuery(query), maxResults(numResults))
	if err := b.http.DoJSON(ctx, "GET", url, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(resp.Web.Results))
	total := len(resp.Web.Results)
	for i, r := range resp.Web.Results {
		out = append(out, SearchResult{
			Source:    r.Title,
			URL:       r.URL,
			Snippet:   r.Description,
			Date:      r.Age,
			Relevance: rankRelevance(i, total),
		})
	}
	return out, nil
}

// SerperResearch implements ResearchProvider using serper.dev.
type SerperResearch struct {
	apiKey string
	http   *HTTPClient
}

func (s *SerperResearch) Name() string { return "serper" }

func (s *SerperResearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	var resp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": maxResults(numResults)}
	if err := s.http.DoJSON(ctx, "POST", "https://google.serper.dev/search", headers, body, &resp); err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(resp.Organic))
	total := len(resp.Organic)
	for i, r := range resp.Organic {
		out = append(out, SearchResult{
			Source:    r.Title,
			URL:       r.Link,
			Snippet:   r.Snippet,
			Date:      r.Date,
			Relevance: rankRelevance(i, total),
		})
	}
	return out, nil
}

// rankRelevance maps result rank to a [0.5, 0.95] relevance score. The
// search APIs do not expose a score, so rank order stands in for one.
func rankRelevance(index, total int) float64 {
	if total <= 1 {
		return 0.95
	}
	return 0.95 - 0.45*float64(index)/float64(total-1)
}

// MockResearch returns deterministic synthetic results keyed off the
// query text. Used when no search API key is configured and by tests.
type MockResearch struct{}

func (m *MockResearch) Name() string { return "mock" }

func (m *MockResearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	n := maxResults(numResults)
	h := fnv.New32a()
	h.Write([]byte(query))
	seed := h.Sum32()
	out := make([]SearchResult, 0, n)
	for i := 0; i < n; i++ {
		rel := 0.6 + float64((seed+uint32(i)*7)%35)/100.0
		out = append(out, SearchResult{
			Source:    fmt.Sprintf("Synthetic Source %d", i+1),
			URL:       fmt.Sprintf("https://example.com/%s/%d", slugify(query), i+1),
			Snippet:   fmt.Sprintf("Synthetic evidence for %q (result %d)", query, i+1),
			Relevance: rel,
		})
	}
	return out, nil
}

func escapeQuery(q string) string { return strings.ReplaceAll(q, " ", "+") }

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(s, "-")
}

func maxResults(n int) int {
	if n > 0 {
		return n
	}
	return 5
}
