package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/consultdeck/deckgen/config"
)

func capabilityTestConfig(routing config.LLMRoutingConfig) *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.LLMProvider{
				"local": {
					Type: "mock",
					Models: map[string]config.LLMModel{
						"writer":   {Name: "writer-model"},
						"reviewer": {Name: "reviewer-model", Capabilities: []string{"review"}},
					},
				},
			},
			Routing: routing,
		},
	}
}

func TestResolveLLMRoutedNameWins(t *testing.T) {
	cfg := capabilityTestConfig(config.LLMRoutingConfig{Review: "writer-model"})
	p, err := NewRegistry().ResolveLLM(cfg, "review")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if p.ModelName() != "writer-model" {
		t.Fatalf("expected routed model to win over capabilities, got %s", p.ModelName())
	}
}

func TestResolveLLMByCapability(t *testing.T) {
	cfg := capabilityTestConfig(config.LLMRoutingConfig{})
	p, err := NewRegistry().ResolveLLM(cfg, "review")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if p.ModelName() != "reviewer-model" {
		t.Fatalf("expected capability match reviewer-model, got %s", p.ModelName())
	}

	if _, err := NewRegistry().ResolveLLM(cfg, "storyline"); err == nil {
		t.Fatalf("expected error for role with no routed name and no capability")
	}
}

func TestOpenAIReportsTokenUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":120,"completion_tokens":45}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.LLMProvider{
				"openai": {
					Type:    "openai",
					APIKey:  "test-key",
					BaseURL: srv.URL,
					Models: map[string]config.LLMModel{
						"main": {Name: "gpt-5", MaxTokens: 256},
					},
				},
			},
			Routing: config.LLMRoutingConfig{Storyline: "gpt-5"},
		},
	}

	var gotModel string
	var gotPrompt, gotCompletion int
	registry := NewRegistry()
	registry.SetUsageRecorder(func(model string, promptTokens, completionTokens int) {
		gotModel = model
		gotPrompt = promptTokens
		gotCompletion = completionTokens
	})
	p, err := registry.ResolveLLM(cfg, "storyline")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := p.Generate(context.Background(), "prompt", "", 0.2, 0); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if gotModel != "gpt-5" || gotPrompt != 120 || gotCompletion != 45 {
		t.Fatalf("usage not recorded: model=%s prompt=%d completion=%d", gotModel, gotPrompt, gotCompletion)
	}
}
