package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/consultdeck/deckgen/config"
)

// Registry maps capability identifiers to provider constructors. It is
// resolved once per job at pipeline start; resolved providers are then
// passed explicitly through the call chain.
type Registry struct {
	llm      map[string]func(cfg config.LLMProvider, model config.LLMModel, refine config.RefineConfig) (LLMProvider, error)
	research map[string]func(cfg config.ResearchConfig) (ResearchProvider, error)
	usage    UsageRecorder
}

// UsageRecorder receives per-call token usage from providers that
// report it.
type UsageRecorder func(model string, promptTokens, completionTokens int)

// NewRegistry returns a registry with the built-in providers wired in.
func NewRegistry() *Registry {
	r := &Registry{
		llm:      make(map[string]func(config.LLMProvider, config.LLMModel, config.RefineConfig) (LLMProvider, error)),
		research: make(map[string]func(config.ResearchConfig) (ResearchProvider, error)),
	}
	r.RegisterLLM("openai", func(cfg config.LLMProvider, model config.LLMModel, refine config.RefineConfig) (LLMProvider, error) {
		p := NewOpenAIProvider(cfg, model, refine)
		p.usage = r.usage
		return p, nil
	})
	r.RegisterLLM("mock", func(cfg config.LLMProvider, model config.LLMModel, refine config.RefineConfig) (LLMProvider, error) {
		return &MockLLMProvider{Model: model.Name}, nil
	})
	r.RegisterResearch("brave", func(cfg config.ResearchConfig) (ResearchProvider, error) {
		if cfg.BraveAPIKey == "" {
			return nil, fmt.Errorf("brave research provider requires an API key")
		}
		return &BraveResearch{apiKey: cfg.BraveAPIKey, http: NewHTTPClient(cfg.Timeout, 2, 300*time.Millisecond)}, nil
	})
	r.RegisterResearch("serper", func(cfg config.ResearchConfig) (ResearchProvider, error) {
		if cfg.SerperAPIKey == "" {
			return nil, fmt.Errorf("serper research provider requires an API key")
		}
		return &SerperResearch{apiKey: cfg.SerperAPIKey, http: NewHTTPClient(cfg.Timeout, 2, 300*time.Millisecond)}, nil
	})
	r.RegisterResearch("mock", func(cfg config.ResearchConfig) (ResearchProvider, error) {
		return &MockResearch{}, nil
	})
	return r
}

func (r *Registry) RegisterLLM(name string, factory func(config.LLMProvider, config.LLMModel, config.RefineConfig) (LLMProvider, error)) {
	r.llm[name] = factory
}

func (r *Registry) RegisterResearch(name string, factory func(config.ResearchConfig) (ResearchProvider, error)) {
	r.research[name] = factory
}

// SetUsageRecorder installs the token-usage callback passed to
// usage-reporting providers. Must be set before providers are resolved.
func (r *Registry) SetUsageRecorder(fn UsageRecorder) {
	r.usage = fn
}

// ResolveLLM finds the model for a pipeline role (storyline, review,
// fallback) and constructs its provider. Explicit routing by model name
// wins; when no routed name matches, any model declaring the role in
// its capabilities list serves it.
func (r *Registry) ResolveLLM(cfg *config.Config, role string) (LLMProvider, error) {
	var modelName string
	switch role {
	case "storyline":
		modelName = cfg.LLM.Routing.Storyline
	case "review":
		modelName = cfg.LLM.Routing.Review
	default:
		modelName = cfg.LLM.Routing.Fallback
	}
	if modelName == "" {
		modelName = cfg.LLM.Routing.Fallback
	}
	if modelName != "" {
		for _, provider := range cfg.LLM.Providers {
			for _, model := range provider.Models {
				if model.Name == modelName {
					return r.buildLLM(provider, model, cfg.Refine)
				}
			}
		}
	}
	for _, provider := range cfg.LLM.Providers {
		for _, model := range provider.Models {
			for _, capability := range model.Capabilities {
				if capability == role {
					return r.buildLLM(provider, model, cfg.Refine)
				}
			}
		}
	}
	return nil, fmt.Errorf("no provider configured for model %s (role %s)", modelName, role)
}

func (r *Registry) buildLLM(provider config.LLMProvider, model config.LLMModel, refine config.RefineConfig) (LLMProvider, error) {
	factory, ok := r.llm[provider.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
	}
	return factory(provider, model, refine)
}

// ResolveResearch constructs the configured research provider.
func (r *Registry) ResolveResearch(cfg config.ResearchConfig) (ResearchProvider, error) {
	factory, ok := r.research[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported research provider: %s", cfg.Provider)
	}
	return factory(cfg)
}

// OpenAIProvider implements LLMProvider against the OpenAI chat
// completions API. Thinking models get a materially longer per-call
// timeout than standard ones.
type OpenAIProvider struct {
	cfg    config.LLMProvider
	model  config.LLMModel
	client *http.Client
	usage  UsageRecorder

	standardTimeout time.Duration
	thinkingTimeout time.Duration
}

// NewOpenAIProvider creates a provider bound to a single model.
func NewOpenAIProvider(cfg config.LLMProvider, model config.LLMModel, refine config.RefineConfig) *OpenAIProvider {
	std := refine.StandardTimeout
	if std == 0 {
		std = 2 * time.Minute
	}
	thinking := refine.ThinkingTimeout
	if thinking == 0 {
		thinking = 10 * time.Minute
	}
	return &OpenAIProvider{
		cfg:             cfg,
		model:           model,
		client:          &http.Client{},
		standardTimeout: std,
		thinkingTimeout: thinking,
	}
}

func (p *OpenAIProvider) ModelName() string { return p.model.Name }

func (p *OpenAIProvider) SupportsVision() bool { return p.model.Vision }

func (p *OpenAIProvider) callTimeout() time.Duration {
	if p.model.Thinking {
		return p.thinkingTimeout
	}
	return p.standardTimeout
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

// Generate sends a plain text chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return p.complete(ctx, messages, temperature, maxTokens)
}

// GenerateWithVision sends each image as a base64 data URL alongside
// the prompt text.
func (p *OpenAIProvider) GenerateWithVision(ctx context.Context, prompt string, imagePaths []string, system string, temperature float64, maxTokens int) (string, error) {
	if !p.model.Vision {
		return "", fmt.Errorf("model %s does not support vision", p.model.Name)
	}
	parts := []chatContentPart{{Type: "text", Text: prompt}}
	for _, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read image %s: %w", path, err)
		}
		mime := "image/png"
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".jpg" || ext == ".jpeg" {
			mime = "image/jpeg"
		}
		parts = append(parts, chatContentPart{
			Type:     "image_url",
			ImageURL: &chatImageURL{URL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))},
		})
	}
	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: parts})
	return p.complete(ctx, messages, temperature, maxTokens)
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []chatMessage, temperature float64, maxTokens int) (string, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	apiModel := p.model.APIName
	if apiModel == "" {
		apiModel = p.model.Name
	}
	if maxTokens == 0 {
		maxTokens = p.model.MaxTokens
	}

	type chatReq struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature,omitempty"`
		MaxTokens   int           `json:"max_tokens,omitempty"`
	}
	body, err := json.Marshal(chatReq{Model: apiModel, Messages: messages, Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if p.usage != nil {
		p.usage(p.model.Name, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// MockLLMProvider replays queued responses. Used by the CLI dry-run
// mode and by tests.
type MockLLMProvider struct {
	Model     string
	Responses []string
	Vision    bool

	calls int
}

func (m *MockLLMProvider) Generate(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	if len(m.Responses) == 0 {
		return "{}", nil
	}
	resp := m.Responses[m.calls%len(m.Responses)]
	m.calls++
	return resp, nil
}

func (m *MockLLMProvider) GenerateWithVision(ctx context.Context, prompt string, imagePaths []string, system string, temperature float64, maxTokens int) (string, error) {
	return m.Generate(ctx, prompt, system, temperature, maxTokens)
}

func (m *MockLLMProvider) SupportsVision() bool { return m.Vision }

func (m *MockLLMProvider) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}
