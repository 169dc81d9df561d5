package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	recist "github.com/recist/recist/internal/model"
)

// claudeProvider and ollamaProvider are thin net/http adapters: no
// example in the retrieval pack imports an official SDK for either
// backend, and both expose a simple JSON-in/JSON-out HTTP API, the same
// idiom the pack already uses for backends without a Go client (the
// kube-rca-backend's own internal/client/agent.go, mirador-rca's Weaviate repo).
// Neither provider offers embeddings, so Embed returns a typed error.
// There is no fallback provider: when claude or ollama is selected, the
// Knowledge Store's embedding calls fail with that error, so diagnosis
// runs without priors and outcome recording fails.

type claudeProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func newClaudeProvider(cfg Config) *claudeProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &claudeProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   "claude-3-5-sonnet-latest",
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *claudeProvider) Name() string { return "claude" }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (p *claudeProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, _ := json.Marshal(claudeRequest{
		Model:     p.model,
		System:    systemPrompt,
		Messages:  []claudeMessage{{Role: "user", Content: userPrompt}},
		MaxTokens: 2048,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", &recist.BackendUnavailable{Backend: "claude", Op: "Complete", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyLLMErr(err, "claude", "Complete")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &recist.BackendUnavailable{Backend: "claude", Op: "Complete", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &recist.ParseError{Backend: "claude", Op: "Complete", Err: err}
	}
	if len(out.Content) == 0 {
		return "", &recist.ParseError{Backend: "claude", Op: "Complete", Err: fmt.Errorf("empty completion")}
	}
	return out.Content[0].Text, nil
}

func (p *claudeProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, &recist.BackendUnavailable{Backend: "claude", Op: "Embed", Err: fmt.Errorf("claude provider does not expose an embeddings endpoint")}
}

type ollamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllamaProvider(cfg Config) *ollamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaProvider{baseURL: baseURL, model: "llama3.1", client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *ollamaProvider) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	System string `json:"system,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (p *ollamaProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, _ := json.Marshal(ollamaGenerateRequest{Model: p.model, Prompt: userPrompt, System: systemPrompt})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &recist.BackendUnavailable{Backend: "ollama", Op: "Complete", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyLLMErr(err, "ollama", "Complete")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &recist.BackendUnavailable{Backend: "ollama", Op: "Complete", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &recist.ParseError{Backend: "ollama", Op: "Complete", Err: err}
	}
	return out.Response, nil
}

func (p *ollamaProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, &recist.BackendUnavailable{Backend: "ollama", Op: "Embed", Err: fmt.Errorf("ollama provider does not expose an embeddings endpoint for this deployment")}
}

