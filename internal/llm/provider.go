// Package llm is the language-model backend adapter behind the
// Diagnosis and MetaCognitive agents. It supports the four providers
// named by the SelfHealingPolicy CRD (claude, openai, gemini, ollama);
// Gemini is grounded on kube-rca-backend's genai-based embedding client,
// OpenAI on jinterlante1206-AleutianLocal's go-openai usage, and
// claude/ollama on thin net/http adapters since no pack example imports
// an SDK for either.
package llm

import (
	"context"
	"time"
)

// Provider is what the Diagnosis and MetaCognitive agents need from a
// language model: free-form completion (used for hypothesis synthesis
// and plan rationale) and embedding (used by the Knowledge Store).
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Config selects and parameterizes one provider.
type Config struct {
	Provider string // claude | openai | gemini | ollama
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// New constructs the Provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg)
	case "claude":
		return newClaudeProvider(cfg), nil
	case "ollama":
		return newOllamaProvider(cfg), nil
	default: // gemini
		return newGeminiProvider(cfg)
	}
}
