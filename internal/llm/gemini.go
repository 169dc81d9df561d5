package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	recist "github.com/recist/recist/internal/model"
)

// geminiProvider wraps google.golang.org/genai the way kube-rca-backend's
// EmbeddingClient does, extended to also drive text generation for
// diagnosis hypotheses and plan rationale.
type geminiProvider struct {
	client         *genai.Client
	embeddingModel string
	generateModel  string
}

func newGeminiProvider(cfg Config) (*geminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &recist.BackendUnavailable{Backend: "gemini", Op: "New", Err: fmt.Errorf("missing LLM_API_KEY")}
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, &recist.BackendUnavailable{Backend: "gemini", Op: "New", Err: err}
	}
	return &geminiProvider{client: client, embeddingModel: "text-embedding-004", generateModel: "gemini-1.5-flash"}, nil
}

func (g *geminiProvider) Name() string { return "gemini" }

func (g *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, classifyLLMErr(err, "gemini", "Embed")
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, &recist.ParseError{Backend: "gemini", Op: "Embed", Err: fmt.Errorf("empty embedding result")}
	}
	return res.Embeddings[0].Values, nil
}

func (g *geminiProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := genai.Text(systemPrompt + "\n\n" + userPrompt)
	res, err := g.client.Models.GenerateContent(ctx, g.generateModel, prompt, nil)
	if err != nil {
		return "", classifyLLMErr(err, "gemini", "Complete")
	}
	if res == nil || len(res.Candidates) == 0 {
		return "", &recist.ParseError{Backend: "gemini", Op: "Complete", Err: fmt.Errorf("empty completion")}
	}
	return res.Text(), nil
}
