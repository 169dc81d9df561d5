package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	recist "github.com/recist/recist/internal/model"
)

// openaiProvider is grounded on jinterlante1206-AleutianLocal's use of
// github.com/sashabaranov/go-openai for chat completion and embeddings.
type openaiProvider struct {
	client         *openai.Client
	chatModel      string
	embeddingModel openai.EmbeddingModel
}

func newOpenAIProvider(cfg Config) (*openaiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &recist.BackendUnavailable{Backend: "openai", Op: "New", Err: fmt.Errorf("missing LLM_API_KEY")}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openaiProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		chatModel:      openai.GPT4oMini,
		embeddingModel: openai.AdaEmbeddingV2,
	}, nil
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", classifyLLMErr(err, "openai", "Complete")
	}
	if len(resp.Choices) == 0 {
		return "", &recist.ParseError{Backend: "openai", Op: "Complete", Err: fmt.Errorf("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, classifyLLMErr(err, "openai", "Embed")
	}
	if len(resp.Data) == 0 {
		return nil, &recist.ParseError{Backend: "openai", Op: "Embed", Err: fmt.Errorf("empty embedding result")}
	}
	return resp.Data[0].Embedding, nil
}
