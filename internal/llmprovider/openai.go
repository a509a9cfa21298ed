package llmprovider

import (
	"context"
	"fmt"

	openailib "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider over the OpenAI chat completions API
// (and any OpenAI-compatible endpoint reachable via a custom base URL).
type OpenAIProvider struct {
	client *openailib.Client
	model  string
}

// NewOpenAIProvider builds a provider against apiKey. baseURL overrides the
// default endpoint when set, letting the same client talk to
// OpenAI-compatible gateways.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openailib.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openailib.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	msgs := make([]openailib.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openailib.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	ccreq := openailib.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		ccreq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		ccreq.Temperature = float32(req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, ccreq)
	if err != nil {
		return Response{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai generate: no choices returned")
	}

	return Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) Healthy(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}
