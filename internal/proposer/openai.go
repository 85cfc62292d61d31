package proposer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAI proposes fixes via an OpenAI-compatible chat completion endpoint.
// A custom base URL covers hosted APIs and local servers exposing the
// compatibility surface (including Ollama's /v1).
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a backend against the given endpoint and model. An empty
// endpoint uses the default OpenAI API base URL.
func NewOpenAI(endpoint, model, apiKey string, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Propose sends the failure context as a chat completion request.
func (o *OpenAI) Propose(ctx context.Context, req Request) (*Proposal, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("backend returned no choices")
	}
	return &Proposal{Raw: resp.Choices[0].Message.Content, Backend: "openai"}, nil
}

// Health verifies the endpoint answers by listing models.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	return nil
}
