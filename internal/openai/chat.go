package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultChatModel is the model used for answer synthesis when none is requested.
const DefaultChatModel = openai.GPT4oMini

// ChatAPI defines the interface for chat completions
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatClient wraps the OpenAI chat completions API for grounded answer synthesis.
type ChatClient struct {
	api ChatAPI
}

// NewChatClient creates a new chat client.
func NewChatClient(apiKey string) *ChatClient {
	return &ChatClient{api: openai.NewClient(apiKey)}
}

// NewChatClientWithAPI creates a ChatClient backed by a custom ChatAPI (for tests).
func NewChatClientWithAPI(api ChatAPI) *ChatClient {
	return &ChatClient{api: api}
}

// Complete issues a single chat completion and returns the answer text and
// the provider-reported total token usage.
func (c *ChatClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float32) (string, int, error) {
	if model == "" {
		model = DefaultChatModel
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, errors.New("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}
