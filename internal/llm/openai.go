package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const openAISystemPrompt = "You are a careful research assistant. Reply with a single JSON object."

// OpenAIClient talks to the OpenAI chat completions API, or any server
// compatible with it.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAIClient) Name() string { return "OpenAI:" + o.model }

// GenerateJSON requests a JSON object completion for prompt.
func (o *OpenAIClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode) {
			return nil, NewPermanentError(fmt.Errorf("openai: %w", err))
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}
