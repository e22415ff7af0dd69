package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Provider for OpenAI and OpenAI-compatible backends.
type OpenAIClient struct {
	client *openai.Client
	name   string
	policy callPolicy
}

// NewOpenAIClient creates a client named name. An empty baseURL targets OpenAI itself.
func NewOpenAIClient(name, apiKey, baseURL string, policy callPolicy) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
		policy: policy,
	}
}

// Name returns the backend name.
func (c *OpenAIClient) Name() string { return c.name }

// CountTokens estimates the prompt size locally.
func (c *OpenAIClient) CountTokens(_ context.Context, req *ChatRequest) (int, error) {
	return EstimateTokens(req.SystemPrompt, req.UserPrompt), nil
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		Messages:    messages,
	}

	return c.policy.do(ctx, func(ctx context.Context) (*ChatResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			return nil, fmt.Errorf("%s API error: %w", c.name, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%s API returned no choices", c.name)
		}
		return &ChatResponse{
			Content:    resp.Choices[0].Message.Content,
			Model:      resp.Model,
			TokensUsed: resp.Usage.TotalTokens,
		}, nil
	}, isOpenAIRateLimit)
}

// ListModels returns the model IDs the backend exposes, sorted.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s models: %w", c.name, err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func isOpenAIRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
