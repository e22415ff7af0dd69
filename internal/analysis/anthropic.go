package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient implements Provider using the Anthropic Claude API.
type AnthropicClient struct {
	client *anthropic.Client
	policy callPolicy
}

// NewAnthropicClient creates a new Anthropic Claude client. An empty baseURL uses the public API.
func NewAnthropicClient(apiKey, baseURL string, policy callPolicy) *AnthropicClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
		policy: policy,
	}
}

// Name returns the backend name.
func (c *AnthropicClient) Name() string { return "anthropic" }

// CountTokens estimates the prompt size locally.
func (c *AnthropicClient) CountTokens(_ context.Context, req *ChatRequest) (int, error) {
	return EstimateTokens(req.SystemPrompt, req.UserPrompt), nil
}

// Chat sends a messages request to the Anthropic Claude API.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	temperatureF32 := float32(temperature)

	apiReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Temperature: &temperatureF32,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(req.UserPrompt),
		},
	}
	if req.SystemPrompt != "" {
		apiReq.MultiSystem = []anthropic.MessageSystemPart{
			anthropic.NewSystemMessagePart(req.SystemPrompt),
		}
	}

	return c.policy.do(ctx, func(ctx context.Context) (*ChatResponse, error) {
		resp, err := c.client.CreateMessages(ctx, apiReq)
		if err != nil {
			return nil, fmt.Errorf("anthropic API error: %w", err)
		}
		return &ChatResponse{
			Content:    resp.GetFirstContentText(),
			Model:      string(resp.Model),
			TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}, nil
	}, isAnthropicRateLimit)
}

func isAnthropicRateLimit(err error) bool {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimitErr()
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
