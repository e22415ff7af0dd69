package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordyrad/chat-pulse/internal/config"
)

var (
	// ErrTimeout is returned when a chat call exceeds its request timeout.
	ErrTimeout = errors.New("llm request timed out")
	// ErrRateLimited marks a backend rate-limit response.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrRetriesExhausted is returned once rate-limit retries are used up.
	ErrRetriesExhausted = errors.New("llm retries exhausted")
	// ErrUnsupportedProvider is returned by NewProvider for unknown backends.
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
	// ErrMissingAPIKey is returned by NewProvider when the backend has no key.
	ErrMissingAPIKey = errors.New("missing llm api key")
)

// Provider is a generative-text backend.
type Provider interface {
	// Chat sends a single-turn completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// CountTokens estimates the prompt size without calling the model.
	CountTokens(ctx context.Context, req *ChatRequest) (int, error)
	// Name identifies the backend.
	Name() string
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// ChatResponse represents a response from the LLM.
type ChatResponse struct {
	Content    string
	Model      string
	TokensUsed int
}

// Gemini and Moonshot expose OpenAI-compatible endpoints.
const (
	geminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta/openai/"
	moonshotBaseURL = "https://api.moonshot.cn/v1"
)

// NewProvider builds the backend selected by cfg.Provider. Unknown
// providers and missing keys fail here rather than at first use.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	key := cfg.APIKey(cfg.Provider)
	policy := newCallPolicy(cfg.RequestTimeout, cfg.MaxRetries, cfg.RetryBaseDelay)

	var baseURL string
	switch cfg.Provider {
	case config.ProviderGemini:
		baseURL = geminiBaseURL
	case config.ProviderMoonshot:
		baseURL = moonshotBaseURL
	case config.ProviderOpenAI, config.ProviderAnthropic:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
	if key == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, cfg.Provider)
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	if cfg.Provider == config.ProviderAnthropic {
		return NewAnthropicClient(key, baseURL, policy), nil
	}
	return NewOpenAIClient(cfg.Provider, key, baseURL, policy), nil
}

// callPolicy applies the per-request timeout and rate-limit backoff shared by all backends.
type callPolicy struct {
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
}

func newCallPolicy(timeout time.Duration, maxRetries int, baseDelay time.Duration) callPolicy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return callPolicy{timeout: timeout, maxRetries: maxRetries, baseDelay: baseDelay}
}
