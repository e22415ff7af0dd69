package analysis

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordyrad/chat-pulse/internal/store"
)

// Stage names, also used as cache and call-log labels.
const (
	StageRelevance = "relevance"
	StageSummary   = "summary"
)

// Options configures a pipeline stage.
type Options struct {
	// DryRun counts tokens but skips the chat call.
	DryRun bool
	// CostPerMillionTokens prices the token estimate for logging.
	CostPerMillionTokens float64
	// Location renders transcript timestamps. Nil means UTC.
	Location *time.Location
	Logger   *slog.Logger
}

// stageRunner carries the protocol shared by both stages: count tokens,
// honor dry run, consult the cache, then chat.
type stageRunner struct {
	name     string
	provider Provider
	store    *store.Store
	model    string
	system   string
	opts     Options
	logger   *slog.Logger
}

func newStageRunner(name string, p Provider, s *store.Store, model, system string, opts Options) stageRunner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return stageRunner{
		name:     name,
		provider: p,
		store:    s,
		model:    model,
		system:   system,
		opts:     opts,
		logger:   logger.With("component", "analysis"),
	}
}

// stageOutput is the raw result of one stage invocation.
type stageOutput struct {
	raw    string
	tokens int
	dryRun bool
}

func (r stageRunner) run(ctx context.Context, userPrompt string) (*stageOutput, error) {
	req := &ChatRequest{SystemPrompt: r.system, UserPrompt: userPrompt, Model: r.model}

	tokens, err := r.provider.CountTokens(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("counting %s tokens: %w", r.name, err)
	}
	r.logger.Info("llm token cost",
		"stage", r.name,
		"model", r.model,
		"tokens", tokens,
		"est_cost_usd", fmt.Sprintf("%.6f", EstimateCost(tokens, r.opts.CostPerMillionTokens)),
		"dry_run", r.opts.DryRun,
	)

	if r.opts.DryRun {
		r.logCall(ctx, &store.LLMCall{TokenCount: tokens, DryRun: true, Status: "dry_run"})
		return &stageOutput{tokens: tokens, dryRun: true}, nil
	}

	promptHash := hashContent(r.system)
	cacheKey := buildCacheKey(r.name, r.model, promptHash, hashContent(userPrompt))
	if r.store != nil {
		cached, err := r.store.GetAnalysisCache(ctx, cacheKey)
		if err == nil {
			r.logCall(ctx, &store.LLMCall{TokenCount: tokens, CacheHit: true, Status: "ok"})
			return &stageOutput{raw: cached.Result, tokens: tokens}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("analysis cache lookup failed", "stage", r.name, "error", err)
		}
	}

	start := time.Now()
	resp, err := r.provider.Chat(ctx, req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		r.logCall(ctx, &store.LLMCall{TokenCount: tokens, Status: "error", ErrorMessage: err.Error(), DurationMS: elapsed})
		return nil, fmt.Errorf("LLM completion for %s: %w", r.name, err)
	}
	r.logCall(ctx, &store.LLMCall{TokenCount: tokens, Status: "ok", DurationMS: elapsed})

	// Responses without a JSON object are not cached so a retry asks the model again.
	if _, ok := ExtractJSONObject(resp.Content); ok && r.store != nil {
		if err := r.store.PutAnalysisCache(ctx, &store.AnalysisCache{
			CacheKey:   cacheKey,
			Stage:      r.name,
			Model:      r.model,
			PromptHash: promptHash,
			Result:     resp.Content,
			TokenCount: tokens,
		}); err != nil {
			r.logger.Warn("analysis cache write failed", "stage", r.name, "error", err)
		}
	}
	return &stageOutput{raw: resp.Content, tokens: tokens}, nil
}

func (r stageRunner) logCall(ctx context.Context, c *store.LLMCall) {
	if r.store == nil {
		return
	}
	c.Stage = r.name
	c.Provider = r.provider.Name()
	c.Model = r.model
	if err := r.store.LogLLMCall(ctx, c); err != nil {
		r.logger.Warn("failed to log llm call", "stage", r.name, "error", err)
	}
}

// hashContent returns the hex-encoded SHA-256 hash of the given string.
func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}

// buildCacheKey constructs a deterministic cache key from the given components.
func buildCacheKey(stage, model, promptHash, contentHash string) string {
	return hashContent(fmt.Sprintf("%s|%s|%s|%s", stage, model, promptHash, contentHash))
}
