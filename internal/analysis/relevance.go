package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/store"
)

// Relevance categories.
const (
	CategoryTechnics = "technics"
	CategoryArt      = "art"
	CategoryDesign   = "design"
	CategoryNews     = "news"
	CategoryResource = "resource"
	CategoryOther    = "other"
	// CategoryError marks a result produced because the model output could not be parsed.
	CategoryError = "error"
)

var knownCategories = map[string]bool{
	CategoryTechnics: true,
	CategoryArt:      true,
	CategoryDesign:   true,
	CategoryNews:     true,
	CategoryResource: true,
	CategoryOther:    true,
}

// RelevanceResult is the stage-one verdict on a conversation.
type RelevanceResult struct {
	IsRelevant bool    `json:"isRelevant"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Reason     string  `json:"reason"`
	TokenCount int     `json:"tokenCount"`
	DryRun     bool    `json:"dryRun,omitempty"`
}

// RelevanceClassifier runs the cheap relevance check over a conversation.
type RelevanceClassifier struct {
	runner stageRunner
	opts   Options
}

// NewRelevanceClassifier creates a classifier. s may be nil to disable caching and call logging.
func NewRelevanceClassifier(p Provider, s *store.Store, model, systemPrompt string, opts Options) *RelevanceClassifier {
	return &RelevanceClassifier{
		runner: newStageRunner(StageRelevance, p, s, model, systemPrompt, opts),
		opts:   opts,
	}
}

// Classify scores msgs for relevance. Unparsable model output yields a
// fallback result; transport failures are returned as errors.
func (c *RelevanceClassifier) Classify(ctx context.Context, msgs []collector.Message) (*RelevanceResult, error) {
	userPrompt := fmt.Sprintf(
		"Decide whether the following discussion is relevant to game development:\n\n%s\n\nMessages: %d\nParticipants: %d",
		collector.FormatForLLM(msgs, c.opts.Location),
		len(msgs),
		collector.UniqueAuthors(msgs),
	)

	out, err := c.runner.run(ctx, userPrompt)
	if err != nil {
		return nil, err
	}
	if out.dryRun {
		return &RelevanceResult{
			IsRelevant: true,
			Confidence: 0.99,
			Category:   CategoryTechnics,
			Reason:     "Dry Run Mode: simulated positive relevance check",
			TokenCount: out.tokens,
			DryRun:     true,
		}, nil
	}

	return parseRelevance(out.raw, out.tokens, c.runner), nil
}

func parseRelevance(raw string, tokens int, r stageRunner) *RelevanceResult {
	var parsed struct {
		IsRelevant bool       `json:"isRelevant"`
		Confidence looseFloat `json:"confidence"`
		Category   string     `json:"category"`
		Reason     string     `json:"reason"`
	}
	if err := ParseModelJSON(raw, &parsed); err != nil {
		r.logger.Warn("unparsable relevance response", "error", err)
		return &RelevanceResult{
			Category:   CategoryError,
			Reason:     "parse failure",
			TokenCount: tokens,
		}
	}

	category := strings.ToLower(strings.TrimSpace(parsed.Category))
	if !knownCategories[category] {
		category = CategoryOther
	}
	return &RelevanceResult{
		IsRelevant: parsed.IsRelevant,
		Confidence: clamp01(float64(parsed.Confidence)),
		Category:   category,
		Reason:     parsed.Reason,
		TokenCount: tokens,
	}
}

// looseFloat decodes a JSON number or a numeric string. Any other value
// decodes as 0 instead of failing the whole response.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(string(b), `"`)), 64)
	if err != nil {
		v = 0
	}
	*f = looseFloat(v)
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
