package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/gordyrad/chat-pulse/internal/analysis"
	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/config"
	"github.com/gordyrad/chat-pulse/internal/store"
)

// fetchInterval spaces history fetches against the chat platform.
const fetchInterval = 500 * time.Millisecond

// Pipeline wires the collector, both LLM stages and the workflow manager.
type Pipeline struct {
	cfg        *config.Config
	provider   analysis.Provider
	collector  *collector.Collector
	classifier *analysis.RelevanceClassifier
	generator  *analysis.SummaryGenerator
	manager    *Manager
	logger     *slog.Logger
}

// New initializes all components and returns a ready-to-run Pipeline.
// s may be nil, which disables the response cache, call log and persistence.
func New(cfg *config.Config, s *store.Store, src collector.Source, n Notifier, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := analysis.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	prompts, err := analysis.LoadPrompts(cfg.LLM.RelevancePromptFile, cfg.LLM.SummaryPromptFile)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	opts := analysis.Options{
		DryRun:               cfg.Summary.DryRun,
		CostPerMillionTokens: cfg.Summary.CostPerMillionTokens,
		Location:             cfg.Location(),
		Logger:               logger,
	}
	classifier := analysis.NewRelevanceClassifier(provider, s, cfg.LLM.RelevanceModel, prompts.Relevance, opts)
	generator := analysis.NewSummaryGenerator(provider, s, cfg.LLM.SummaryModel, prompts.Summary, opts)

	coll := collector.New(src, collector.Options{
		CommandPrefix:    cfg.Summary.CommandPrefix,
		TestAuthorMarker: cfg.Summary.TestAuthorMarker,
		Limiter:          rate.NewLimiter(rate.Every(fetchInterval), 1),
		Logger:           logger,
	})

	deps := Deps{
		Collector:  coll,
		Classifier: classifier,
		Generator:  generator,
		Notifier:   n,
		Logger:     logger,
	}
	if s != nil {
		deps.State = s
	}

	return &Pipeline{
		cfg:        cfg,
		provider:   provider,
		collector:  coll,
		classifier: classifier,
		generator:  generator,
		manager:    NewManager(cfg.Summary, deps),
		logger:     logger.With("component", "pipeline"),
	}, nil
}

// Manager returns the workflow manager.
func (p *Pipeline) Manager() *Manager { return p.manager }

// Provider returns the configured LLM backend.
func (p *Pipeline) Provider() analysis.Provider { return p.provider }

// Close stops the manager's timers.
func (p *Pipeline) Close() {
	p.manager.Close()
}

// AnalyzeResult is the outcome of a one-shot analysis.
type AnalyzeResult struct {
	Messages  int                       `json:"messages"`
	Stats     collector.Stats           `json:"stats"`
	Relevance *analysis.RelevanceResult `json:"relevance,omitempty"`
	Passed    bool                      `json:"passed"`
	Summary   *analysis.Summary         `json:"summary,omitempty"`
}

// Analyze runs both stages over a channel's history without the approval
// workflow or rate limits. The summary stage only runs when relevance passes.
func (p *Pipeline) Analyze(ctx context.Context, channelID string) (*AnalyzeResult, error) {
	msgs := p.collector.Collect(ctx, channelID, p.cfg.Summary.LookbackWindow)
	res := &AnalyzeResult{Messages: len(msgs), Stats: collector.Statistics(msgs)}
	if len(msgs) < p.cfg.Summary.MinMessages {
		p.logger.Info("not enough messages", "channel_id", channelID, "collected", len(msgs))
		return res, nil
	}

	rel, err := p.classifier.Classify(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("relevance stage: %w", err)
	}
	res.Relevance = rel
	res.Passed = rel.IsRelevant && rel.Confidence >= p.cfg.Summary.RelevanceThreshold
	if !res.Passed {
		return res, nil
	}

	summary, err := p.generator.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("summary stage: %w", err)
	}
	res.Summary = summary
	return res, nil
}
