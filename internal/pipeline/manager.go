package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gordyrad/chat-pulse/internal/analysis"
	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/config"
)

// SnapshotKey names the workflow's persisted state document.
const SnapshotKey = "summary_workflow"

// Status is the lifecycle state of a PendingSummary.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
	StatusError           Status = "error"
)

// Channel identifies a chat channel.
type Channel struct {
	ID   string
	Name string
}

// PendingSummary is a relevance-passed conversation awaiting admin approval.
type PendingSummary struct {
	ID          string                    `json:"id"`
	ChannelID   string                    `json:"channel_id"`
	ChannelName string                    `json:"channel_name"`
	CreatedAt   time.Time                 `json:"created_at"`
	Messages    []collector.Message       `json:"messages"`
	Stats       collector.Stats           `json:"stats"`
	Relevance   *analysis.RelevanceResult `json:"relevance"`
	Status      Status                    `json:"status"`
	FullSummary *analysis.Summary         `json:"full_summary,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	RejectedAt  *time.Time                `json:"rejected_at,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

func (p *PendingSummary) clone() *PendingSummary {
	c := *p
	c.Messages = slices.Clone(p.Messages)
	if p.Relevance != nil {
		r := *p.Relevance
		c.Relevance = &r
	}
	if p.FullSummary != nil {
		s := *p.FullSummary
		c.FullSummary = &s
	}
	return &c
}

// Collector fetches normalized channel history.
type Collector interface {
	Collect(ctx context.Context, channelID string, lookback int) []collector.Message
}

// Classifier is the stage-one relevance check.
type Classifier interface {
	Classify(ctx context.Context, msgs []collector.Message) (*analysis.RelevanceResult, error)
}

// Generator is the stage-two summary generator.
type Generator interface {
	Generate(ctx context.Context, msgs []collector.Message) (*analysis.Summary, error)
}

// Notifier delivers workflow output to the chat platform.
type Notifier interface {
	RequestApproval(ctx context.Context, p *PendingSummary) error
	PostSummary(ctx context.Context, p *PendingSummary) error
}

// StateStore persists whole-document state snapshots.
type StateStore interface {
	SaveSnapshot(ctx context.Context, name string, v any) error
	LoadSnapshot(ctx context.Context, name string, v any) (bool, error)
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Collector  Collector
	Classifier Classifier
	Generator  Generator
	Notifier   Notifier
	State      StateStore // optional
	Logger     *slog.Logger
}

type rateLimits struct {
	// HourlyRequests counts accepted requests per hour bucket (unix hours).
	HourlyRequests   map[string]int       `json:"hourly_requests"`
	ChannelCooldowns map[string]time.Time `json:"channel_cooldowns"`
}

type workflowState struct {
	Pending     map[string]*PendingSummary `json:"pending"`
	RateLimits  rateLimits                 `json:"rate_limits"`
	LastCleanup time.Time                  `json:"last_cleanup"`
}

// Manager owns the pending-summary workflow and its rate limits. It is safe
// for concurrent use; LLM calls run outside the lock.
type Manager struct {
	cfg    config.SummaryConfig
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	st         workflowState
	generating map[string]bool
	timers     map[string]*time.Timer
}

// NewManager creates a Manager with empty state.
func NewManager(cfg config.SummaryConfig, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With("component", "workflow"),
		now:        time.Now,
		st:         newWorkflowState(),
		generating: make(map[string]bool),
		timers:     make(map[string]*time.Timer),
	}
}

func newWorkflowState() workflowState {
	return workflowState{
		Pending: make(map[string]*PendingSummary),
		RateLimits: rateLimits{
			HourlyRequests:   make(map[string]int),
			ChannelCooldowns: make(map[string]time.Time),
		},
	}
}

// Load restores the last persisted state, if any.
func (m *Manager) Load(ctx context.Context) error {
	if m.deps.State == nil {
		return nil
	}
	st := newWorkflowState()
	found, err := m.deps.State.LoadSnapshot(ctx, SnapshotKey, &st)
	if err != nil || !found {
		return err
	}
	if st.Pending == nil {
		st.Pending = make(map[string]*PendingSummary)
	}
	if st.RateLimits.HourlyRequests == nil {
		st.RateLimits.HourlyRequests = make(map[string]int)
	}
	if st.RateLimits.ChannelCooldowns == nil {
		st.RateLimits.ChannelCooldowns = make(map[string]time.Time)
	}
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
	m.logger.Info("workflow state loaded", "pending", len(st.Pending))
	return nil
}

// HandleHotChannel runs the relevance gate for a hot channel and, when it
// passes, records a pending summary and asks an admin for approval.
// Insufficient signal and failures are logged, never returned.
func (m *Manager) HandleHotChannel(ctx context.Context, ch Channel) {
	log := m.logger.With("channel_id", ch.ID)

	if !m.cfg.Enabled {
		log.Debug("summaries disabled")
		return
	}
	if len(m.cfg.ChannelWhitelist) > 0 && !slices.Contains(m.cfg.ChannelWhitelist, ch.ID) {
		log.Debug("channel not whitelisted")
		return
	}

	msgs := m.deps.Collector.Collect(ctx, ch.ID, m.cfg.LookbackWindow)
	if len(msgs) < m.cfg.MinMessages {
		log.Info("not enough messages", "collected", len(msgs), "min", m.cfg.MinMessages)
		return
	}

	if !m.acquireRateLimit(ctx, ch.ID) {
		log.Info("rate limited, dropping hot channel")
		return
	}

	rel, err := m.deps.Classifier.Classify(ctx, msgs)
	if err != nil {
		log.Error("relevance check failed", "error", err)
		return
	}
	log.Info("relevance result",
		"relevant", rel.IsRelevant,
		"confidence", rel.Confidence,
		"category", rel.Category,
		"threshold", m.cfg.RelevanceThreshold,
		"tokens", rel.TokenCount,
	)
	if !rel.IsRelevant || rel.Confidence < m.cfg.RelevanceThreshold {
		return
	}

	p := &PendingSummary{
		ID:          uuid.NewString(),
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		CreatedAt:   m.now(),
		Messages:    msgs,
		Stats:       collector.Statistics(msgs),
		Relevance:   rel,
		Status:      StatusPendingApproval,
	}

	m.mu.Lock()
	m.st.Pending[p.ID] = p
	m.persistLocked(ctx)
	snapshot := p.clone()
	m.mu.Unlock()

	log.Info("pending summary created", "summary_id", p.ID)
	if err := m.deps.Notifier.RequestApproval(ctx, snapshot); err != nil {
		log.Error("failed to request approval", "summary_id", p.ID, "error", err)
	}
}

// acquireRateLimit admits a request when the channel is out of cooldown and
// the current hour has capacity. An admitted request is recorded.
func (m *Manager) acquireRateLimit(ctx context.Context, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rl := &m.st.RateLimits
	if last, ok := rl.ChannelCooldowns[channelID]; ok {
		if now.Sub(last) < m.cfg.ChannelCooldown {
			return false
		}
		delete(rl.ChannelCooldowns, channelID)
	}

	bucket := hourBucket(now)
	if rl.HourlyRequests[bucket] >= m.cfg.MaxRequestsPerHour {
		return false
	}
	rl.HourlyRequests[bucket]++
	rl.ChannelCooldowns[channelID] = now
	m.persistLocked(ctx)
	return true
}

// GenerateFullSummary produces and posts the full summary for an approved
// entry. Unknown ids and entries no longer awaiting approval are ignored.
func (m *Manager) GenerateFullSummary(ctx context.Context, id string) {
	log := m.logger.With("summary_id", id)

	m.mu.Lock()
	p, ok := m.st.Pending[id]
	if !ok || p.Status != StatusPendingApproval || m.generating[id] {
		m.mu.Unlock()
		log.Info("summary not awaiting approval, ignoring")
		return
	}
	m.generating[id] = true
	msgs := slices.Clone(p.Messages)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.generating, id)
		m.mu.Unlock()
	}()

	summary, err := m.deps.Generator.Generate(ctx, msgs)

	m.mu.Lock()
	p, ok = m.st.Pending[id]
	if !ok {
		m.mu.Unlock()
		log.Warn("summary expired during generation")
		return
	}
	if err != nil {
		p.Status = StatusError
		p.Error = err.Error()
		m.persistLocked(ctx)
		m.mu.Unlock()
		log.Error("summary generation failed", "error", err)
		return
	}
	completed := m.now()
	p.Status = StatusCompleted
	p.FullSummary = summary
	p.CompletedAt = &completed
	m.persistLocked(ctx)
	snapshot := p.clone()
	m.mu.Unlock()

	if err := m.deps.Notifier.PostSummary(ctx, snapshot); err != nil {
		log.Error("failed to post summary, keeping completed entry", "error", err)
		return
	}

	m.mu.Lock()
	delete(m.st.Pending, id)
	m.persistLocked(ctx)
	m.mu.Unlock()
	log.Info("summary posted", "tokens", summary.TokenCount)
}

// RejectSummary marks an entry rejected and deletes it after the grace
// period. Unknown ids are ignored.
func (m *Manager) RejectSummary(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.st.Pending[id]
	if !ok || p.Status != StatusPendingApproval {
		m.logger.Info("summary not awaiting approval, ignoring reject", "summary_id", id)
		return
	}
	rejected := m.now()
	p.Status = StatusRejected
	p.RejectedAt = &rejected
	m.persistLocked(ctx)

	m.timers[id] = time.AfterFunc(m.cfg.RejectGracePeriod, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.timers, id)
		if cur, ok := m.st.Pending[id]; ok && cur.Status == StatusRejected {
			delete(m.st.Pending, id)
			m.persistLocked(context.Background())
		}
	})
	m.logger.Info("summary rejected", "summary_id", id)
}

// Dismiss deletes an entry in the error state. It reports whether one was removed.
func (m *Manager) Dismiss(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.Pending[id]
	if !ok || p.Status != StatusError {
		return false
	}
	delete(m.st.Pending, id)
	m.persistLocked(ctx)
	return true
}

// GetPendingSummary returns a copy of the entry, or nil if id is unknown.
func (m *Manager) GetPendingSummary(id string) *PendingSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.Pending[id]
	if !ok {
		return nil
	}
	return p.clone()
}

// List returns copies of all entries, oldest first.
func (m *Manager) List() []*PendingSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedCopies(m.st.Pending)
}

// RunPeriodicMaintenance expires stale approvals, removes rejected entries
// past their grace period, and prunes elapsed rate-limit state.
func (m *Manager) RunPeriodicMaintenance(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := 0
	for id, p := range m.st.Pending {
		switch {
		case p.Status == StatusPendingApproval && now.Sub(p.CreatedAt) > m.cfg.ApprovalTimeout:
			delete(m.st.Pending, id)
			expired++
		case p.Status == StatusRejected && p.RejectedAt != nil && now.Sub(*p.RejectedAt) >= m.cfg.RejectGracePeriod:
			delete(m.st.Pending, id)
		case p.Status == StatusCompleted && p.CompletedAt != nil && now.Sub(*p.CompletedAt) > m.cfg.ApprovalTimeout:
			delete(m.st.Pending, id)
		}
	}

	current := hourBucket(now)
	for bucket := range m.st.RateLimits.HourlyRequests {
		if bucket != current {
			delete(m.st.RateLimits.HourlyRequests, bucket)
		}
	}
	for ch, last := range m.st.RateLimits.ChannelCooldowns {
		if now.Sub(last) >= m.cfg.ChannelCooldown {
			delete(m.st.RateLimits.ChannelCooldowns, ch)
		}
	}

	m.st.LastCleanup = now
	m.persistLocked(ctx)
	if expired > 0 {
		m.logger.Info("expired stale approvals", "count", expired)
	}
}

// Close stops pending reject timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.deps.State == nil {
		return
	}
	if err := m.deps.State.SaveSnapshot(ctx, SnapshotKey, m.st); err != nil {
		m.logger.Error("failed to persist workflow state", "error", err)
	}
}

// LoadPending reads the persisted pending summaries without starting a Manager.
func LoadPending(ctx context.Context, s StateStore) ([]*PendingSummary, error) {
	st := newWorkflowState()
	if _, err := s.LoadSnapshot(ctx, SnapshotKey, &st); err != nil {
		return nil, err
	}
	return sortedCopies(st.Pending), nil
}

func sortedCopies(pending map[string]*PendingSummary) []*PendingSummary {
	out := make([]*PendingSummary, 0, len(pending))
	for _, id := range slices.Sorted(maps.Keys(pending)) {
		out = append(out, pending[id].clone())
	}
	slices.SortStableFunc(out, func(a, b *PendingSummary) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func hourBucket(t time.Time) string {
	return strconv.FormatInt(t.Unix()/3600, 10)
}
