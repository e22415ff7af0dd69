package collector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Attachment is a file attached to a chat message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// EmbedField is one name/value row of a rich embed.
type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Embed is the displayable text of a rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// RawMessage is a message as reported by the chat platform.
type RawMessage struct {
	ID          string       `json:"id"`
	AuthorID    string       `json:"author_id"`
	AuthorName  string       `json:"author_name"`
	Bot         bool         `json:"bot,omitempty"`
	System      bool         `json:"system,omitempty"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
}

// Message is the canonical record handed to the LLM stages.
type Message struct {
	AuthorID    string       `json:"author_id"`
	AuthorName  string       `json:"author_name"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
	EmbedCount  int          `json:"embed_count"`
}

// Source fetches recent channel history, newest first.
type Source interface {
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]RawMessage, error)
}

// Options configures message filtering.
type Options struct {
	// CommandPrefix marks bot commands, which are dropped.
	CommandPrefix string
	// TestAuthorMarker marks synthetic authors that are kept even though they are bots.
	TestAuthorMarker string
	// Limiter throttles fetches against the chat platform. Nil means unthrottled.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Collector turns a channel's recent history into normalized messages.
type Collector struct {
	source  Source
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Collector reading from source.
func New(source Source, opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:  source,
		opts:    opts,
		limiter: opts.Limiter,
		logger:  logger.With("component", "collector"),
	}
}

// Collect fetches up to lookback recent messages and returns the survivors
// of filtering in chronological order. Fetch failures yield an empty slice.
func (c *Collector) Collect(ctx context.Context, channelID string, lookback int) []Message {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("collector rate limiter", "channel_id", channelID, "error", err)
			return []Message{}
		}
	}

	raw, err := c.source.FetchRecentMessages(ctx, channelID, lookback)
	if err != nil {
		c.logger.Error("failed to collect messages", "channel_id", channelID, "error", err)
		return []Message{}
	}

	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if !c.keep(m) {
			continue
		}
		content := m.Content
		if content == "" {
			content = flattenEmbeds(m.Embeds)
		}
		attachments := m.Attachments
		if attachments == nil {
			attachments = []Attachment{}
		}
		msgs = append(msgs, Message{
			AuthorID:    m.AuthorID,
			AuthorName:  m.AuthorName,
			Content:     content,
			Timestamp:   m.Timestamp,
			Attachments: attachments,
			EmbedCount:  len(m.Embeds),
		})
	}
	return msgs
}

func (c *Collector) keep(m RawMessage) bool {
	if m.System || m.AuthorID == "" {
		return false
	}
	if m.Bot && (c.opts.TestAuthorMarker == "" || !strings.HasPrefix(m.AuthorName, c.opts.TestAuthorMarker)) {
		return false
	}
	if c.opts.CommandPrefix != "" && strings.HasPrefix(m.Content, c.opts.CommandPrefix) {
		return false
	}
	if m.Content == "" && len(m.Embeds) == 0 {
		return false
	}
	return true
}

func flattenEmbeds(embeds []Embed) string {
	var blocks []string
	for _, e := range embeds {
		var parts []string
		if e.Title != "" {
			parts = append(parts, "**"+e.Title+"**")
		}
		if e.Description != "" {
			parts = append(parts, e.Description)
		}
		for _, f := range e.Fields {
			parts = append(parts, f.Name+": "+f.Value)
		}
		blocks = append(blocks, strings.Join(parts, "\n"))
	}
	return strings.Join(blocks, "\n")
}

// StaticSource serves a fixed, chronologically ordered message list.
type StaticSource []RawMessage

// FetchRecentMessages returns the newest limit messages, newest first.
func (s StaticSource) FetchRecentMessages(_ context.Context, _ string, limit int) ([]RawMessage, error) {
	start := 0
	if limit > 0 && len(s) > limit {
		start = len(s) - limit
	}
	out := make([]RawMessage, 0, len(s)-start)
	for i := len(s) - 1; i >= start; i-- {
		out = append(out, s[i])
	}
	return out, nil
}
