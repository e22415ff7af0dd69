package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ChannelMessage is one chat message observed by the bot, kept so a channel's
// recent history can be replayed for summarization.
type ChannelMessage struct {
	ID          int64
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorName  string
	Bot         bool
	System      bool
	Content     string
	Attachments string // JSON array
	Embeds      string // JSON array
	SentAt      time.Time
}

// AnalysisCache represents a cached LLM response.
type AnalysisCache struct {
	ID         int64
	CacheKey   string
	Stage      string
	Model      string
	PromptHash string
	Result     string
	TokenCount int
	CreatedAt  time.Time
}

// LLMCall is one entry in the LLM call log.
type LLMCall struct {
	ID           int64
	Stage        string
	Provider     string
	Model        string
	TokenCount   int
	DryRun       bool
	CacheHit     bool
	Status       string
	ErrorMessage string
	DurationMS   int64
	CreatedAt    time.Time
}

// Usage aggregates logged LLM calls.
type Usage struct {
	Calls     int
	CacheHits int
	Tokens    int
}

// Store provides database operations for the application.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and applies pending migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveSnapshot serializes v as JSON and replaces the snapshot stored under name.
func (s *Store) SaveSnapshot(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_snapshots (name, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			body=excluded.body,
			updated_at=excluded.updated_at
	`, name, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot stored under name into v. It reports
// false when no snapshot exists.
func (s *Store) LoadSnapshot(ctx context.Context, name string, v any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM state_snapshots WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	return true, nil
}

// SaveChannelMessage records a message. Edits to a known message replace its content.
func (s *Store) SaveChannelMessage(ctx context.Context, m *ChannelMessage) error {
	attachments, embeds := m.Attachments, m.Embeds
	if attachments == "" {
		attachments = "[]"
	}
	if embeds == "" {
		embeds = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_messages (channel_id, message_id, author_id, author_name, is_bot, is_system, content, attachments, embeds, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, message_id) DO UPDATE SET
			content=excluded.content,
			author_name=excluded.author_name,
			attachments=excluded.attachments,
			embeds=excluded.embeds
	`, m.ChannelID, m.MessageID, m.AuthorID, m.AuthorName, m.Bot, m.System, m.Content,
		attachments, embeds, m.SentAt.UnixMilli())
	return err
}

// RecentChannelMessages returns up to limit messages for a channel, newest first.
func (s *Store) RecentChannelMessages(ctx context.Context, channelID string, limit int) ([]*ChannelMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, message_id, author_id, author_name, is_bot, is_system, content, attachments, embeds, sent_at
		FROM channel_messages
		WHERE channel_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*ChannelMessage
	for rows.Next() {
		m := &ChannelMessage{}
		var authorID, authorName sql.NullString
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.MessageID, &authorID, &authorName,
			&m.Bot, &m.System, &m.Content, &m.Attachments, &m.Embeds, &sentAt); err != nil {
			return nil, err
		}
		m.AuthorID = authorID.String
		m.AuthorName = authorName.String
		m.SentAt = time.UnixMilli(sentAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PruneChannelMessages deletes messages sent before cutoff and returns how many were removed.
func (s *Store) PruneChannelMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_messages WHERE sent_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetAnalysisCache retrieves a cached response. It returns sql.ErrNoRows on a miss.
func (s *Store) GetAnalysisCache(ctx context.Context, cacheKey string) (*AnalysisCache, error) {
	ac := &AnalysisCache{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cache_key, stage, model, prompt_hash, result, token_count, created_at
		FROM analysis_cache WHERE cache_key = ?`, cacheKey).Scan(
		&ac.ID, &ac.CacheKey, &ac.Stage, &ac.Model, &ac.PromptHash, &ac.Result, &ac.TokenCount, &createdAt)
	if err != nil {
		return nil, err
	}
	ac.CreatedAt = time.UnixMilli(createdAt)
	return ac, nil
}

// PutAnalysisCache stores a response in the cache.
func (s *Store) PutAnalysisCache(ctx context.Context, ac *AnalysisCache) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (cache_key, stage, model, prompt_hash, result, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			result=excluded.result,
			token_count=excluded.token_count,
			created_at=excluded.created_at
	`, ac.CacheKey, ac.Stage, ac.Model, ac.PromptHash, ac.Result, ac.TokenCount, time.Now().UnixMilli())
	return err
}

// LogLLMCall inserts an LLM call log entry.
func (s *Store) LogLLMCall(ctx context.Context, c *LLMCall) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (stage, provider, model, token_count, dry_run, cache_hit, status, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Stage, c.Provider, c.Model, c.TokenCount, c.DryRun, c.CacheHit, c.Status, c.ErrorMessage, c.DurationMS, created.UnixMilli())
	return err
}

// UsageSince totals the LLM calls logged at or after since.
func (s *Store) UsageSince(ctx context.Context, since time.Time) (Usage, error) {
	var u Usage
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cache_hit), 0), COALESCE(SUM(token_count), 0)
		FROM llm_calls WHERE created_at >= ?`, since.UnixMilli()).Scan(&u.Calls, &u.CacheHits, &u.Tokens)
	return u, err
}
