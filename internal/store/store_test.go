package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("db should not be nil")
	}
}

func TestMigrations(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"state_snapshots", "channel_messages", "analysis_cache", "llm_calls", "goose_db_version"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist: %v", table, err)
		}
	}
}

type snapshot struct {
	Counts map[string]int `json:"counts"`
	Note   string         `json:"note"`
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var empty snapshot
	found, err := s.LoadSnapshot(ctx, "missing", &empty)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if found {
		t.Error("missing snapshot should report not found")
	}

	if err := s.SaveSnapshot(ctx, "workflow", snapshot{Counts: map[string]int{"a": 1}, Note: "first"}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	want := snapshot{Counts: map[string]int{"b": 2}, Note: "second"}
	if err := s.SaveSnapshot(ctx, "workflow", want); err != nil {
		t.Fatalf("SaveSnapshot (replace) failed: %v", err)
	}

	var got snapshot
	found, err = s.LoadSnapshot(ctx, "workflow", &got)
	if err != nil || !found {
		t.Fatalf("LoadSnapshot = %v, %v; want found", found, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	var count int
	s.DB().QueryRow("SELECT COUNT(*) FROM state_snapshots").Scan(&count)
	if count != 1 {
		t.Errorf("snapshot rows = %d, want 1", count)
	}
}

func TestChannelMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		err := s.SaveChannelMessage(ctx, &ChannelMessage{
			ChannelID:  "-100",
			MessageID:  string(rune('1' + i)),
			AuthorID:   "42",
			AuthorName: "alice",
			Content:    text,
			SentAt:     base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveChannelMessage failed: %v", err)
		}
	}
	// An edit replaces content in place.
	if err := s.SaveChannelMessage(ctx, &ChannelMessage{
		ChannelID: "-100", MessageID: "1", AuthorID: "42", AuthorName: "alice",
		Content: "first (edited)", SentAt: base,
	}); err != nil {
		t.Fatalf("SaveChannelMessage (edit) failed: %v", err)
	}

	msgs, err := s.RecentChannelMessages(ctx, "-100", 2)
	if err != nil {
		t.Fatalf("RecentChannelMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "third" || msgs[1].Content != "second" {
		t.Errorf("order = [%q %q], want newest first", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].Attachments != "[]" {
		t.Errorf("Attachments = %q, want []", msgs[0].Attachments)
	}

	all, _ := s.RecentChannelMessages(ctx, "-100", 10)
	if all[2].Content != "first (edited)" {
		t.Errorf("edited content = %q", all[2].Content)
	}

	pruned, err := s.PruneChannelMessages(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("PruneChannelMessages failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
}

func TestAnalysisCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAnalysisCache(ctx, "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("cache miss error = %v, want sql.ErrNoRows", err)
	}

	ac := &AnalysisCache{
		CacheKey:   "k1",
		Stage:      "relevance",
		Model:      "gemini-2.5-flash",
		PromptHash: "abc",
		Result:     `{"is_relevant":true}`,
		TokenCount: 321,
	}
	if err := s.PutAnalysisCache(ctx, ac); err != nil {
		t.Fatalf("PutAnalysisCache failed: %v", err)
	}
	ac.Result = `{"is_relevant":false}`
	if err := s.PutAnalysisCache(ctx, ac); err != nil {
		t.Fatalf("PutAnalysisCache (update) failed: %v", err)
	}

	got, err := s.GetAnalysisCache(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAnalysisCache failed: %v", err)
	}
	if got.Result != `{"is_relevant":false}` {
		t.Errorf("Result = %q", got.Result)
	}
	if got.TokenCount != 321 {
		t.Errorf("TokenCount = %d, want 321", got.TokenCount)
	}
}

func TestLLMCallUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	calls := []*LLMCall{
		{Stage: "relevance", Provider: "gemini", Model: "m", TokenCount: 100, Status: "ok", CreatedAt: now.Add(-time.Hour)},
		{Stage: "summary", Provider: "gemini", Model: "m", TokenCount: 500, Status: "ok", CacheHit: true, CreatedAt: now.Add(-time.Minute)},
		{Stage: "summary", Provider: "gemini", Model: "m", TokenCount: 900, Status: "error", ErrorMessage: "boom", CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, c := range calls {
		if err := s.LogLLMCall(ctx, c); err != nil {
			t.Fatalf("LogLLMCall failed: %v", err)
		}
	}

	u, err := s.UsageSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("UsageSince failed: %v", err)
	}
	want := Usage{Calls: 2, CacheHits: 1, Tokens: 600}
	if diff := cmp.Diff(want, u); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}
}
