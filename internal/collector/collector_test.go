package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeSource struct {
	msgs  []RawMessage
	err   error
	limit int
}

func (f *fakeSource) FetchRecentMessages(_ context.Context, _ string, limit int) ([]RawMessage, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > limit {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

var base = time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

// fixture is newest first, as the platform returns it.
func fixture() []RawMessage {
	return []RawMessage{
		{ID: "9", AuthorID: "u2", AuthorName: "bob", Content: "see the docs", Timestamp: base.Add(8 * time.Minute),
			Attachments: []Attachment{{Name: "a.png", URL: "https://x/a.png", Size: 10}}},
		{ID: "8", AuthorID: "w1", AuthorName: "[TEST] loadgen", Bot: true, Content: "synthetic line", Timestamp: base.Add(7 * time.Minute)},
		{ID: "7", AuthorID: "b1", AuthorName: "helper-bot", Bot: true, Content: "I am a bot", Timestamp: base.Add(6 * time.Minute)},
		{ID: "6", AuthorID: "u1", AuthorName: "alice", Content: "&rank", Timestamp: base.Add(5 * time.Minute)},
		{ID: "5", AuthorID: "", AuthorName: "", Content: "orphan", Timestamp: base.Add(4 * time.Minute)},
		{ID: "4", AuthorID: "u3", AuthorName: "carol", System: true, Content: "carol joined", Timestamp: base.Add(3 * time.Minute)},
		{ID: "3", AuthorID: "u3", AuthorName: "carol", Content: "", Timestamp: base.Add(2 * time.Minute)},
		{ID: "2", AuthorID: "u3", AuthorName: "carol", Timestamp: base.Add(1 * time.Minute),
			Embeds: []Embed{{Title: "Release", Description: "v2 is out", Fields: []EmbedField{{Name: "Tag", Value: "v2.0"}}}}},
		{ID: "1", AuthorID: "u1", AuthorName: "alice", Content: "Hello world", Timestamp: base},
	}
}

func TestCollect_FiltersAndOrders(t *testing.T) {
	src := &fakeSource{msgs: fixture()}
	c := New(src, Options{CommandPrefix: "&", TestAuthorMarker: "[TEST]"})

	msgs := c.Collect(context.Background(), "chan", 100)
	if src.limit != 100 {
		t.Errorf("fetch limit = %d, want 100", src.limit)
	}

	var authors []string
	for _, m := range msgs {
		authors = append(authors, m.AuthorName)
	}
	want := []string{"alice", "carol", "[TEST] loadgen", "bob"}
	if diff := cmp.Diff(want, authors); diff != "" {
		t.Errorf("surviving authors mismatch (-want +got):\n%s", diff)
	}

	if msgs[1].Content != "**Release**\nv2 is out\nTag: v2.0" {
		t.Errorf("embed content = %q", msgs[1].Content)
	}
	if msgs[1].EmbedCount != 1 {
		t.Errorf("EmbedCount = %d, want 1", msgs[1].EmbedCount)
	}
	if len(msgs[3].Attachments) != 1 {
		t.Errorf("attachments = %d, want 1", len(msgs[3].Attachments))
	}
	if msgs[0].Attachments == nil {
		t.Error("attachments should be an empty slice, not nil")
	}
}

func TestCollect_Deterministic(t *testing.T) {
	c := New(&fakeSource{msgs: fixture()}, Options{CommandPrefix: "&", TestAuthorMarker: "[TEST]"})

	first := FormatForLLM(c.Collect(context.Background(), "chan", 100), time.UTC)
	second := FormatForLLM(c.Collect(context.Background(), "chan", 100), time.UTC)
	if first != second {
		t.Fatalf("formatting is not deterministic:\n%s\n---\n%s", first, second)
	}

	lines := strings.Split(first, "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), first)
	}
	if lines[0] != "[01-20 10:00] alice: Hello world" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "[01-20 10:01] carol: **Release** / v2 is out / Tag: v2.0" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[3], "[01-20 10:08] bob:") {
		t.Errorf("line 3 = %q", lines[3])
	}
	for _, bad := range []string{"I am a bot", "&rank", "orphan", "joined"} {
		if strings.Contains(first, bad) {
			t.Errorf("transcript should not contain %q", bad)
		}
	}
}

func TestCollect_FetchErrorYieldsEmpty(t *testing.T) {
	c := New(&fakeSource{err: errors.New("forbidden")}, Options{})
	msgs := c.Collect(context.Background(), "chan", 50)
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("Collect on error = %#v, want empty slice", msgs)
	}
}

func TestFormatForLLM_Location(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	msgs := []Message{
		{AuthorName: "User1", Content: "Message 1", Timestamp: base},
		{AuthorName: "User2", Content: "Message 2", Timestamp: base.Add(time.Minute)},
	}
	got := FormatForLLM(msgs, loc)
	want := "[01-20 18:00] User1: Message 1\n[01-20 18:01] User2: Message 2"
	if got != want {
		t.Errorf("FormatForLLM = %q, want %q", got, want)
	}
	if FormatForLLM(nil, loc) != "" {
		t.Error("empty input should format to empty string")
	}
}

func TestFormatForLLM_MultiLineContent(t *testing.T) {
	msgs := []Message{
		{AuthorName: "alice", Content: "first\nsecond", Timestamp: base},
		{AuthorName: "bob", Content: "a\r\nb", Timestamp: base.Add(time.Minute)},
		{AuthorName: "carol", Content: "ok", Timestamp: base.Add(2 * time.Minute)},
	}
	got := FormatForLLM(msgs, time.UTC)
	want := "[01-20 10:00] alice: first / second\n[01-20 10:01] bob: a / b\n[01-20 10:02] carol: ok"
	if got != want {
		t.Errorf("FormatForLLM = %q, want %q", got, want)
	}
	if msgs[0].Content != "first\nsecond" {
		t.Error("message content should be left unchanged")
	}
}

func TestStatistics(t *testing.T) {
	msgs := []Message{
		{AuthorID: "1", Content: "Hello world", Timestamp: base},
		{AuthorID: "2", Content: "Hi there", Timestamp: base.Add(time.Minute),
			Attachments: []Attachment{{Name: "f"}}},
	}
	got := Statistics(msgs)
	want := Stats{
		TotalMessages:           2,
		UniqueAuthors:           2,
		TotalWords:              4,
		MessagesWithAttachments: 1,
		Timespan:                &Timespan{Start: base, End: base.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Statistics mismatch (-want +got):\n%s", diff)
	}

	empty := Statistics(nil)
	if empty.TotalMessages != 0 || empty.UniqueAuthors != 0 || empty.TotalWords != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
	if empty.Timespan != nil {
		t.Errorf("empty Timespan = %+v, want nil", empty.Timespan)
	}
}

func TestUniqueAuthors(t *testing.T) {
	msgs := []Message{{AuthorID: "1"}, {AuthorID: "1"}, {AuthorID: "2"}}
	if got := UniqueAuthors(msgs); got != 2 {
		t.Errorf("UniqueAuthors = %d, want 2", got)
	}
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{
		{ID: "1", AuthorID: "u1", Content: "a", Timestamp: base},
		{ID: "2", AuthorID: "u1", Content: "b", Timestamp: base.Add(time.Minute)},
		{ID: "3", AuthorID: "u1", Content: "c", Timestamp: base.Add(2 * time.Minute)},
	}
	got, err := src.FetchRecentMessages(context.Background(), "any", 2)
	if err != nil {
		t.Fatalf("FetchRecentMessages: %v", err)
	}
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"3", "2"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	msgs := New(src, Options{}).Collect(context.Background(), "any", 0)
	if len(msgs) != 3 || msgs[0].Content != "a" {
		t.Errorf("Collect over static source = %+v", msgs)
	}
}
