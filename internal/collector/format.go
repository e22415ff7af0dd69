package collector

import (
	"strings"
	"time"
)

// TimestampLayout is the timestamp form used in LLM transcripts.
const TimestampLayout = "01-02 15:04"

// Timespan is the first and last timestamp of a message set.
type Timespan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stats summarizes a message set.
type Stats struct {
	TotalMessages           int       `json:"total_messages"`
	UniqueAuthors           int       `json:"unique_authors"`
	TotalWords              int       `json:"total_words"`
	MessagesWithAttachments int       `json:"messages_with_attachments"`
	Timespan                *Timespan `json:"timespan"`
}

// UniqueAuthors counts distinct author IDs.
func UniqueAuthors(msgs []Message) int {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.AuthorID] = struct{}{}
	}
	return len(seen)
}

// FormatForLLM renders one "[MM-DD HH:MM] name: content" line per message,
// in the given order, with timestamps shown in loc. Line breaks inside a
// message are joined with " / " so each message stays on one line.
func FormatForLLM(msgs []Message, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = "[" + m.Timestamp.In(loc).Format(TimestampLayout) + "] " + m.AuthorName + ": " + singleLine(m.Content)
	}
	return strings.Join(lines, "\n")
}

var lineBreaks = strings.NewReplacer("\r\n", " / ", "\n", " / ", "\r", " / ")

func singleLine(s string) string {
	return lineBreaks.Replace(s)
}

// Statistics computes aggregate figures for msgs. Timespan is nil when msgs is empty.
func Statistics(msgs []Message) Stats {
	st := Stats{
		TotalMessages: len(msgs),
		UniqueAuthors: UniqueAuthors(msgs),
	}
	for _, m := range msgs {
		st.TotalWords += len(strings.Fields(m.Content))
		if len(m.Attachments) > 0 {
			st.MessagesWithAttachments++
		}
	}
	if len(msgs) > 0 {
		st.Timespan = &Timespan{Start: msgs[0].Timestamp, End: msgs[len(msgs)-1].Timestamp}
	}
	return st
}
