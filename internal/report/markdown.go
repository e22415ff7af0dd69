package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gordyrad/chat-pulse/internal/analysis"
	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04 MST"

// MarkdownGenerator renders workflow records as Markdown.
type MarkdownGenerator struct {
	outputDir string
	loc       *time.Location
}

// NewMarkdownGenerator creates a MarkdownGenerator that writes to outputDir
// and shows times in loc.
func NewMarkdownGenerator(outputDir string, loc *time.Location) *MarkdownGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &MarkdownGenerator{outputDir: outputDir, loc: loc}
}

// RenderList renders a table of pending summaries.
func (g *MarkdownGenerator) RenderList(ps []*pipeline.PendingSummary) string {
	var b strings.Builder
	b.WriteString("# Pending Summaries\n\n")
	if len(ps) == 0 {
		b.WriteString("_No pending summaries._\n")
		return b.String()
	}

	b.WriteString("| ID | Channel | Status | Created | Messages | Category | Confidence |\n")
	b.WriteString("|----|---------|--------|---------|----------|----------|------------|\n")
	for _, p := range ps {
		category, confidence := "—", "—"
		if p.Relevance != nil {
			category = p.Relevance.Category
			confidence = fmt.Sprintf("%.0f%%", p.Relevance.Confidence*100)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s | %s |\n",
			p.ID, channelLabel(p), p.Status, g.formatTime(&p.CreatedAt),
			p.Stats.TotalMessages, category, confidence,
		)
	}
	b.WriteString("\n")
	return b.String()
}

// Render renders one pending summary in full.
func (g *MarkdownGenerator) Render(p *pipeline.PendingSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Pending Summary %s\n\n", p.ID)
	fmt.Fprintf(&b, "> Channel: %s | Status: %s | Created: %s\n\n", channelLabel(p), p.Status, g.formatTime(&p.CreatedAt))

	if p.CompletedAt != nil {
		fmt.Fprintf(&b, "- Completed: %s\n", g.formatTime(p.CompletedAt))
	}
	if p.RejectedAt != nil {
		fmt.Fprintf(&b, "- Rejected: %s\n", g.formatTime(p.RejectedAt))
	}
	if p.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", p.Error)
	}

	b.WriteString("\n## Statistics\n\n")
	fmt.Fprintf(&b, "- Messages: %d\n", p.Stats.TotalMessages)
	fmt.Fprintf(&b, "- Participants: %d\n", p.Stats.UniqueAuthors)
	fmt.Fprintf(&b, "- Words: %d\n", p.Stats.TotalWords)
	fmt.Fprintf(&b, "- With attachments: %d\n", p.Stats.MessagesWithAttachments)
	if ts := p.Stats.Timespan; ts != nil {
		fmt.Fprintf(&b, "- Timespan: %s to %s\n", g.formatTime(&ts.Start), g.formatTime(&ts.End))
	}

	writeRelevance(&b, p.Relevance)
	writeSummary(&b, p.FullSummary)

	b.WriteString("\n## Transcript\n\n```\n")
	b.WriteString(collector.FormatForLLM(p.Messages, g.loc))
	b.WriteString("\n```\n")
	return b.String()
}

// WritePending writes the rendered summary to the output directory and
// returns the file path.
func (g *MarkdownGenerator) WritePending(p *pipeline.PendingSummary) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	filePath := filepath.Join(g.outputDir, pendingFilename(p, ".md"))
	if err := os.WriteFile(filePath, []byte(g.Render(p)), 0o644); err != nil {
		return "", fmt.Errorf("writing pending summary: %w", err)
	}
	return filePath, nil
}

func (g *MarkdownGenerator) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "—"
	}
	return t.In(g.loc).Format(timeLayout)
}

// RenderAnalysis renders a one-shot analysis of the named conversation.
func (g *MarkdownGenerator) RenderAnalysis(name string, r *pipeline.AnalyzeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Analysis: %s\n\n", name)
	fmt.Fprintf(&b, "- Messages: %d\n", r.Stats.TotalMessages)
	fmt.Fprintf(&b, "- Participants: %d\n", r.Stats.UniqueAuthors)
	if ts := r.Stats.Timespan; ts != nil {
		fmt.Fprintf(&b, "- Timespan: %s to %s\n", g.formatTime(&ts.Start), g.formatTime(&ts.End))
	}
	switch {
	case r.Relevance == nil:
		b.WriteString("- Result: not enough messages\n")
	case r.Passed:
		b.WriteString("- Result: relevant\n")
	default:
		b.WriteString("- Result: below threshold\n")
	}
	writeRelevance(&b, r.Relevance)
	writeSummary(&b, r.Summary)
	return b.String()
}

func writeRelevance(b *strings.Builder, r *analysis.RelevanceResult) {
	if r == nil {
		return
	}
	b.WriteString("\n## Relevance\n\n")
	fmt.Fprintf(b, "- Category: %s\n", CategoryLabel(r.Category))
	fmt.Fprintf(b, "- Confidence: %.0f%%\n", r.Confidence*100)
	fmt.Fprintf(b, "- Reason: %s\n", orNone(r.Reason))
	fmt.Fprintf(b, "- Tokens: %d\n", r.TokenCount)
}

func writeSummary(b *strings.Builder, s *analysis.Summary) {
	if s == nil {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n%s\n", s.Title, s.Summary)
	writeList(b, "Key Points", s.KeyPoints)
	writeList(b, "Resources", s.Resources)
	writeList(b, "Action Items", s.ActionItems)
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// pendingFilename generates a filename like "2025-03-01-graphics-<id>.md".
func pendingFilename(p *pipeline.PendingSummary, ext string) string {
	slug := strings.ToLower(strings.ReplaceAll(channelLabel(p), " ", "-"))
	slug = strings.ReplaceAll(slug, string(filepath.Separator), "-")
	return fmt.Sprintf("%s-%s-%s%s", p.CreatedAt.UTC().Format("2006-01-02"), slug, p.ID, ext)
}
