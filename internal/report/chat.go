package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/gordyrad/chat-pulse/internal/analysis"
	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
)

const (
	previewMessages = 3
	previewMaxRunes = 1024
)

var categoryLabels = map[string]string{
	analysis.CategoryTechnics: "🔧 Technics",
	analysis.CategoryArt:      "🎨 Art",
	analysis.CategoryDesign:   "🎮 Design",
	analysis.CategoryNews:     "📰 News",
	analysis.CategoryResource: "📚 Resource",
	analysis.CategoryOther:    "❓ Other",
}

// ChatOptions controls how chat posts are rendered.
type ChatOptions struct {
	CostPerMillionTokens float64
	DryRun               bool
	Location             *time.Location
}

// CategoryLabel returns the display label for a relevance category.
func CategoryLabel(category string) string {
	if l, ok := categoryLabels[category]; ok {
		return l
	}
	return categoryLabels[analysis.CategoryOther]
}

// FormatCost renders a token count with its estimated USD cost.
func FormatCost(tokens int, pricePerMillion float64, dryRun bool) string {
	s := fmt.Sprintf("%d tokens (~$%.6f)", tokens, analysis.EstimateCost(tokens, pricePerMillion))
	if dryRun {
		s += " (Dry Run)"
	}
	return s
}

// HotChannelNotice is posted to the notification channel when a channel becomes hot.
func HotChannelNotice(channelName string) string {
	return fmt.Sprintf("🔥 %s is having a lively discussion!", channelName)
}

// ApprovalRequest renders the admin prompt for a pending summary.
func ApprovalRequest(p *pipeline.PendingSummary, opts ChatOptions) string {
	var b strings.Builder
	b.WriteString("🔍 Possibly relevant discussion detected\n\n")
	fmt.Fprintf(&b, "Channel: %s\n", channelLabel(p))
	fmt.Fprintf(&b, "Messages: %d\n", p.Stats.TotalMessages)
	fmt.Fprintf(&b, "Participants: %d\n", p.Stats.UniqueAuthors)

	if r := p.Relevance; r != nil {
		fmt.Fprintf(&b, "Category: %s\n", CategoryLabel(r.Category))
		fmt.Fprintf(&b, "Confidence: %.0f%%\n", r.Confidence*100)
		reason := r.Reason
		if reason == "" {
			reason = "none"
		}
		fmt.Fprintf(&b, "Reason: %s\n", reason)
		fmt.Fprintf(&b, "Estimated cost: %s\n", FormatCost(r.TokenCount, opts.CostPerMillionTokens, opts.DryRun))
	}

	b.WriteString("\nPreview:\n")
	b.WriteString(preview(p.Messages, opts.Location))
	fmt.Fprintf(&b, "\n\nID: %s", p.ID)
	return b.String()
}

// SummaryPost renders a completed summary for the summary channel.
func SummaryPost(p *pipeline.PendingSummary, opts ChatOptions) string {
	s := p.FullSummary
	if s == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 %s\n\n", s.Title)
	fmt.Fprintf(&b, "Summary:\n%s\n\n", orNone(s.Summary))
	fmt.Fprintf(&b, "Key points:\n%s\n\n", orNone(strings.Join(s.KeyPoints, "\n")))
	fmt.Fprintf(&b, "Participants: %s\n", orNone(strings.Join(s.Participants, ", ")))
	if len(s.Resources) > 0 {
		fmt.Fprintf(&b, "\nResources:\n%s\n", strings.Join(s.Resources, "\n"))
	}
	if len(s.ActionItems) > 0 {
		fmt.Fprintf(&b, "\nAction items:\n%s\n", strings.Join(s.ActionItems, "\n"))
	}

	fmt.Fprintf(&b, "\nSource channel: %s", channelLabel(p))
	if p.Relevance != nil {
		fmt.Fprintf(&b, " | %s\n", CategoryLabel(p.Relevance.Category))
		fmt.Fprintf(&b, "Confidence: %.0f%% | Cost: %s",
			p.Relevance.Confidence*100, FormatCost(s.TokenCount, opts.CostPerMillionTokens, opts.DryRun))
	}
	return b.String()
}

// preview formats the newest messages of a conversation, truncated to fit a
// single message field.
func preview(msgs []collector.Message, loc *time.Location) string {
	if len(msgs) > previewMessages {
		msgs = msgs[len(msgs)-previewMessages:]
	}
	text := collector.FormatForLLM(msgs, loc)
	if text == "" {
		return "(none)"
	}
	runes := []rune(text)
	if len(runes) > previewMaxRunes {
		return string(runes[:previewMaxRunes-3]) + "..."
	}
	return text
}

func channelLabel(p *pipeline.PendingSummary) string {
	if p.ChannelName != "" {
		return p.ChannelName
	}
	return p.ChannelID
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
