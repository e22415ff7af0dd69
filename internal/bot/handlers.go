package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gordyrad/chat-pulse/internal/pipeline"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "help":
		b.handleHelp(chatID)
	case "pending":
		b.handlePending(chatID)
	case "dismiss":
		b.handleDismiss(ctx, chatID, args)
	case "reset":
		b.handleReset(ctx, chatID)
	}
}

func (b *Bot) handleHelp(chatID int64) {
	b.SendMessage(chatID, `Admin commands:
/pending - list summaries awaiting a decision or in error
/dismiss <id> - remove a summary that failed to generate
/reset - clear all activity windows and cooldowns`)
}

func (b *Bot) handlePending(chatID int64) {
	if b.workflow == nil {
		return
	}
	b.SendMessage(chatID, FormatPendingList(b.workflow.List(), b.chatOpts.Location))
}

func (b *Bot) handleDismiss(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.SendMessage(chatID, "Usage: /dismiss <id>")
		return
	}
	if b.workflow == nil || !b.workflow.Dismiss(ctx, args) {
		b.SendMessage(chatID, fmt.Sprintf("No failed summary with id %s.", args))
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("Dismissed %s.", args))
}

func (b *Bot) handleReset(ctx context.Context, chatID int64) {
	if b.detector == nil {
		return
	}
	b.detector.ResetAll(ctx)
	b.SendMessage(chatID, "Activity windows and cooldowns cleared.")
}

// FormatPendingList renders the workflow entries as a plain-text list.
func FormatPendingList(ps []*pipeline.PendingSummary, loc *time.Location) string {
	if len(ps) == 0 {
		return "No pending summaries."
	}
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending summaries (%d):\n", len(ps))
	for _, p := range ps {
		name := p.ChannelName
		if name == "" {
			name = p.ChannelID
		}
		fmt.Fprintf(&sb, "\n%s\n  %s · %s · %d messages", p.ID, name, p.Status, p.Stats.TotalMessages)
		fmt.Fprintf(&sb, "\n  created %s", p.CreatedAt.In(loc).Format("2006-01-02 15:04"))
		if p.Error != "" {
			fmt.Fprintf(&sb, "\n  error: %s", p.Error)
		}
	}
	return sb.String()
}
