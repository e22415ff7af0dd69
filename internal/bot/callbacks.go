package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/report"
)

const (
	callbackApprove = "summary_approve"
	callbackReject  = "summary_reject"
)

// RequestApproval posts the approval prompt with approve/reject buttons to
// the admin channel.
func (b *Bot) RequestApproval(_ context.Context, p *pipeline.PendingSummary) error {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Generate summary", callbackApprove+":"+p.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Ignore", callbackReject+":"+p.ID),
		),
	)
	return b.sendTo(b.cfg.Summary.AdminChannelID, report.ApprovalRequest(p, b.chatOpts), markup)
}

// PostSummary posts a completed summary to the summary channel, or back to
// the source channel when none is configured.
func (b *Bot) PostSummary(_ context.Context, p *pipeline.PendingSummary) error {
	target := b.cfg.Summary.SummaryChannelID
	if target == "" {
		target = p.ChannelID
	}
	return b.sendTo(target, report.SummaryPost(p, b.chatOpts), nil)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || !b.isAdmin(cb.From.ID) {
		b.ack(cb.ID, "Only admins can decide on summaries.")
		return
	}

	action, id, ok := strings.Cut(cb.Data, ":")
	if !ok || id == "" || b.workflow == nil {
		b.ack(cb.ID, "")
		return
	}

	b.log.Info("callback",
		"action", action,
		"summary_id", id,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case callbackApprove:
		b.ack(cb.ID, "Generating summary...")
		b.closePrompt(cb, fmt.Sprintf("✅ Approved by %s, generating summary.", displayName(cb.From)))
		b.wg.Go(func() {
			b.workflow.GenerateFullSummary(ctx, id)
		})
	case callbackReject:
		b.ack(cb.ID, "Ignored.")
		b.workflow.RejectSummary(ctx, id)
		b.closePrompt(cb, fmt.Sprintf("❌ Ignored by %s.", displayName(cb.From)))
	default:
		b.ack(cb.ID, "")
	}
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

// closePrompt removes the decision buttons and notes who decided.
func (b *Bot) closePrompt(cb *tgbotapi.CallbackQuery, note string) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cb.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := b.api.Request(edit); err != nil {
		b.log.Error("remove decision buttons", "chat_id", chatID, "error", err)
	}
	b.SendMessage(chatID, note)
}
