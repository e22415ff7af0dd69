package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/store"
)

// FetchRecentMessages serves a chat's history from the message log, newest
// first. The Bot API has no history endpoint, so only messages the bot has
// observed are available.
func (b *Bot) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]collector.RawMessage, error) {
	rows, err := b.store.RecentChannelMessages(ctx, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading channel history: %w", err)
	}

	out := make([]collector.RawMessage, 0, len(rows))
	for _, r := range rows {
		m := collector.RawMessage{
			ID:         r.MessageID,
			AuthorID:   r.AuthorID,
			AuthorName: r.AuthorName,
			Bot:        r.Bot,
			System:     r.System,
			Content:    r.Content,
			Timestamp:  r.SentAt,
		}
		if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
			b.log.Warn("decode attachments", "channel_id", channelID, "message_id", r.MessageID, "error", err)
		}
		if err := json.Unmarshal([]byte(r.Embeds), &m.Embeds); err != nil {
			b.log.Warn("decode embeds", "channel_id", channelID, "message_id", r.MessageID, "error", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func toChannelMessage(msg *tgbotapi.Message) *store.ChannelMessage {
	m := &store.ChannelMessage{
		ChannelID: chatKey(msg.Chat.ID),
		MessageID: strconv.Itoa(msg.MessageID),
		System:    isServiceMessage(msg),
		Content:   msg.Text,
		SentAt:    msg.Time(),
	}
	if m.Content == "" {
		m.Content = msg.Caption
	}
	if msg.From != nil {
		m.AuthorID = strconv.FormatInt(msg.From.ID, 10)
		m.AuthorName = displayName(msg.From)
		m.Bot = msg.From.IsBot
	}

	if atts := attachments(msg); len(atts) > 0 {
		if data, err := json.Marshal(atts); err == nil {
			m.Attachments = string(data)
		}
	}
	return m
}

// attachments lists the files on a message. URL holds the Telegram file ID,
// which resolves to a download link only with the bot token.
func attachments(msg *tgbotapi.Message) []collector.Attachment {
	var out []collector.Attachment
	if d := msg.Document; d != nil {
		out = append(out, collector.Attachment{Name: d.FileName, URL: d.FileID, Size: int64(d.FileSize)})
	}
	if n := len(msg.Photo); n > 0 {
		p := msg.Photo[n-1]
		out = append(out, collector.Attachment{Name: "photo.jpg", URL: p.FileID, Size: int64(p.FileSize)})
	}
	return out
}

func isServiceMessage(msg *tgbotapi.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.PinnedMessage != nil ||
		msg.NewChatTitle != "" ||
		msg.GroupChatCreated ||
		msg.SuperGroupChatCreated
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
