package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gordyrad/chat-pulse/internal/activity"
	"github.com/gordyrad/chat-pulse/internal/config"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/report"
	"github.com/gordyrad/chat-pulse/internal/store"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Workflow is the summary workflow driven by chat events.
type Workflow interface {
	HandleHotChannel(ctx context.Context, ch pipeline.Channel)
	GenerateFullSummary(ctx context.Context, id string)
	RejectSummary(ctx context.Context, id string)
	Dismiss(ctx context.Context, id string) bool
	List() []*pipeline.PendingSummary
}

// Bot is the Telegram adapter. It records chat history, feeds the activity
// detector, and relays approval prompts and decisions for the workflow.
type Bot struct {
	api      telegramAPI
	store    *store.Store
	cfg      *config.Config
	detector *activity.Detector
	workflow Workflow
	chatOpts report.ChatOptions
	log      *slog.Logger

	// wg tracks workflow calls started from the update loop.
	wg sync.WaitGroup
}

// New creates a Bot with the configured Telegram token.
func New(cfg *config.Config, s *store.Store, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, cfg, s, log), nil
}

func newBot(api telegramAPI, cfg *config.Config, s *store.Store, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:   api,
		store: s,
		cfg:   cfg,
		chatOpts: report.ChatOptions{
			CostPerMillionTokens: cfg.Summary.CostPerMillionTokens,
			DryRun:               cfg.Summary.DryRun,
			Location:             cfg.Location(),
		},
		log: log.With("component", "bot"),
	}
}

// Attach connects the detector and workflow. The workflow is built after the
// bot because the bot is its message source and notifier.
func (b *Bot) Attach(d *activity.Detector, w Workflow) {
	b.detector = d
	b.workflow = w
}

// Run starts the long-polling loop, blocking until ctx is cancelled and all
// workflow calls it started have returned.
func (b *Bot) Run(ctx context.Context) {
	defer b.wg.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.EditedMessage != nil:
		b.record(ctx, update.EditedMessage)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		if msg.From != nil && b.isAdmin(msg.From.ID) {
			b.handleCommand(ctx, msg)
		}
		return
	}

	b.record(ctx, msg)

	if b.detector == nil {
		return
	}
	chatID := chatKey(msg.Chat.ID)
	ev := activity.Event{
		GuildID:    chatID,
		ChannelID:  chatID,
		CategoryID: msg.Chat.Type,
		At:         msg.Time(),
	}
	if msg.From != nil {
		ev.AuthorID = strconv.FormatInt(msg.From.ID, 10)
		ev.Bot = msg.From.IsBot
	}
	if !b.detector.OnMessage(ctx, ev) {
		return
	}
	b.onHotChannel(ctx, pipeline.Channel{ID: chatID, Name: chatName(msg.Chat)})
}

func (b *Bot) onHotChannel(ctx context.Context, ch pipeline.Channel) {
	b.log.Info("hot channel", "channel_id", ch.ID, "name", ch.Name)
	if id := b.cfg.Activity.NotificationChannelID; id != "" {
		if err := b.sendTo(id, report.HotChannelNotice(ch.Name), nil); err != nil {
			b.log.Error("send hot channel notice", "channel_id", id, "error", err)
		}
	}
	if b.workflow == nil {
		return
	}
	b.wg.Go(func() {
		b.workflow.HandleHotChannel(ctx, ch)
	})
}

func (b *Bot) record(ctx context.Context, msg *tgbotapi.Message) {
	if b.store == nil || msg.Chat == nil {
		return
	}
	if err := b.store.SaveChannelMessage(ctx, toChannelMessage(msg)); err != nil {
		b.log.Error("record message", "channel_id", msg.Chat.ID, "error", err)
	}
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendTo(channelID, text string, markup any) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) isAdmin(userID int64) bool {
	return slices.Contains(b.cfg.Telegram.AdminUserIDs, userID)
}

func chatKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return id, nil
}

func chatName(c *tgbotapi.Chat) string {
	switch {
	case c.Title != "":
		return c.Title
	case c.UserName != "":
		return "@" + c.UserName
	default:
		return chatKey(c.ID)
	}
}
