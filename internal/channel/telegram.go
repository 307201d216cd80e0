package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"mathbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramAPI is the subset of *tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Channel for Telegram Bot.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	api      telegramAPI
	username string
	bus      domain.MessageBus
	logger   *slog.Logger
	sleep    func(time.Duration)
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.api = bot
	t.username = bot.Self.UserName
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", msg.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" || msg.IsCommand() {
		return
	}

	direct := msg.Chat.IsPrivate()
	if t.username != "" {
		mention := "@" + t.username
		if strings.Contains(text, mention) {
			direct = true
			text = strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
		}
	}

	var threadID string
	if msg.ReplyToMessage != nil {
		threadID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
		"direct", direct,
	)

	t.bus.Publish(domain.IncomingEvent{
		ID:        uuid.NewString(),
		Platform:  t.Name(),
		ChannelID: strconv.FormatInt(chatID, 10),
		ThreadID:  threadID,
		MessageID: strconv.Itoa(msg.MessageID),
		AuthorID:  strconv.FormatInt(userID, 10),
		RawText:   text,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Direct:    direct,
	})
}

// Send replies to the thread message, chunking long text, and sends the
// attachment as a photo.
func (t *Telegram) Send(ctx context.Context, reply domain.OutgoingReply) error {
	if t.api == nil {
		return errors.New("telegram: not connected")
	}
	chatID, err := strconv.ParseInt(reply.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	replyTo, _ := strconv.Atoi(reply.ThreadID)

	if strings.TrimSpace(reply.Text) != "" {
		for _, chunk := range splitMessage(reply.Text, telegramMaxMsgLen) {
			if err := t.sendChunk(ctx, chatID, replyTo, chunk); err != nil {
				return err
			}
		}
	}
	if a := reply.Attachment; a != nil {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: a.Filename, Bytes: a.Data})
		photo.Caption = a.Title
		photo.ReplyToMessageID = replyTo
		if _, err := t.api.Send(photo); err != nil {
			return fmt.Errorf("%w: telegram send photo: %v", domain.ErrVisualizationFailed, err)
		}
	}
	return nil
}

// Acknowledge shows the typing indicator while the answer is prepared.
func (t *Telegram) Acknowledge(ctx context.Context, ev domain.IncomingEvent) error {
	if t.api == nil {
		return nil
	}
	chatID, err := strconv.ParseInt(ev.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	// sendChatAction answers with a bare `true`, so Send would fail to decode it.
	_, err = t.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the parse mode first, fall back to plain text on a parse
// error, retry with backoff otherwise.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, replyTo int, text string) error {
	const maxRetries = telegramMaxSendRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			t.sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt: retry as plain text right away.
		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			t.sleep(backoff)
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", maxRetries+1)
	return fmt.Errorf("telegram send: %w", lastErr)
}
