package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramConfig for the relay
type TelegramConfig struct {
	Token   string
	ChatID  int64
	TopicID int    // forum topic, 0 for none
	Address string // recovery address shown next to the code

	serverURL string
}

// Telegram relays retrieval results to a chat
type Telegram struct {
	bot       *bot.Bot
	config    TelegramConfig
	formatter *Formatter
	logger    *slog.Logger
}

// NewTelegram creates a relay. It does not contact Telegram until a
// message is sent.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.serverURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.serverURL))
	}

	tgBot, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:       tgBot,
		config:    cfg,
		formatter: NewFormatter(),
		logger:    logger.With("component", "telegram_relay"),
	}, nil
}

// SendCode posts a found code
func (t *Telegram) SendCode(ctx context.Context, source, code string) error {
	text := t.formatter.FormatCode(source, code, t.config.Address, time.Now())
	if _, err := t.sendMessage(ctx, text); err != nil {
		return fmt.Errorf("failed to relay code: %w", err)
	}
	t.logger.Info("code relayed to telegram", "chat_id", t.config.ChatID)
	return nil
}

// SendFailure posts a retrieval error
func (t *Telegram) SendFailure(ctx context.Context, failure error) error {
	if _, err := t.sendMessage(ctx, t.formatter.FormatFailure(failure)); err != nil {
		return fmt.Errorf("failed to relay failure: %w", err)
	}
	return nil
}

// sendMessage sends a message to the configured chat and topic
func (t *Telegram) sendMessage(ctx context.Context, text string) (*models.Message, error) {
	// Separate deadline so a slow API never holds up the caller
	apiCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID:    t.config.ChatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}

	if t.config.TopicID != 0 {
		params.MessageThreadID = t.config.TopicID
	}

	return t.bot.SendMessage(apiCtx, params)
}
