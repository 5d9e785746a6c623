package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramSender sends notifications to Telegram Bot API.
// Params: bot token, chat id, and base URL.
// Returns: Telegram channel sender.
type TelegramSender struct {
	name    string
	client  *tgbot.Bot
	chatID  any
	tmpl    *template.Template
	initErr error
}

// NewTelegramSender creates Telegram sender.
// Params: channel name, channel config, text template and HTTP client (unused by the bot client).
// Returns: initialized sender; init problems surface on Send.
func NewTelegramSender(name string, cfg config.ChannelConfig, tmpl *template.Template, _ *http.Client) *TelegramSender {
	sender := &TelegramSender{
		name:   name,
		chatID: normalizeChatID(cfg.ChatID),
		tmpl:   tmpl,
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("telegram bot token is required")
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
func (s *TelegramSender) Channel() string {
	return s.name
}

// Send posts one notification message to Telegram chat.
// Params: context and notification payload.
// Returns: message id, or transport error.
func (s *TelegramSender) Send(ctx context.Context, notification domain.Notification) (Result, error) {
	if s.initErr != nil {
		return Result{}, s.initErr
	}
	if s.client == nil {
		return Result{}, errors.New("telegram client is not initialized")
	}
	text, err := templatefmt.Render(s.tmpl, notification)
	if err != nil {
		return Result{}, fmt.Errorf("render telegram text: %w", err)
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return Result{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return Result{}, errors.New("telegram send returned empty message id")
	}
	return Result{MessageID: sent.ID}, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
