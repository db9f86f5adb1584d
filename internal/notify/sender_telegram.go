package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"

	"zonealert/internal/config"
)

// TelegramSender posts alerts to the Telegram Bot API.
// Bot clients are cached per token; rules sharing a bot share one client.
// Params: none; bot settings arrive per send.
// Returns: Telegram channel sender.
type TelegramSender struct {
	mu      sync.Mutex
	clients map[string]*tgbot.Bot
}

// NewTelegramSender creates the Telegram sender.
// Params: none.
// Returns: initialized sender.
func NewTelegramSender() *TelegramSender {
	return &TelegramSender{clients: make(map[string]*tgbot.Bot)}
}

// Kind returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Kind() string {
	return config.ChannelTelegram
}

// Send posts one notification message to the configured chat.
// Params: context, payload, and channel settings.
// Returns: transport error; client init failures are permanent.
func (s *TelegramSender) Send(ctx context.Context, payload Payload, channel config.ChannelConfig) error {
	if channel.Telegram == nil {
		return MarkPermanent(errors.New("telegram settings are missing"))
	}

	client, err := s.clientFor(*channel.Telegram)
	if err != nil {
		return MarkPermanent(fmt.Errorf("init telegram bot: %w", err))
	}

	sent, err := client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: normalizeChatID(channel.Telegram.ChatID),
		Text:   formatTelegramText(payload),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// clientFor returns a cached bot client for one token.
func (s *TelegramSender) clientFor(cfg config.TelegramChannel) (*tgbot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.clients[cfg.BotToken]; ok {
		return cached, nil
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"); base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	created, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, err
	}
	s.clients[cfg.BotToken] = created
	return created, nil
}

// formatTelegramText renders the payload as a plain-text chat message.
func formatTelegramText(payload Payload) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "[%s] %s\n", strings.ToUpper(payload.Priority.String()), payload.Title)
	builder.WriteString(payload.Message)
	fmt.Fprintf(&builder, "\nwarehouse: %s", payload.WarehouseID)
	if payload.ZoneID != "" {
		fmt.Fprintf(&builder, " zone: %s", payload.ZoneID)
	}
	return builder.String()
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
