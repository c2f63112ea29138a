package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tripwire/internal/domain"
	"tripwire/pkg/logger"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

type telegramBot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSender delivers the push channel to the alert's Telegram chat.
type TelegramSender struct {
	bot telegramBot
}

func NewTelegramSender(bot telegramBot) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, alert domain.Alert, n domain.Notification) error {
	if alert.Contact.PushChatID == "" {
		return ErrNoRecipient
	}
	chatID, err := strconv.ParseInt(alert.Contact.PushChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", alert.Contact.PushChatID, err)
	}
	if _, err := s.bot.Send(tele.ChatID(chatID), text(n)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// QuoteFunc looks up a live snapshot for the /quote command.
type QuoteFunc func(ctx context.Context, symbol string) (*domain.Snapshot, error)

// NewTelegramBot builds a long-polling bot. It returns nil with no error
// when token is empty so callers can skip the push channel.
func NewTelegramBot(token string) (*tele.Bot, error) {
	if token == "" {
		logger.Info(context.Background(), "TELEGRAM_BOT_TOKEN not set, push notifications disabled")
		return nil, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// StartTelegramCommands registers the chat commands and starts polling.
// /chatid tells a user what to store as the alert's push contact.
func StartTelegramCommands(b *tele.Bot, quote QuoteFunc) {
	if b == nil {
		return
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/chatid", func(c tele.Context) error {
		return c.Send(fmt.Sprintf("Your chat id: %d", c.Chat().ID))
	})

	b.Handle("/quote", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send("Usage: /quote AAPL")
		}
		symbol := strings.ToUpper(args[0])
		snap, err := quote(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching %s: %v", symbol, err))
		}
		return c.Send(quoteText(snap))
	})

	logger.Info(context.Background(), "telegram bot started", zap.String("bot", b.Me.Username))
	go b.Start()
}

func quoteText(s *domain.Snapshot) string {
	msg := fmt.Sprintf("%s\nPrice: $%.2f\nChange: %.2f%%", s.Symbol, s.Price, s.ChangePercent)
	if s.Volume != nil {
		msg += fmt.Sprintf("\nVolume: %.0f", *s.Volume)
	}
	if s.Source != "" {
		msg += "\nSource: " + s.Source
	}
	return msg
}
