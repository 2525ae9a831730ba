package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/hamed0406/sitepulse/internal/domain"
)

// Telegram sends to "tg:<chat id>" recipients through a bot.
type Telegram struct {
	bot *bot.Bot
}

func NewTelegram(token string, opts ...bot.Option) (*Telegram, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, recipient, subject, body string) error {
	chatID, err := domain.TelegramChatID(recipient)
	if err != nil {
		return err
	}
	if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   subject + "\n\n" + body,
	}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
