package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSubscriber = errors.New("invalid subscriber")

// Channel is the delivery medium implied by a subscriber address.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelSlack    Channel = "slack"
)

const (
	telegramPrefix = "tg:"
	slackPrefix    = "https://hooks.slack.com/"
)

type Subscriber struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeAddress validates a subscriber address and returns its
// canonical form. Accepted forms: an email address, "tg:<chat id>", or a
// Slack incoming-webhook URL.
func NormalizeAddress(raw string) (string, Channel, error) {
	a := strings.TrimSpace(raw)
	switch {
	case a == "":
		return "", "", fmt.Errorf("%w: empty address", ErrInvalidSubscriber)
	case strings.HasPrefix(strings.ToLower(a), telegramPrefix):
		id := a[len(telegramPrefix):]
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return "", "", fmt.Errorf("%w: telegram chat id %q", ErrInvalidSubscriber, id)
		}
		return telegramPrefix + id, ChannelTelegram, nil
	case strings.HasPrefix(a, slackPrefix):
		return a, ChannelSlack, nil
	case strings.Contains(a, "@"):
		at := strings.LastIndex(a, "@")
		if at == 0 || at == len(a)-1 || strings.ContainsAny(a, " \t\r\n<>") {
			return "", "", fmt.Errorf("%w: email %q", ErrInvalidSubscriber, a)
		}
		return strings.ToLower(a), ChannelEmail, nil
	}
	return "", "", fmt.Errorf("%w: unsupported address %q", ErrInvalidSubscriber, a)
}

// ChannelOf reports the channel of an already normalized address.
func ChannelOf(addr string) Channel {
	_, ch, err := NormalizeAddress(addr)
	if err != nil {
		return ""
	}
	return ch
}

// TelegramChatID extracts the chat id from a "tg:" address.
func TelegramChatID(addr string) (int64, error) {
	if !strings.HasPrefix(addr, telegramPrefix) {
		return 0, fmt.Errorf("%w: not a telegram address", ErrInvalidSubscriber)
	}
	return strconv.ParseInt(addr[len(telegramPrefix):], 10, 64)
}
