package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamed0406/sitepulse/internal/domain"
)

var ErrNoTransport = errors.New("no transport configured for recipient")

// Transport delivers one message to one recipient.
type Transport interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Router picks a transport from the form of the recipient address.
// A nil field means the channel is not configured.
type Router struct {
	Email    Transport
	Telegram Transport
	Slack    Transport
}

func (r *Router) transport(ch domain.Channel) Transport {
	switch ch {
	case domain.ChannelEmail:
		return r.Email
	case domain.ChannelTelegram:
		return r.Telegram
	case domain.ChannelSlack:
		return r.Slack
	}
	return nil
}

func (r *Router) Send(ctx context.Context, recipient, subject, body string) error {
	ch := domain.ChannelOf(recipient)
	t := r.transport(ch)
	if t == nil {
		return fmt.Errorf("%w: %q (channel %q)", ErrNoTransport, recipient, ch)
	}
	return t.Send(ctx, recipient, subject, body)
}

// Channels lists the configured channels.
func (r *Router) Channels() []domain.Channel {
	var out []domain.Channel
	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelTelegram, domain.ChannelSlack} {
		if r.transport(ch) != nil {
			out = append(out, ch)
		}
	}
	return out
}
