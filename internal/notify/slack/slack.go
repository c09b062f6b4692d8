// Package slack implements a Notifier that posts alerts to a Slack channel.
package slack

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/slack"

	"github.com/shineum/smtpd-filter-copycat/internal/email"
)

const (
	username = "copycat"
	iconURL  = "https://www.opensmtpd.org/favicon.ico"
)

// Config holds the configuration for creating a Notifier.
type Config struct {
	Token   string
	Channel string
}

// Notifier posts alerts to a Slack channel. Recipients of the alert are
// ignored; the channel is the audience.
type Notifier struct {
	channel string
	post    func(ctx context.Context, channel, text string) error
}

// New creates a Notifier posting with the given bot token.
func New(cfg Config) (*Notifier, error) {
	if len(cfg.Token) == 0 {
		return nil, fmt.Errorf("missing slack token")
	}
	if len(cfg.Channel) == 0 {
		return nil, fmt.Errorf("missing slack channel")
	}

	cl := slack.New(cfg.Token)
	return &Notifier{
		channel: cfg.Channel,
		post: func(ctx context.Context, channel, text string) error {
			_, err := cl.Chat().PostMessage(channel).Username(username).IconURL(iconURL).Text(text).Do(ctx)
			return err
		},
	}, nil
}

// Send posts the alert subject and body as one message.
func (s *Notifier) Send(ctx context.Context, msg *email.Email) error {
	text := fmt.Sprintf("*%s*\n```\n%s```", msg.Subject, msg.TextBody)
	if err := s.post(ctx, s.channel, text); err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	return nil
}

// Name returns the notifier name.
func (s *Notifier) Name() string {
	return "slack"
}
