// Package notify sends alerts about rejected messages to an operator.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/smtpd-filter-copycat/internal/email"
	"github.com/shineum/smtpd-filter-copycat/internal/filter"
	"github.com/shineum/smtpd-filter-copycat/internal/verdict"
)

// Notifier is the interface that alert backends must implement.
type Notifier interface {
	// Send delivers an alert. It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this backend.
	Name() string
}

// defaultSendTimeout bounds a single alert, retries included.
const defaultSendTimeout = 30 * time.Second

// Hook adapts a Notifier to filter.Hook. Only rejected commits raise an alert.
type Hook struct {
	notifier   Notifier
	recipients []string
	timeout    time.Duration
}

// NewHook returns a Hook sending alerts through n to recipients.
func NewHook(n Notifier, recipients []string) *Hook {
	return &Hook{
		notifier:   n,
		recipients: recipients,
		timeout:    defaultSendTimeout,
	}
}

func (h *Hook) Name() string {
	return "notify-" + h.notifier.Name()
}

func (h *Hook) AfterInit() {
	slog.Info("rejection alerts enabled", "provider", h.notifier.Name(), "recipients", len(h.recipients))
}

func (h *Hook) AfterCommit(d *filter.CommitData) {
	if d.Outcome.Verdict.Kind != verdict.Reject {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.notifier.Send(ctx, Alert(d, h.recipients)); err != nil {
		slog.Error("failed to send rejection alert",
			"provider", h.notifier.Name(),
			"session", d.SessionID,
			"error", err,
		)
		return
	}
	slog.Debug("rejection alert sent", "provider", h.notifier.Name(), "session", d.SessionID)
}

// Alert renders the alert for a rejected commit.
func Alert(d *filter.CommitData, to []string) *email.Email {
	domains := make([]string, 0, len(d.Outcome.Matches))
	for _, m := range d.Outcome.Matches {
		domains = append(domains, m.Domain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A message was rejected because its sender name contains a recipient domain.\n\n")
	fmt.Fprintf(&b, "Session:    %s\n", d.SessionID)
	fmt.Fprintf(&b, "Time:       %s\n", d.OccurredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Recipients: %s\n", strings.Join(d.Recipients, ", "))
	if d.Outcome.MessageID != "" {
		fmt.Fprintf(&b, "Message-Id: %s\n", d.Outcome.MessageID)
	}
	if d.Outcome.Subject != "" {
		fmt.Fprintf(&b, "Subject:    %s\n", d.Outcome.Subject)
	}
	for _, m := range d.Outcome.Matches {
		fmt.Fprintf(&b, "Match:      %q contains %s\n", m.Name, m.Domain)
	}

	return &email.Email{
		To:       to,
		Subject:  "Rejected impersonation of " + strings.Join(domains, ", "),
		TextBody: b.String(),
	}
}

// BackoffDelay returns the exponential backoff delay for the given attempt
// number, starting from base: base, 2*base, 4*base...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// SleepWithContext waits for the specified duration or until the context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
