// Package audit records every commit verdict for later review. Each store is
// a filter.Hook: it is fed from the hook worker and never blocks the host.
package audit

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid"

	"github.com/shineum/smtpd-filter-copycat/internal/filter"
	"github.com/shineum/smtpd-filter-copycat/internal/verdict"
)

// TimeFormat is the layout of occurred_at in SQL stores.
const TimeFormat = "2006-01-02T15:04:05.999999"

// listSeparator joins multi-valued columns.
const listSeparator = ","

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("audit store is closed")

// Record is one audited commit.
type Record struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Token      string          `json:"token"`
	OccurredAt time.Time       `json:"occurred_at"`
	Verdict    string          `json:"verdict"`
	Cause      string          `json:"cause"`
	MessageID  string          `json:"message_id,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Recipients []string        `json:"recipients"`
	Senders    []string        `json:"senders"`
	Matches    []verdict.Match `json:"matches"`
}

// NewRecord builds the record of a commit with a fresh ID.
func NewRecord(d *filter.CommitData) *Record {
	v := "proceed"
	if d.Outcome.Verdict.Kind == verdict.Reject {
		v = "reject"
	}

	return &Record{
		ID:         GenID(d.OccurredAt).String(),
		SessionID:  d.SessionID,
		Token:      d.Token,
		OccurredAt: d.OccurredAt,
		Verdict:    v,
		Cause:      string(d.Outcome.Cause),
		MessageID:  d.Outcome.MessageID,
		Subject:    d.Outcome.Subject,
		Recipients: d.Recipients,
		Senders:    d.Outcome.Senders,
		Matches:    d.Outcome.Matches,
	}
}

// Domains returns the matched domains, in match order.
func (r *Record) Domains() []string {
	out := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, m.Domain)
	}
	return out
}

// GenID returns a ULID for t.
func GenID(t time.Time) ulid.ULID {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// sqlArgs returns the insert arguments shared by the SQL stores.
func (r *Record) sqlArgs() []any {
	return []any{
		r.ID,
		r.SessionID,
		r.Token,
		r.OccurredAt.Format(TimeFormat),
		r.Verdict,
		r.Cause,
		r.MessageID,
		r.Subject,
		strings.Join(r.Recipients, listSeparator),
		strings.Join(r.Senders, listSeparator),
		strings.Join(r.Domains(), listSeparator),
	}
}
