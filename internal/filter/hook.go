package filter

import (
	"log/slog"
	"time"

	"github.com/shineum/smtpd-filter-copycat/internal/metrics"
	"github.com/shineum/smtpd-filter-copycat/internal/verdict"
)

// Hook receives a record of every commit. Hooks run on a background worker,
// after the verdict has been sent, and can not influence it. A Hook shared by
// several connections must be safe for concurrent use.
type Hook interface {
	Name() string
	AfterInit()
	AfterCommit(*CommitData)
}

// CommitData describes one evaluated commit.
type CommitData struct {
	SessionID  string
	Token      string
	OccurredAt time.Time
	Recipients []string
	Outcome    verdict.Outcome
}

// hookQueue feeds commit records to the hooks from a single goroutine.
type hookQueue struct {
	hooks  []Hook
	ch     chan *CommitData
	done   chan struct{}
	logger *slog.Logger
}

func newHookQueue(hooks []Hook, size int, logger *slog.Logger) *hookQueue {
	q := &hookQueue{hooks: hooks, logger: logger}
	if len(hooks) == 0 {
		return q
	}

	q.ch = make(chan *CommitData, size)
	q.done = make(chan struct{})
	go q.run()
	return q
}

func (q *hookQueue) run() {
	defer close(q.done)
	for d := range q.ch {
		for _, h := range q.hooks {
			h.AfterCommit(d)
		}
	}
}

// push never blocks; records that do not fit are dropped.
func (q *hookQueue) push(d *CommitData) {
	if q.ch == nil {
		return
	}
	select {
	case q.ch <- d:
	default:
		metrics.HookDrops.Inc()
		q.logger.Warn("hook queue full, dropping commit record", "session", d.SessionID)
	}
}

// close waits for queued records to be delivered.
func (q *hookQueue) close() {
	if q.ch == nil {
		return
	}
	close(q.ch)
	<-q.done
}
