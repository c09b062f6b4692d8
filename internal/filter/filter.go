// Package filter runs the event loop of the filter: it reads protocol lines,
// keeps session state, echoes message data and answers commits.
package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shineum/smtpd-filter-copycat/internal/metrics"
	"github.com/shineum/smtpd-filter-copycat/internal/protocol"
	"github.com/shineum/smtpd-filter-copycat/internal/session"
	"github.com/shineum/smtpd-filter-copycat/internal/verdict"
)

// defaultQueueSize is the number of commit records buffered for hooks.
const defaultQueueSize = 128

// Config holds the configuration for a Filter.
type Config struct {
	// Parser extracts header fields from buffered messages.
	// If nil, the default parser is used.
	Parser verdict.HeaderParser

	// Hooks are notified of every commit after its result is written.
	Hooks []Hook

	// QueueSize bounds the number of commit records waiting for hooks.
	QueueSize int

	// Logger receives diagnostics. It must not write to the protocol output.
	Logger *slog.Logger
}

// Filter serves the filter protocol. A single Filter may serve several host
// connections; each call to Run has its own session state.
type Filter struct {
	config Config
}

// New creates a Filter and initializes its hooks.
func New(cfg Config) *Filter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	for _, h := range cfg.Hooks {
		h.AfterInit()
		cfg.Logger.Debug("hook initialized", "hook", h.Name())
	}

	return &Filter{config: cfg}
}

// stream is the state of one host connection.
type stream struct {
	store  *session.Store
	engine *verdict.Engine
	enc    *protocol.Encoder
	hooks  *hookQueue
	logger *slog.Logger
}

// Run processes protocol lines from r and writes responses to w until r
// reaches end of input or ctx is cancelled. Each response is written before
// the next line is read. Read and write failures are returned; sessions still
// open at the end are discarded.
func (f *Filter) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s := f.newStream(w)
	defer s.hooks.close()

	return s.serve(ctx, r)
}

func (f *Filter) newStream(w io.Writer) *stream {
	return &stream{
		store:  session.NewStore(),
		engine: verdict.New(f.config.Parser, f.config.Logger),
		enc:    protocol.NewEncoder(w),
		hooks:  newHookQueue(f.config.Hooks, f.config.QueueSize, f.config.Logger),
		logger: f.config.Logger,
	}
}

func (s *stream) serve(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if werr := s.handle(line); werr != nil {
				return fmt.Errorf("failed to write response: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}

// handle dispatches one input line.
func (s *stream) handle(line string) error {
	ev := protocol.Decode(line)
	metrics.Events.WithLabelValues(protocol.Kind(ev)).Inc()

	switch ev := ev.(type) {
	case protocol.ConfigReady:
		return s.enc.Register()
	case protocol.TxBegin:
		s.store.Begin(ev.Session)
	case protocol.TxRcpt:
		if ev.Status == protocol.StatusOK {
			s.store.RecordRecipient(ev.Session, ev.Recipient)
		}
	case protocol.LinkDisconnect:
		s.store.End(ev.Session)
	case protocol.DataLine:
		return s.dataLine(ev)
	case protocol.Commit:
		return s.commit(ev)
	case protocol.Unrecognized:
	}
	return nil
}

// commit evaluates the session, answers the host and queues the record for
// the hooks.
func (s *stream) commit(ev protocol.Commit) error {
	sess, _ := s.store.Lookup(ev.Session)
	out := s.engine.Evaluate(ev.Session, sess)

	if out.Verdict.Kind == verdict.Reject {
		s.logger.Info("denying message", "session", ev.Session, "matches", len(out.Matches))
	} else {
		s.logger.Info("allowing message", "session", ev.Session, "cause", out.Cause)
	}

	if err := s.enc.Result(ev.Session, ev.Token, out.Verdict.String()); err != nil {
		return err
	}

	if out.Verdict.Kind == verdict.Reject {
		metrics.Verdicts.WithLabelValues("reject").Inc()
	} else {
		metrics.Verdicts.WithLabelValues("proceed").Inc()
	}
	metrics.Outcomes.WithLabelValues(string(out.Cause)).Inc()
	metrics.DomainMatches.Add(float64(len(out.Matches)))

	data := &CommitData{
		SessionID:  ev.Session,
		Token:      ev.Token,
		OccurredAt: time.Now(),
		Outcome:    out,
	}
	if sess != nil {
		data.Recipients = append([]string(nil), sess.Recipients...)
	}
	s.hooks.push(data)

	return nil
}
