package verdict

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/shineum/smtpd-filter-copycat/internal/email"
	"github.com/shineum/smtpd-filter-copycat/internal/parser"
	"github.com/shineum/smtpd-filter-copycat/internal/session"
)

// matchTimeout bounds a single search. Patterns are plain literals between
// two boundary assertions, so this is never reached in practice.
const matchTimeout = time.Second

// HeaderParser extracts header fields from a buffered message.
type HeaderParser interface {
	ParseHeader(raw []byte) (*email.Header, error)
}

// Pattern searches a string.
type Pattern interface {
	MatchString(s string) (bool, error)
}

// Engine evaluates commits. It holds no per-session state.
type Engine struct {
	parser HeaderParser
	logger *slog.Logger

	// compile builds the word-bounded pattern for one recipient domain.
	compile func(domain string) (Pattern, error)
}

// New returns an Engine that parses headers with p and writes diagnostics to
// logger. A nil p selects the default parser.
func New(p HeaderParser, logger *slog.Logger) *Engine {
	if p == nil {
		p = parser.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		parser:  p,
		logger:  logger,
		compile: compileDomain,
	}
}

// Evaluate renders the verdict for the session identified by id. A nil sess
// means the session is unknown. Every condition that prevents a confident
// decision resolves to Proceed.
func (e *Engine) Evaluate(id string, sess *session.Session) Outcome {
	if sess == nil {
		return Outcome{Verdict: Verdict{Kind: Proceed}, Cause: CauseNoSession}
	}

	header, err := e.parser.ParseHeader(sess.Body.Bytes())
	if err != nil {
		e.logger.Warn("malformed mail, allowing",
			"session", id,
			"error", err,
		)
		e.logger.Debug("malformed mail content",
			"session", id,
			"body", sess.Body.String(),
		)
		return Outcome{Verdict: Verdict{Kind: Proceed}, Cause: CauseUnparsable}
	}

	if !header.HasFrom {
		return Outcome{
			Verdict:   Verdict{Kind: Proceed},
			Cause:     CauseNoSender,
			Subject:   header.Subject,
			MessageID: header.MessageID,
		}
	}

	names := header.DisplayNames()
	out := Outcome{
		Subject:   header.Subject,
		MessageID: header.MessageID,
		Senders:   names,
	}
	tested := make(map[string]struct{})

	for _, rcpt := range sess.Recipients {
		domain, ok := Domain(rcpt)
		if !ok {
			continue
		}
		if _, seen := tested[domain]; seen {
			continue
		}
		tested[domain] = struct{}{}

		pattern, err := e.compile(domain)
		if err != nil {
			e.logger.Warn("cannot build pattern from recipient domain",
				"session", id,
				"domain", domain,
				"error", err,
			)
			continue
		}

		for _, name := range names {
			found, err := pattern.MatchString(name)
			if err != nil {
				e.logger.Warn("pattern search failed",
					"session", id,
					"domain", domain,
					"error", err,
				)
				continue
			}
			if found {
				e.logger.Info("sender name contains recipient domain",
					"session", id,
					"domain", domain,
					"name", name,
				)
				out.Matches = append(out.Matches, Match{Domain: domain, Name: name})
			}
		}
	}

	if len(out.Matches) > 0 {
		out.Verdict = Verdict{Kind: Reject, Reason: RejectReason}
		out.Cause = CauseMatch
	} else {
		out.Verdict = Verdict{Kind: Proceed}
		out.Cause = CauseNoMatch
	}
	return out
}

// Domain returns the part of addr after its last '@'. Addresses without an
// '@' or with nothing after it have no domain.
func Domain(addr string) (string, bool) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 || i == len(addr)-1 {
		return "", false
	}
	return addr[i+1:], true
}

// compileDomain builds `\b<domain>\b` with the domain escaped so that none of
// its characters act as pattern syntax. Word characters follow Unicode
// classes, so a letter such as 'é' adjacent to the domain prevents a match.
func compileDomain(domain string) (Pattern, error) {
	re, err := regexp2.Compile(`\b`+regexp2.Escape(domain)+`\b`, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}
