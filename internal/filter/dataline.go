package filter

import (
	"github.com/shineum/smtpd-filter-copycat/internal/protocol"
)

// dataLine echoes a message line back to the host and buffers it for the
// commit check. The echo is unconditional: the host stalls the transaction
// until every line has been returned. Buffering skips the end-of-data
// terminator and lines of unknown sessions.
func (s *stream) dataLine(ev protocol.DataLine) error {
	if err := s.enc.DataLine(ev.Session, ev.Token, ev.Line); err != nil {
		return err
	}

	if ev.Line == protocol.Terminator {
		return nil
	}
	if sess, ok := s.store.Lookup(ev.Session); ok {
		sess.AppendLine(ev.Line)
	}
	return nil
}
