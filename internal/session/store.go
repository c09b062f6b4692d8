// Package session tracks the per-transaction state of every session the host
// has announced: accepted recipients and the buffered message.
package session

import "bytes"

// Session is the state accumulated for one SMTP transaction.
type Session struct {
	// Recipients holds accepted recipient addresses in arrival order,
	// duplicates included.
	Recipients []string

	// Body holds every buffered data line, each followed by "\n".
	Body bytes.Buffer
}

// AppendLine buffers one line of message data.
func (s *Session) AppendLine(line string) {
	s.Body.WriteString(line)
	s.Body.WriteByte('\n')
}

// Store maps session identifiers to their state. It is not safe for
// concurrent use; every host connection owns its own Store.
type Store struct {
	sessions map[string]*Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Begin starts a fresh session, replacing any previous state for id.
func (s *Store) Begin(id string) {
	s.sessions[id] = &Session{}
}

// RecordRecipient appends addr to the recipients of id. It reports whether
// the session exists.
func (s *Store) RecordRecipient(id, addr string) bool {
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Recipients = append(sess.Recipients, addr)
	return true
}

// End forgets id. Unknown ids are ignored.
func (s *Store) End(id string) {
	delete(s.sessions, id)
}

// Lookup returns the session for id, if any.
func (s *Store) Lookup(id string) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}
