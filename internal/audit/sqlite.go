package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/shineum/smtpd-filter-copycat/internal/filter"
)

const (
	sqliteInsertQuery string = "insert into verdicts (id, session_id, token, occurred_at, verdict, cause, message_id, subject, recipients, senders, domains) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)"
	sqliteCreateTable string = `
	create table if not exists verdicts (
    id text primary key,
    session_id text,
    token text,
    occurred_at datetime default CURRENT_TIMESTAMP,
    verdict text,
    cause text,
    message_id text,
    subject text,
    recipients text,
    senders text,
    domains text
	)`
)

// Sqlite records verdicts in a SQLite database, creating the table on init.
type Sqlite struct {
	dsn string

	mu     sync.Mutex
	pool   *sql.DB // Database connection pool.
	closed bool
}

// NewSqlite returns a Sqlite store for the database at dsn, typically a file
// path.
func NewSqlite(dsn string) *Sqlite {
	return &Sqlite{dsn: dsn}
}

func (s *Sqlite) Name() string {
	return "sqlite"
}

func (s *Sqlite) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.pool != nil {
		return s.pool, nil
	}

	if len(s.dsn) == 0 {
		return nil, fmt.Errorf("missing dsn for sqlite")
	}

	pool, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	pool.SetMaxOpenConns(1)
	s.pool = pool

	return s.pool, nil
}

func (s *Sqlite) AfterInit() {
	conn, err := s.conn()
	if err != nil {
		slog.Error("audit store unavailable", "store", s.Name(), "error", err)
		return
	}

	if _, err := conn.Exec(sqliteCreateTable); err != nil {
		slog.Error("failed to create audit table", "store", s.Name(), "error", err)
	}
}

func (s *Sqlite) AfterCommit(d *filter.CommitData) {
	conn, err := s.conn()
	if err != nil {
		slog.Error("audit store unavailable", "store", s.Name(), "error", err)
		return
	}

	if _, err := conn.Exec(sqliteInsertQuery, NewRecord(d).sqlArgs()...); err != nil {
		slog.Error("failed to insert audit record", "store", s.Name(), "session", d.SessionID, "error", err)
	}
}

// Close closes the connection pool if it was opened.
func (s *Sqlite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}
