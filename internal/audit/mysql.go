package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/shineum/smtpd-filter-copycat/internal/filter"
)

// The verdicts table is expected to exist; see the sqlite schema for columns.
const mysqlInsertQuery string = "insert into verdicts (id, session_id, token, occurred_at, verdict, cause, message_id, subject, recipients, senders, domains) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// Mysql records verdicts in a MySQL database.
type Mysql struct {
	dsn string

	mu     sync.Mutex
	pool   *sql.DB // Database connection pool.
	closed bool
}

// NewMysql returns a Mysql store for dsn.
func NewMysql(dsn string) *Mysql {
	return &Mysql{dsn: dsn}
}

func (m *Mysql) Name() string {
	return "mysql"
}

func (m *Mysql) conn() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.pool != nil {
		return m.pool, nil
	}

	if len(m.dsn) == 0 {
		return nil, fmt.Errorf("missing dsn for mysql")
	}

	pool, err := sql.Open("mysql", m.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	m.pool = pool

	return m.pool, nil
}

func (m *Mysql) AfterInit() {
}

func (m *Mysql) AfterCommit(d *filter.CommitData) {
	conn, err := m.conn()
	if err != nil {
		slog.Error("audit store unavailable", "store", m.Name(), "error", err)
		return
	}

	if _, err := conn.Exec(mysqlInsertQuery, NewRecord(d).sqlArgs()...); err != nil {
		slog.Error("failed to insert audit record", "store", m.Name(), "session", d.SessionID, "error", err)
	}
}

// Close closes the connection pool if it was opened.
func (m *Mysql) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.pool == nil {
		return nil
	}
	err := m.pool.Close()
	m.pool = nil
	return err
}
