package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/shineum/smtpd-filter-copycat/internal/filter"
)

// File appends one JSON object per commit to a file.
type File struct {
	path string

	mu     sync.Mutex
	file   io.Writer
	closed bool
}

// NewFile returns a File store writing to path. The file is opened on first
// use and created if missing.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string {
	return "file"
}

// writer must be called with f.mu held.
func (f *File) writer() (io.Writer, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if f.file != nil {
		return f.file, nil
	}

	if f.path == "" {
		return nil, fmt.Errorf("missing path for file audit")
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	f.file = file

	return f.file, nil
}

func (f *File) AfterInit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.writer(); err != nil {
		slog.Error("audit store unavailable", "store", f.Name(), "error", err)
	}
}

func (f *File) AfterCommit(d *filter.CommitData) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, err := f.writer()
	if err != nil {
		slog.Error("audit store unavailable", "store", f.Name(), "error", err)
		return
	}

	if err := json.NewEncoder(w).Encode(NewRecord(d)); err != nil {
		slog.Error("failed to append audit record", "store", f.Name(), "session", d.SessionID, "error", err)
	}
}

// Close closes the underlying file if it was opened.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if c, ok := f.file.(io.Closer); ok {
		f.file = nil
		return c.Close()
	}
	return nil
}
