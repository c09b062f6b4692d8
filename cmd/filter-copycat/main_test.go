package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/smtpd-filter-copycat/internal/audit"
	"github.com/shineum/smtpd-filter-copycat/internal/config"
	"github.com/shineum/smtpd-filter-copycat/internal/filter"
	"github.com/shineum/smtpd-filter-copycat/internal/notify"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer

	newLogger(&text, "warn", "text").Info("hidden")
	newLogger(&text, "warn", "text").Warn("shown", "session", "s1")
	if strings.Contains(text.String(), "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", text.String())
	}
	if !strings.Contains(text.String(), "session=s1") {
		t.Errorf("text output: got %q", text.String())
	}

	newLogger(&js, "debug", "json").Debug("denying message", "session", "s1")
	if !strings.Contains(js.String(), `"session":"s1"`) {
		t.Errorf("json output: got %q", js.String())
	}
}

func TestAuditStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		driver string
		want   string
	}{
		{driver: "file", want: "file"},
		{driver: "sqlite", want: "sqlite"},
		{driver: "mysql", want: "mysql"},
		{driver: "", want: ""},
	}

	for _, tt := range tests {
		h := auditStore(config.AuditConfig{Driver: tt.driver, Path: "/tmp/x", DSN: "u@/db"})
		if tt.want == "" {
			if h != nil {
				t.Errorf("auditStore(%q): got %s, want nil", tt.driver, h.Name())
			}
			continue
		}
		if h == nil || h.Name() != tt.want {
			t.Errorf("auditStore(%q): got %v, want %s", tt.driver, h, tt.want)
		}
	}
}

func TestBuildHooks(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Audit: config.AuditConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.jsonl")},
		Notify: config.NotifyConfig{
			Provider: "slack",
			Slack:    config.SlackConfig{Token: "xoxb-test", Channel: "#mail"},
		},
	}

	hooks, closers, err := buildHooks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("hooks: got %d, want 2", len(hooks))
	}
	if _, ok := hooks[0].(*audit.File); !ok {
		t.Errorf("hooks[0]: got %T, want *audit.File", hooks[0])
	}
	if _, ok := hooks[1].(*notify.Hook); !ok {
		t.Errorf("hooks[1]: got %T, want *notify.Hook", hooks[1])
	}
	if len(closers) != 1 {
		t.Errorf("closers: got %d, want 1", len(closers))
	}
}

func TestSelectNotifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      config.NotifyConfig
		wantName string
		wantErr  bool
	}{
		{name: "disabled", cfg: config.NotifyConfig{}},
		{
			name: "graph",
			cfg: config.NotifyConfig{
				Provider: "graph",
				Graph:    config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "a@example.com"},
			},
			wantName: "msgraph",
		},
		{
			name:     "slack",
			cfg:      config.NotifyConfig{Provider: "slack", Slack: config.SlackConfig{Token: "x", Channel: "#c"}},
			wantName: "slack",
		},
		{
			name:    "slack without token",
			cfg:     config.NotifyConfig{Provider: "slack", Slack: config.SlackConfig{Channel: "#c"}},
			wantErr: true,
		},
		{name: "unknown", cfg: config.NotifyConfig{Provider: "pager"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, err := selectNotifier(context.Background(), &config.Config{Notify: tt.cfg})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantName == "" {
				if n != nil {
					t.Errorf("got %s, want nil", n.Name())
				}
				return
			}
			if n == nil || n.Name() != tt.wantName {
				t.Errorf("got %v, want %s", n, tt.wantName)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingHook struct {
	mu      sync.Mutex
	commits []*filter.CommitData
}

func (h *recordingHook) Name() string { return "recording" }
func (h *recordingHook) AfterInit()   {}

func (h *recordingHook) AfterCommit(d *filter.CommitData) {
	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits = append(h.commits, d)
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commits)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStdio_DrainsHooksOnShutdown(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	f := filter.New(filter.Config{
		Hooks:  []filter.Hook{hook},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	pr, pw := io.Pipe()
	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- stdio(ctx, f, pr, &out, 5*time.Second) }()

	go func() {
		io.WriteString(pw, strings.Join([]string{
			"report|1|0|smtp-in|tx-begin|s1",
			"report|1|0|smtp-in|tx-rcpt|s1|m1|ok|user@evil.com",
			"filter|1|0|smtp-in|data-line|s1|t1|From: support@evil.com <alice@other.com>",
			"filter|1|0|smtp-in|data-line|s1|t1|.",
			"filter|1|0|smtp-in|commit|s1|t3",
		}, "\n")+"\n")
	}()

	waitFor(t, func() bool { return strings.Contains(out.String(), "filter-result|s1|t3|reject") })

	cancel()
	// Input ends shortly after the signal, as when the host closes the pipe.
	time.AfterFunc(20*time.Millisecond, func() { pw.Close() })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stdio: unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stdio did not return after shutdown")
	}

	if got := hook.count(); got != 1 {
		t.Errorf("hook commits after stdio returned: got %d, want 1", got)
	}
}

func TestStdio_GivesUpOnBlockedInput(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The stream is blocked reading input when the signal arrives.
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	if err := stdio(ctx, f, pr, io.Discard, 20*time.Millisecond); err != nil {
		t.Fatalf("stdio: unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stdio took %v, want about the timeout", elapsed)
	}
}
