// Package main is the entry point for the OpenSMTPD copycat filter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/smtpd-filter-copycat/internal/audit"
	"github.com/shineum/smtpd-filter-copycat/internal/config"
	"github.com/shineum/smtpd-filter-copycat/internal/filter"
	"github.com/shineum/smtpd-filter-copycat/internal/metrics"
	"github.com/shineum/smtpd-filter-copycat/internal/notify"
	"github.com/shineum/smtpd-filter-copycat/internal/notify/graph"
	"github.com/shineum/smtpd-filter-copycat/internal/notify/ses"
	"github.com/shineum/smtpd-filter-copycat/internal/notify/slack"
	"github.com/shineum/smtpd-filter-copycat/internal/server"
	copycattls "github.com/shineum/smtpd-filter-copycat/internal/tls"
)

// buildVersion is set at link time.
var buildVersion = "dev"

// drainTimeout bounds how long a signalled stdio stream may take to finish.
const drainTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Fprintln(os.Stderr, "filter-copycat", buildVersion)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("filter-copycat failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// stdout carries the protocol; diagnostics go to stderr.
	slog.SetDefault(newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hooks, closers, err := buildHooks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close hook", "error", err)
			}
		}
	}()

	f := filter.New(filter.Config{
		Hooks:  hooks,
		Logger: slog.Default(),
	})

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	slog.Info("starting filter-copycat",
		"version", buildVersion,
		"stdio", cfg.StdioMode(),
		"hooks", len(hooks),
	)

	if cfg.StdioMode() {
		err = stdio(ctx, f, os.Stdin, os.Stdout, drainTimeout)
	} else {
		err = serve(ctx, cfg, f)
	}
	if err != nil {
		return err
	}

	slog.Info("filter-copycat stopped")
	return nil
}

// stdio runs the filter on r and w. Once ctx is cancelled it waits up to
// timeout for Run to return, so queued hook records are delivered before the
// hooks are closed. A stream still blocked on input after that is abandoned.
func stdio(ctx context.Context, f *filter.Filter, r io.Reader, w io.Writer, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, r, w) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		slog.Warn("filter stream did not finish, exiting", "timeout", timeout)
		return nil
	}
}

// serve runs the socket transport until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, f *filter.Filter) error {
	srvCfg := server.Config{
		Network: cfg.Listen.Network,
		Address: cfg.Listen.Address,
		Filter:  f,
	}
	if cfg.TLSEnabled() {
		tlsConfig, err := copycattls.Load(cfg.Listen.CertFile, cfg.Listen.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		srvCfg.TLSConfig = tlsConfig
	}

	return server.New(srvCfg).ListenAndServe(ctx)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newLogger builds the process logger writing to w in the given format.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildHooks creates the audit and alert hooks selected by configuration.
// The returned closers release their resources on exit.
func buildHooks(ctx context.Context, cfg *config.Config) ([]filter.Hook, []io.Closer, error) {
	var hooks []filter.Hook
	var closers []io.Closer

	if store := auditStore(cfg.Audit); store != nil {
		slog.Info("audit enabled", "driver", cfg.Audit.Driver)
		hooks = append(hooks, store)
		if c, ok := store.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	n, err := selectNotifier(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if n != nil {
		hooks = append(hooks, notify.NewHook(n, cfg.Notify.Recipients))
	}

	return hooks, closers, nil
}

// auditStore returns the audit hook for the configured driver, or nil.
func auditStore(cfg config.AuditConfig) filter.Hook {
	switch cfg.Driver {
	case "file":
		return audit.NewFile(cfg.Path)
	case "sqlite":
		return audit.NewSqlite(cfg.Path)
	case "mysql":
		return audit.NewMysql(cfg.DSN)
	default:
		return nil
	}
}

// selectNotifier chooses the alert backend based on configuration. It returns
// nil when alerts are disabled.
func selectNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Provider {
	case "":
		return nil, nil

	case "ses":
		slog.Info("using AWS SES notifier",
			"region", cfg.Notify.SES.Region,
			"sender", cfg.Notify.SES.Sender,
		)
		n, err := ses.New(ctx, ses.Config{
			Region:          cfg.Notify.SES.Region,
			AccessKeyID:     cfg.Notify.SES.AccessKeyID,
			SecretAccessKey: cfg.Notify.SES.SecretAccessKey,
			Sender:          cfg.Notify.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES notifier: %w", err)
		}
		return n, nil

	case "graph":
		slog.Info("using Microsoft Graph notifier",
			"sender", cfg.Notify.Graph.Sender,
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Notify.Graph.TenantID,
			ClientID:     cfg.Notify.Graph.ClientID,
			ClientSecret: cfg.Notify.Graph.ClientSecret,
			Sender:       cfg.Notify.Graph.Sender,
		}), nil

	case "slack":
		slog.Info("using Slack notifier", "channel", cfg.Notify.Slack.Channel)
		n, err := slack.New(slack.Config{
			Token:   cfg.Notify.Slack.Token,
			Channel: cfg.Notify.Slack.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Slack notifier: %w", err)
		}
		return n, nil

	default:
		return nil, errors.New("unknown notify provider: " + cfg.Notify.Provider)
	}
}
