// Package server accepts filter connections on a socket. Every connection is
// an independent protocol stream with its own session state.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Runner serves one protocol stream. *filter.Filter implements it.
type Runner interface {
	Run(ctx context.Context, r io.Reader, w io.Writer) error
}

// Config holds the configuration for a Server.
type Config struct {
	// Network is "tcp" or "unix".
	Network string

	// Address is the address to listen on (e.g., "127.0.0.1:4242" or a
	// socket path).
	Address string

	// TLSConfig enables TLS on accepted connections. If nil, connections are
	// plain.
	TLSConfig *tls.Config

	// Filter serves each accepted connection.
	Filter Runner
}

// Server accepts connections and hands each one to the filter.
type Server struct {
	config          Config
	listener        net.Listener
	shutdownTimeout time.Duration

	// wg tracks in-flight stream goroutines for graceful shutdown.
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}

	return &Server{
		config:          cfg,
		shutdownTimeout: shutdownTimeout,
		conns:           make(map[net.Conn]struct{}),
	}
}

// Listen opens the listener. A stale unix socket at Address is removed first.
func (s *Server) Listen() error {
	if s.config.Network == "unix" {
		if err := os.Remove(s.config.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.listener = ln

	slog.Info("filter listening",
		"network", s.config.Network,
		"addr", ln.Addr().String(),
		"tls_enabled", s.config.TLSConfig != nil,
	)
	return nil
}

// ListenAndServe opens the listener and serves until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until the context is cancelled. On cancellation
// it stops accepting new connections and waits up to 30 seconds for
// in-flight streams before closing them.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	ln := s.listener

	// Monitor context for shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down filter listener")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForStreams()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	slog.Debug("filter connection accepted", "remote", remote)

	if err := s.config.Filter.Run(ctx, conn, conn); err != nil {
		if ctx.Err() != nil {
			slog.Debug("filter stream closed during shutdown", "remote", remote, "error", err)
			return
		}
		slog.Error("filter stream failed", "remote", remote, "error", err)
		return
	}
	slog.Debug("filter connection closed", "remote", remote)
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// waitForStreams waits for all in-flight streams to complete, closing the
// remaining connections once the timeout is reached.
func (s *Server) waitForStreams() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all streams completed")
		return
	case <-time.After(s.shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	<-done
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
