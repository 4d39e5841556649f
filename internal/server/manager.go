// Package server runs an http.Handler on a TCP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

var (
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("server is closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("server already started")
)

// Config holds listener and timeout settings.
type Config struct {
	Name            string
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":4144",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    600 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager owns one http.Server.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *logger.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewManager creates a Manager serving handler.
func NewManager(handler http.Handler, config Config, log *logger.Logger) *Manager {
	return &Manager{
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		listener: nil,
		errCh:    make(chan error, 1),
		config:   config,
		logger:   log,
		mu:       sync.RWMutex{},
		closed:   false,
	}
}

// Start listens and serves in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.listener != nil {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}

	m.listener = listener
	m.logger.Info("Starting %s server on %s", m.config.Name, listener.Addr())

	go m.serve(listener)

	return nil
}

func (m *Manager) serve(listener net.Listener) {
	err := m.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("%s server failed: %v", m.config.Name, err)

		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown stops accepting connections and waits for in-flight requests, up
// to the configured shutdown timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("Shutting down %s server", m.config.Name)

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	err := m.server.Shutdown(shutdownCtx)
	if err != nil {
		m.logger.Error("%s server shutdown failed: %v", m.config.Name, err)

		return fmt.Errorf("%s server shutdown: %w", m.config.Name, err)
	}

	m.listener = nil
	m.logger.Info("%s server stopped", m.config.Name)

	return nil
}

// Run starts the server and blocks until ctx is cancelled or the server
// fails, then shuts it down.
func (m *Manager) Run(ctx context.Context) error {
	err := m.Start()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case serveErr := <-m.errCh:
		_ = m.Shutdown(context.WithoutCancel(ctx))

		return fmt.Errorf("%s server exited: %w", m.config.Name, serveErr)
	}

	return m.Shutdown(context.WithoutCancel(ctx))
}

// Errors returns asynchronous server errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the bound address once started, else the configured one.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listener != nil {
		return m.listener.Addr().String()
	}

	return m.config.Addr
}

// IsRunning reports whether Shutdown has not been called.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return !m.closed
}
