package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crosspay/crosspay_service/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

// ShutdownFunc adapts a function to Shutdowner
type ShutdownFunc func(timeout time.Duration) error

func (f ShutdownFunc) Shutdown(timeout time.Duration) error { return f(timeout) }

// ShutdownManager stops the HTTP server first, then registered components in
// registration order, then closes resources.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []namedShutdowner
	closers     []io.Closer
	timeout     time.Duration
	logger      *logger.Logger
}

type namedShutdowner struct {
	name string
	s    Shutdowner
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:  server,
		timeout: defaultTimeout,
		logger:  logger,
	}
}

// WithTimeout overrides the per-phase shutdown budget
func (sm *ShutdownManager) WithTimeout(timeout time.Duration) *ShutdownManager {
	if timeout > 0 {
		sm.timeout = timeout
	}
	return sm
}

func (sm *ShutdownManager) Register(name string, s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, namedShutdowner{name: name, s: s})
}

// OnClose registers a resource closed after every component has stopped
func (sm *ShutdownManager) OnClose(c io.Closer) {
	sm.closers = append(sm.closers, c)
}

// WaitForShutdown blocks until SIGINT or SIGTERM and then shuts down
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	sm.logger.Info("Shutting down gracefully...", "signal", sig.String())
	sm.Shutdown()
}

// Shutdown runs the shutdown sequence once
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, ns := range sm.shutdowners {
		if err := ns.s.Shutdown(sm.timeout); err != nil {
			sm.logger.Warn("Component shutdown error", "component", ns.name, "error", err)
			continue
		}
		sm.logger.Info("Component stopped", "component", ns.name)
	}

	for _, c := range sm.closers {
		if err := c.Close(); err != nil {
			sm.logger.Warn("Close error", "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
