package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/edgeconnect/pkg/logging"
)

// Func is a teardown step. It receives a context bounded by the manager timeout.
type Func func(context.Context) error

type step struct {
	name string
	fn   Func
}

// Manager handles graceful shutdown
type Manager struct {
	steps    []step
	mu       sync.Mutex
	timeout  time.Duration
	doneChan chan struct{}
	once     sync.Once
	ran      bool
	logger   *logging.Logger
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
		logger:   logger.WithComponent("shutdown"),
	}
}

// Register adds a named shutdown function.
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger initiates shutdown without a signal.
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Shutdown executes all registered shutdown functions once and returns the
// errors joined.
func (m *Manager) Shutdown() error {
	m.Trigger()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ran {
		return nil
	}
	m.ran = true

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]
		m.logger.Debug("Running shutdown step", map[string]interface{}{"step": s.name})
		if err := s.fn(ctx); err != nil {
			m.logger.Warn("Shutdown step failed", map[string]interface{}{"step": s.name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	m.logger.Info("Graceful shutdown complete")
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("shutdown: %d step(s) failed: %v", len(errs), errs)
}

// WaitWithContext blocks until a shutdown signal, a Trigger call or context
// cancellation, then runs Shutdown.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
	case <-m.doneChan:
		m.logger.Info("Shutdown requested")
	case <-ctx.Done():
		m.logger.Info("Context cancelled, initiating graceful shutdown")
	}
	return m.Shutdown()
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop http server: %w", err)
		}
		return nil
	}
}

// Stopper adapts anything with Stop(ctx) error.
func Stopper(s interface{ Stop(context.Context) error }) Func {
	return s.Stop
}

// CloseResource creates a shutdown function for a Stop() without context.
func CloseResource(stop func()) Func {
	return func(ctx context.Context) error {
		stop()
		return nil
	}
}
