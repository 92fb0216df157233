package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/renderbox/pkg/logging"
)

// Manager handles graceful shutdown of the serve mode
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	log           *logging.Logger
}

// New creates a new shutdown manager
func New(timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{timeout: timeout, log: log}
}

// Register adds a shutdown function
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGINT/SIGTERM arrives, then runs all registered
// shutdown functions under the configured timeout.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.log.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	m.Shutdown()
}

// Shutdown executes all registered shutdown functions
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			m.log.Error("shutdown step failed", map[string]interface{}{"step": i, "error": err.Error()})
		}
	}
	m.log.Info("shutdown complete")
}
