package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"talkgrader/pkg/logging"
)

// Manager coordinates graceful shutdown. Registered functions run in
// reverse order, so the HTTP listener stops accepting work before the
// stores behind it close.
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	log           *logging.Logger
}

func New(timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{timeout: timeout, log: log}
}

// Register adds a shutdown function. Functions run LIFO.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT, then runs every registered
// shutdown function.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.log.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})
	m.Shutdown()
}

// Shutdown executes all registered shutdown functions in LIFO order.
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
	m.log.Info("graceful shutdown complete")
}

// StopHTTPServer wraps an http.Server for registration.
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop %s server: %w", name, err)
		}
		return nil
	}
}

// CloseResource wraps an io.Closer for registration.
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
}

// WaitForPipelines waits for in-flight pipeline subprocesses to drain.
// wait must block until they are done.
func WaitForPipelines(wait func()) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for running pipelines: %w", ctx.Err())
		}
	}
}
