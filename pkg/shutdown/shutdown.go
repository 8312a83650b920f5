// Package shutdown runs registered cleanup callbacks concurrently on
// process exit, bounded by the caller's context.
package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var shutdownLog = logrus.WithField("component", "shutdown")

// Handler is one cleanup callback. It must call wg.Done exactly once.
type Handler func(ctx context.Context, wg *sync.WaitGroup)

// Manager collects shutdown callbacks and runs them on Shutdown.
type Manager struct {
	mu        sync.Mutex
	callbacks []Handler
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a callback.
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, h)
	m.mu.Unlock()
}

// Shutdown runs all callbacks concurrently and blocks until they finish
// or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()
	if len(callbacks) == 0 {
		return
	}

	shutdownLog.Infof("shutting down, %d callbacks", len(callbacks))
	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go cb(ctx, &wg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		shutdownLog.Info("shutdown complete")
	case <-ctx.Done():
		shutdownLog.Warn("shutdown timed out")
	}
}
