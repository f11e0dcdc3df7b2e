package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs cleanup functions when the process is asked to stop
type ShutdownManager struct {
	log     *logrus.Logger
	funcs   []namedShutdown
	timeout time.Duration
	mu      sync.Mutex
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a shutdown manager. A zero timeout defaults to
// 30 seconds.
func NewShutdownManager(log *logrus.Logger, timeout time.Duration) *ShutdownManager {
	if log == nil {
		log = logrus.New()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{log: log, timeout: timeout}
}

// Register adds a cleanup function. Functions run in reverse registration
// order, one at a time, so later components stop before the ones they use.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then calls Shutdown
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.log.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.log.Info("Context done, starting graceful shutdown")
	}

	return sm.Shutdown()
}

// Shutdown runs every registered function within the manager timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	funcs := make([]namedShutdown, len(sm.funcs))
	copy(funcs, sm.funcs)
	sm.funcs = nil
	sm.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if ctx.Err() != nil {
			sm.log.Warn("Shutdown timeout reached, skipping remaining shutdown functions")
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", f.name))
			break
		}

		sm.log.Debugf("Executing shutdown function %s", f.name)
		if err := f.fn(ctx); err != nil {
			sm.log.WithError(err).Errorf("Shutdown function %s failed", f.name)
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.log.Info("Graceful shutdown complete")
	return nil
}
