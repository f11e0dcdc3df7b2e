package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that was shut down
var ErrPoolClosed = errors.New("worker pool shut down")

// Task is a unit of work run by SafeGo or a Pool
type Task func(context.Context) error

// SafeGo runs fn in a goroutine with a timeout derived from parentCtx.
// Panics are recovered and, like returned errors, logged to log.
func SafeGo(parentCtx context.Context, log *logrus.Logger, timeout time.Duration, taskName string, fn Task) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		if err := run(ctx, fn); err != nil {
			log.WithField("task", taskName).Warnf("Background task failed: %v", err)
		}
	}()
}

// run calls fn, converting a panic into an error carrying the stack
func run(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the logger for dropped errors
func WithLogger(log *logrus.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// WithErrorHandler replaces the errors channel with fn. fn may be called
// from several workers at once.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pool) { p.onError = fn }
}

// Pool runs submitted tasks on a fixed number of workers. Each task gets
// its own timeout; failures are delivered to Errors or to the handler set
// with WithErrorHandler.
type Pool struct {
	workers  int
	taskName string
	timeout  time.Duration

	log     *logrus.Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool
	workCh chan Task
	errCh  chan error
	doneCh chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewPool starts a pool of workers. A non-positive worker count starts a
// single worker.
func NewPool(ctx context.Context, workers int, taskName string, timeout time.Duration, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan Task, workers*2),
		errCh:    make(chan error, workers*10),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.New()
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues fn. It blocks while the queue is full and fails once the
// pool is shut down or its context is done.
func (p *Pool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("%w: %w", ErrPoolClosed, p.ctx.Err())
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks
// to finish. Tasks still running after timeout have their contexts
// cancelled.
func (p *Pool) Shutdown(timeout time.Duration) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			err = fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
		}
	})
	return err
}

// Errors returns the channel failed tasks report to. It is unused when an
// error handler is configured.
func (p *Pool) Errors() <-chan error {
	return p.errCh
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
		return
	}
	select {
	case p.errCh <- err:
	default:
		p.log.WithField("task", p.taskName).Warnf("Error channel full, dropping error: %v", err)
	}
}

func (p *Pool) worker(id int) {
	for fn := range p.workCh {
		if err := p.ctx.Err(); err != nil {
			p.report(fmt.Errorf("%s: task skipped: %w", p.taskName, err))
			continue
		}

		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		err := run(ctx, fn)
		cancel()

		if err != nil {
			p.log.WithField("task", p.taskName).Debugf("Worker %d task failed: %v", id, err)
			p.report(err)
		}
	}
}

// Batch runs fn for every item on a temporary pool and returns the
// failures. Items whose task never started because ctx was done report
// ctx's error.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error, opts ...Option) []error {

	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	opts = append(opts, WithErrorHandler(collect))
	pool := NewPool(ctx, workers, taskName, timeout, opts...)

	for _, item := range items {
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			collect(err)
			break
		}
	}

	// Queued tasks drain before Shutdown returns; the timeout only guards
	// against tasks ignoring their context.
	pool.Shutdown(timeout*time.Duration(len(items)+1) + time.Second)

	mu.Lock()
	defer mu.Unlock()
	return errs
}
