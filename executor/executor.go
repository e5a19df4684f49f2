// Package executor runs blocking database work on a fixed set of worker
// goroutines so callers never exceed a known degree of parallelism.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("executor closed")

// Config configures the executor.
type Config struct {
	// Workers is the number of worker goroutines (default: 4).
	Workers int

	// Logger is an optional logger for observability.
	Logger migrator.Logger
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Executor is a bounded worker pool.
type Executor struct {
	config Config
	jobs   chan job
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Compile-time check that Executor implements Runner.
var _ Runner = (*Executor)(nil)

// New starts an Executor with the given configuration.
// It applies default values for Workers if zero.
func New(cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	e := &Executor{
		config: cfg,
		jobs:   make(chan job),
		closed: make(chan struct{}),
	}

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.work()
	}

	return e
}

func (e *Executor) work() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closed:
			return
		case j := <-e.jobs:
			j.done <- e.run(j)
		}
	}
}

func (e *Executor) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in executor job: %v", r)
			if e.config.Logger != nil {
				e.config.Logger.Error(j.ctx, "executor job panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}
	}()
	return j.fn(j.ctx)
}

// Do hands fn to a free worker and waits for its result. fn receives ctx
// unchanged; work that must outlive its caller detaches with context.WithoutCancel.
// Returns ctx.Err() if ctx ends before a worker picks the job up, and ErrClosed
// after Close. A panic in fn is returned as an error.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	select {
	case e.jobs <- j:
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-j.done
}

// Workers returns the number of worker goroutines.
func (e *Executor) Workers() int {
	return e.config.Workers
}

// Close stops the workers after in-flight jobs finish. It is safe to call more than once.
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
}
