package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaultWorkers(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	assert.Equal(t, 4, e.Workers())
}

func TestExecutor_ReturnsJobError(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	want := errors.New("boom")
	err := e.Do(context.Background(), func(ctx context.Context) error { return want })

	assert.ErrorIs(t, err, want)
}

func TestExecutor_BoundsParallelism(t *testing.T) {
	e := New(Config{Workers: 2})
	defer e.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutor_RecoversPanics(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	err := e.Do(context.Background(), func(ctx context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The worker survives the panic.
	assert.NoError(t, e.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestExecutor_ContextCancelledWhileQueued(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := e.Do(ctx, func(ctx context.Context) error { return nil })
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_JobSeesCallerDeadline(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Do(ctx, func(jobCtx context.Context) error {
		select {
		case <-jobCtx.Done():
			return jobCtx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutor_StartedJobResultIsReturned(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool

	err := e.Do(ctx, func(jobCtx context.Context) error {
		cancel()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, finished.Load())
}

func TestExecutor_DoAfterClose(t *testing.T) {
	e := New(Config{Workers: 1})
	e.Close()
	e.Close()

	err := e.Do(context.Background(), func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrClosed)
}

func TestCall_ReturnsValue(t *testing.T) {
	e := New(Config{Workers: 1})
	defer e.Close()

	v, err := Call(context.Background(), e, func(ctx context.Context) (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestMockRunner_RunsInline(t *testing.T) {
	mock := NewMockRunner()
	called := false

	err := mock.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, mock.Calls())

	mock.DoFunc = func(ctx context.Context, fn func(ctx context.Context) error) error {
		return errors.New("rejected")
	}
	assert.EqualError(t, mock.Do(context.Background(), func(ctx context.Context) error { return nil }), "rejected")

	mock.Reset()
	assert.Equal(t, 0, mock.Calls())
}
