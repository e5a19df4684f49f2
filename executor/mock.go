package executor

import (
	"context"
	"sync"
)

// MockRunner is a mock implementation of Runner for testing.
// It runs work inline on the calling goroutine.
type MockRunner struct {
	mu      sync.Mutex
	DoFunc  func(ctx context.Context, fn func(ctx context.Context) error) error
	DoCalls int
}

// Compile-time check that MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Do implements the Runner interface.
// It records the call, then:
// - If DoFunc is set, calls and returns it
// - Otherwise, runs fn directly
func (m *MockRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.DoCalls++
	m.mu.Unlock()

	if m.DoFunc != nil {
		return m.DoFunc(ctx, fn)
	}

	return fn(ctx)
}

// Calls returns the number of recorded Do calls.
func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DoCalls
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DoCalls = 0
}
