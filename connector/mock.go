package connector

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
)

// MockConnector is a mock implementation of Connector for testing.
type MockConnector struct {
	mu           sync.Mutex
	ConnectFunc  func(ctx context.Context, d dialect.Dialect, rawURL string, creds migrator.Credentials) (*sql.DB, error)
	ConnectCalls []ConnectCall
}

// ConnectCall records the parameters of a single Connect call.
type ConnectCall struct {
	Dialect     string
	URL         string
	Credentials migrator.Credentials
}

// NewMockConnector creates a new MockConnector with an empty call history.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		ConnectCalls: make([]ConnectCall, 0),
	}
}

// Connect implements the Connector interface.
// It records the call, then returns ConnectFunc's result, or a connectivity
// error when ConnectFunc is not set.
func (m *MockConnector) Connect(ctx context.Context, d dialect.Dialect, rawURL string, creds migrator.Credentials) (*sql.DB, error) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, ConnectCall{
		Dialect:     d.Name(),
		URL:         rawURL,
		Credentials: creds,
	})
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, d, rawURL, creds)
	}

	return nil, &migrator.ConnectivityError{Target: d.Redact(rawURL), Username: creds.Username, Err: errors.New("mock: no ConnectFunc set")}
}

// Calls returns a copy of the recorded calls.
func (m *MockConnector) Calls() []ConnectCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ConnectCall, len(m.ConnectCalls))
	copy(calls, m.ConnectCalls)
	return calls
}

// Reset clears the call history.
func (m *MockConnector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls = make([]ConnectCall, 0)
}
