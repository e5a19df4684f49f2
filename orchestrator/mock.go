package orchestrator

import (
	"context"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
)

// MockMigrator is a mock implementation of migrator.Migrator for testing.
type MockMigrator struct {
	mu           sync.Mutex
	MigrateFunc  func(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error)
	MigrateCalls []MigrateCall
}

// MigrateCall records the parameters of a single Migrate call.
type MigrateCall struct {
	Config   migrator.ConnectionConfig
	Identity migrator.Identity
}

// Compile-time check that MockMigrator implements migrator.Migrator.
var _ migrator.Migrator = (*MockMigrator)(nil)

// NewMockMigrator creates a new MockMigrator with an empty call history.
func NewMockMigrator() *MockMigrator {
	return &MockMigrator{
		MigrateCalls: make([]MigrateCall, 0),
	}
}

// Migrate implements the migrator.Migrator interface.
// It records the call parameters, then:
// - If MigrateFunc is set, calls and returns it
// - Otherwise, returns a successful empty result
func (m *MockMigrator) Migrate(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error) {
	m.mu.Lock()
	m.MigrateCalls = append(m.MigrateCalls, MigrateCall{Config: cfg, Identity: identity})
	m.mu.Unlock()

	if m.MigrateFunc != nil {
		return m.MigrateFunc(ctx, cfg, identity)
	}

	return migrator.MigrateResult{Success: true}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockMigrator) Calls() []MigrateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MigrateCall, len(m.MigrateCalls))
	copy(out, m.MigrateCalls)
	return out
}

// Reset clears the call history.
func (m *MockMigrator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MigrateCalls = make([]MigrateCall, 0)
}
