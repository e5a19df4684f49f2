package ledger

import (
	"context"
	"database/sql"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
)

// MockStore is an in-memory Store for tests. Without Func overrides it keeps
// appended rows in Records, ignoring the transaction.
type MockStore struct {
	mu sync.Mutex

	ExistsFunc  func(ctx context.Context) (bool, error)
	CreateFunc  func(ctx context.Context) error
	AppliedFunc func(ctx context.Context) ([]migrator.MigrationRecord, error)
	AppendFunc  func(ctx context.Context, tx *sql.Tx, rec migrator.MigrationRecord) error

	RecordedFunc func(ctx context.Context, tx *sql.Tx, version migrator.Version) (bool, error)

	Created bool
	Records []migrator.MigrationRecord

	// Call tracking
	CreateCalls int
	AppendCalls []migrator.MigrationRecord
}

// Compile-time check that MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Exists(ctx context.Context) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Created, nil
}

func (m *MockStore) Create(ctx context.Context) error {
	m.mu.Lock()
	m.CreateCalls++
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = true
	return nil
}

func (m *MockStore) Applied(ctx context.Context) ([]migrator.MigrationRecord, error) {
	if m.AppliedFunc != nil {
		return m.AppliedFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]migrator.MigrationRecord, len(m.Records))
	copy(out, m.Records)
	return out, nil
}

func (m *MockStore) Recorded(ctx context.Context, tx *sql.Tx, version migrator.Version) (bool, error) {
	if m.RecordedFunc != nil {
		return m.RecordedFunc(ctx, tx, version)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Records {
		if r.Success && r.Type == migrator.MigrationTypeSQL && r.Version.Equal(version) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) Append(ctx context.Context, tx *sql.Tx, rec migrator.MigrationRecord) error {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, rec)
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.InstalledRank = len(m.Records) + 1
	m.Records = append(m.Records, rec)
	return nil
}
