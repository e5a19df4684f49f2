package connector

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLConnector_ConnectSQLite(t *testing.T) {
	c := New(Config{})
	url := "sqlite:" + filepath.Join(t.TempDir(), "app.db")

	db, err := c.Connect(context.Background(), dialect.SQLite{}, url, migrator.Credentials{Username: "app"})

	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, 2, db.Stats().MaxOpenConnections)
}

func TestSQLConnector_UnreachableDatabaseIsConnectivityError(t *testing.T) {
	c := New(Config{})
	url := "sqlite:" + filepath.Join(t.TempDir(), "missing-dir", "app.db") + "?mode=ro"

	_, err := c.Connect(context.Background(), dialect.SQLite{}, url, migrator.Credentials{Username: "app"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, migrator.ErrConnectivity))
	var connErr *migrator.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "app", connErr.Username)
}

func TestSQLConnector_MalformedURLIsConfigurationError(t *testing.T) {
	c := New(Config{})

	_, err := c.Connect(context.Background(), dialect.Postgres{}, "postgres:///nohost", migrator.Credentials{Username: "app"})

	assert.True(t, errors.Is(err, migrator.ErrConfiguration))
}

func TestMockConnector_RecordsCredentials(t *testing.T) {
	mock := NewMockConnector()
	mock.ConnectFunc = func(ctx context.Context, d dialect.Dialect, rawURL string, creds migrator.Credentials) (*sql.DB, error) {
		return nil, errors.New("refused")
	}

	_, err := mock.Connect(context.Background(), dialect.SQLite{}, "sqlite:x.db", migrator.Credentials{Username: "root", Password: "pw"})

	assert.EqualError(t, err, "refused")
	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sqlite", calls[0].Dialect)
	assert.Equal(t, migrator.Credentials{Username: "root", Password: "pw"}, calls[0].Credentials)

	mock.Reset()
	assert.Empty(t, mock.Calls())
}

func TestMockConnector_DefaultFailsWithConnectivityError(t *testing.T) {
	mock := NewMockConnector()

	_, err := mock.Connect(context.Background(), dialect.SQLite{}, "sqlite:x.db", migrator.Credentials{Username: "app"})

	assert.True(t, errors.Is(err, migrator.ErrConnectivity))
}
