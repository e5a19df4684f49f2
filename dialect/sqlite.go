package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const (
	// sqliteLockPoll is how often a waiting Lock retries.
	sqliteLockPoll = 50 * time.Millisecond

	// sqliteLockStale is the age after which a lock row left by a crashed
	// process is taken over.
	sqliteLockStale = 30 * time.Minute
)

// SQLite is the SQLite dialect, backed by github.com/mattn/go-sqlite3.
// URLs take the form sqlite:path/to/file.db. Credentials are not used.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func sqlitePath(rawURL string) string {
	u := trimJDBC(rawURL)
	for _, prefix := range []string{"sqlite3:", "sqlite:"} {
		if strings.HasPrefix(u, prefix) {
			u = strings.TrimPrefix(u, prefix)
			break
		}
	}
	return strings.TrimPrefix(u, "//")
}

func (SQLite) ValidateURL(rawURL string) error {
	u := trimJDBC(rawURL)
	if !strings.HasPrefix(u, "sqlite:") && !strings.HasPrefix(u, "sqlite3:") {
		return fmt.Errorf("invalid sqlite url %q: expected sqlite:<path>", rawURL)
	}
	if sqlitePath(rawURL) == "" {
		return fmt.Errorf("sqlite url has no path")
	}
	return nil
}

func (s SQLite) DSN(rawURL string, _ migrator.Credentials) (string, error) {
	if err := s.ValidateURL(rawURL); err != nil {
		return "", err
	}
	path := sqlitePath(rawURL)
	if path == ":memory:" {
		return "file::memory:?cache=shared&_busy_timeout=5000&_txlock=immediate", nil
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_busy_timeout=5000&_txlock=immediate", nil
}

func (SQLite) Redact(rawURL string) string { return rawURL }

// Target is sqlite: followed by the absolute, symlink-free path of the file.
func (SQLite) Target(rawURL string) string {
	p := strings.TrimPrefix(sqlitePath(rawURL), "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return "sqlite::memory:"
	}

	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	// The file may not exist yet, so resolve the directory only.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		p = filepath.Join(dir, filepath.Base(p))
	}
	return "sqlite:" + p
}

func (SQLite) TransactionalDDL() bool { return true }

// Isolation is the default level: SQLite transactions are serializable and the
// driver rejects explicit levels it does not implement.
func (SQLite) Isolation() sql.IsolationLevel { return sql.LevelDefault }

// Lock inserts the single row of a <key>_lock table and waits while another
// session holds it. Rows older than sqliteLockStale are taken over.
func (s SQLite) Lock(ctx context.Context, conn *sql.Conn, key string) (func(context.Context) error, error) {
	if _, name, ok := strings.Cut(key, "."); ok {
		key = name
	}
	table := s.QuoteIdentifier(key + "_lock")

	create := `CREATE TABLE IF NOT EXISTS ` + table + ` (
    id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    acquired_at INTEGER NOT NULL
)`
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create sqlite lock table: %w", err)
	}

	owner := uuid.NewString()
	for {
		now := time.Now()
		if _, err := conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE acquired_at < ?`, now.Add(-sqliteLockStale).Unix()); err != nil {
			return nil, fmt.Errorf("acquire sqlite lock: %w", err)
		}
		res, err := conn.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (id, owner, acquired_at) VALUES (1, ?, ?)`, owner, now.Unix())
		if err != nil {
			return nil, fmt.Errorf("acquire sqlite lock: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire sqlite lock: %w", ctx.Err())
		case <-time.After(sqliteLockPoll):
		}
	}

	return func(ctx context.Context) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("release sqlite lock: %w", err)
		}
		return nil
	}, nil
}

func (SQLite) TableExistsQuery(table string) (string, []any) {
	if _, name, ok := strings.Cut(table, "."); ok {
		table = name
	}
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{table}
}

func (SQLite) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func (SQLite) IsConnectivityError(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrAuth, sqlite3.ErrPerm:
			return true
		}
	}
	return false
}
