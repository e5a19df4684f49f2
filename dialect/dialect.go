// Package dialect hides the differences between the supported databases:
// connection strings, session locks, isolation levels and error classification.
package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"regexp"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

// Dialect describes one database flavour.
type Dialect interface {
	// Name is the short dialect name: "postgres", "mysql" or "sqlite".
	Name() string

	// DriverName is the database/sql driver the dialect registers under.
	DriverName() string

	// ValidateURL checks the syntax of a connection URL without touching the network.
	ValidateURL(rawURL string) error

	// DSN builds the driver data source name for rawURL with creds applied.
	DSN(rawURL string, creds migrator.Credentials) (string, error)

	// Redact returns rawURL without credentials, for logs and error messages.
	Redact(rawURL string) string

	// Target identifies the database rawURL points at, independent of how the
	// URL is spelled. It never contains credentials.
	Target(rawURL string) string

	// TransactionalDDL reports whether DDL statements roll back with their transaction.
	TransactionalDDL() bool

	// Isolation is the isolation level used for explicit transactions.
	Isolation() sql.IsolationLevel

	// Lock takes an exclusive lock named key on conn that other sessions of the
	// same database observe. Keys are ledger table names.
	// The returned release function must be called on the same conn.
	Lock(ctx context.Context, conn *sql.Conn, key string) (release func(context.Context) error, err error)

	// TableExistsQuery returns a query yielding a single non-zero value when table exists.
	TableExistsQuery(table string) (query string, args []any)

	// QuoteIdentifier quotes a possibly schema-qualified identifier.
	QuoteIdentifier(name string) string

	// IsConnectivityError reports whether err means the server was unreachable or
	// rejected the login, as opposed to a failing statement.
	IsConnectivityError(err error) bool
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateTableName ensures name is a plain or schema-qualified identifier that is
// safe to interpolate into SQL.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("table name must be <table> or <schema>.<table> (got: %s)", name)
	}
	for _, p := range parts {
		if !identifierRegex.MatchString(p) {
			return fmt.Errorf("table name must contain only letters, numbers, and underscores (got: %s)", name)
		}
	}
	return nil
}

// ForURL picks the dialect for rawURL by its scheme. A leading "jdbc:" is accepted.
func ForURL(rawURL string) (Dialect, error) {
	u := trimJDBC(rawURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return Postgres{}, nil
	case strings.HasPrefix(u, "mysql://"):
		return MySQL{}, nil
	case strings.HasPrefix(u, "sqlite:"), strings.HasPrefix(u, "sqlite3:"):
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database url %q: expected postgres://, mysql:// or sqlite: scheme", redactGeneric(rawURL))
	}
}

// ByName returns the dialect with the given name.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q: supported dialects are postgres, mysql, sqlite", name)
	}
}

func trimJDBC(rawURL string) string {
	return strings.TrimPrefix(strings.TrimSpace(rawURL), "jdbc:")
}

func redactGeneric(rawURL string) string {
	if i := strings.Index(rawURL, "@"); i >= 0 {
		if j := strings.Index(rawURL, "://"); j >= 0 && j < i {
			return rawURL[:j+3] + "***" + rawURL[i:]
		}
	}
	return rawURL
}

// lockKey hashes key into a positive int64 with FNV-1a.
func lockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // truncation is intended
}

// isNetworkError reports transport-level failures shared by all network drivers.
func isNetworkError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
