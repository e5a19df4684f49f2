package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/lib/pq"
)

// Postgres is the PostgreSQL dialect, backed by github.com/lib/pq.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }

func (Postgres) ValidateURL(rawURL string) error {
	u, err := url.Parse(trimJDBC(rawURL))
	if err != nil {
		return fmt.Errorf("invalid postgres url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("invalid postgres url scheme %q", u.Scheme)
	}
	if u.Host == "" && u.Query().Get("host") == "" {
		return fmt.Errorf("postgres url has no host")
	}
	return nil
}

func (p Postgres) DSN(rawURL string, creds migrator.Credentials) (string, error) {
	if err := p.ValidateURL(rawURL); err != nil {
		return "", err
	}
	u, _ := url.Parse(trimJDBC(rawURL))
	u.Scheme = "postgres"

	// Query-string credentials would override the userinfo, so drop them.
	q := u.Query()
	q.Del("user")
	q.Del("password")
	u.RawQuery = q.Encode()

	if creds.Password != "" {
		u.User = url.UserPassword(creds.Username, creds.Password)
	} else {
		u.User = url.User(creds.Username)
	}
	return u.String(), nil
}

func (Postgres) Redact(rawURL string) string {
	u, err := url.Parse(trimJDBC(rawURL))
	if err != nil {
		return redactGeneric(rawURL)
	}
	u.User = nil
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Target is postgres://host:port/database with the default port filled in.
func (p Postgres) Target(rawURL string) string {
	u, err := url.Parse(trimJDBC(rawURL))
	if err != nil {
		return p.Redact(rawURL)
	}
	q := u.Query()
	host := u.Hostname()
	if host == "" {
		host = q.Get("host")
	}
	port := u.Port()
	if port == "" {
		port = q.Get("port")
	}
	if port == "" {
		port = "5432"
	}
	return "postgres://" + net.JoinHostPort(strings.ToLower(host), port) + "/" + strings.TrimPrefix(u.Path, "/")
}

func (Postgres) TransactionalDDL() bool { return true }

func (Postgres) Isolation() sql.IsolationLevel { return sql.LevelRepeatableRead }

func (Postgres) Lock(ctx context.Context, conn *sql.Conn, key string) (func(context.Context) error, error) {
	id := lockKey(key)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", id, err)
	}
	return func(ctx context.Context) error {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
			return fmt.Errorf("pg_advisory_unlock(%d): %w", id, err)
		}
		return nil
	}, nil
}

func (Postgres) TableExistsQuery(table string) (string, []any) {
	return `SELECT CASE WHEN to_regclass($1) IS NULL THEN 0 ELSE 1 END`, []any{table}
}

func (Postgres) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (Postgres) IsConnectivityError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "28", "3D":
			return true
		}
		return pqErr.Code == "57P03"
	}
	return isNetworkError(err)
}
