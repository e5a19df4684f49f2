package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/go-sql-driver/mysql"
)

// MySQL is the MySQL/MariaDB dialect, backed by github.com/go-sql-driver/mysql.
// URLs take the form mysql://host:port/database?param=value.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (m MySQL) ValidateURL(rawURL string) error {
	_, err := m.config(rawURL)
	return err
}

func (m MySQL) config(rawURL string) (*mysql.Config, error) {
	u, err := url.Parse(trimJDBC(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid mysql url: %w", err)
	}
	if u.Scheme != "mysql" {
		return nil, fmt.Errorf("invalid mysql url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mysql url has no host")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = u.Host + ":3306"
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Loc = time.UTC

	for k, vs := range u.Query() {
		if k == "user" || k == "password" || len(vs) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[k] = vs[0]
	}

	// Round-trip through the driver's parser so unsupported parameters surface here.
	parsed, err := mysql.ParseDSN(cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("invalid mysql url: %w", err)
	}
	return parsed, nil
}

func (m MySQL) DSN(rawURL string, creds migrator.Credentials) (string, error) {
	cfg, err := m.config(rawURL)
	if err != nil {
		return "", err
	}
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	return cfg.FormatDSN(), nil
}

func (m MySQL) Redact(rawURL string) string {
	cfg, err := m.config(rawURL)
	if err != nil {
		return redactGeneric(rawURL)
	}
	return "mysql://" + cfg.Addr + "/" + cfg.DBName
}

// Target is mysql://host:port/database with the default port filled in.
func (m MySQL) Target(rawURL string) string {
	cfg, err := m.config(rawURL)
	if err != nil {
		return redactGeneric(rawURL)
	}
	return "mysql://" + strings.ToLower(cfg.Addr) + "/" + cfg.DBName
}

// TransactionalDDL is false: MySQL commits implicitly around DDL statements.
func (MySQL) TransactionalDDL() bool { return false }

func (MySQL) Isolation() sql.IsolationLevel { return sql.LevelRepeatableRead }

// Lock uses GET_LOCK. Lock names are server-wide, so ledgers with the same
// table name in different schemas of one server share a lock.
func (MySQL) Lock(ctx context.Context, conn *sql.Conn, key string) (func(context.Context) error, error) {
	// Lock names are limited to 64 characters.
	name := fmt.Sprintf("migrator_%x", lockKey(key))

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, -1)`, name).Scan(&got); err != nil {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", name, err)
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("GET_LOCK(%s): lock not granted", name)
	}
	return func(ctx context.Context) error {
		if _, err := conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, name); err != nil {
			return fmt.Errorf("RELEASE_LOCK(%s): %w", name, err)
		}
		return nil
	}, nil
}

func (MySQL) TableExistsQuery(table string) (string, []any) {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`, []any{schema, name}
	}
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`, []any{table}
}

func (MySQL) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

func (MySQL) IsConnectivityError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1049, 1130, 1251:
			return true
		}
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	return isNetworkError(err)
}
