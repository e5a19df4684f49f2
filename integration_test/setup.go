//go:build integration

package integration_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// environment describes one isolated schema in the test database.
type environment struct {
	url      string
	username string
	password string
	schema   string
	dir      string
	db       *sqlx.DB
}

// newEnvironment reads DATABASE_URL, DATABASE_USER and DATABASE_PASSWORD and
// skips the test when DATABASE_URL is not set. Every environment works in its
// own schema, which is dropped when the test ends.
func newEnvironment(t *testing.T) *environment {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	env := &environment{
		url:      url,
		username: envOr("DATABASE_USER", "postgres"),
		password: os.Getenv("DATABASE_PASSWORD"),
		schema:   "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		dir:      t.TempDir(),
	}

	dsn, err := dialect.Postgres{}.DSN(url, migrator.Credentials{Username: env.username, Password: env.password})
	if err != nil {
		t.Fatalf("invalid DATABASE_URL: %v", err)
	}

	env.db, err = sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := env.db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	t.Cleanup(func() {
		if _, err := env.db.Exec("DROP SCHEMA IF EXISTS " + env.schema + " CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", env.schema, err)
		}
		_ = env.db.Close()
	})

	return env
}

func (e *environment) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// config returns a connection config whose ledger lives in the environment's
// schema. Scripts reach the schema through ${schema}.
func (e *environment) config(t *testing.T) migrator.ConnectionConfig {
	t.Helper()

	cfg, err := migrator.NewConnectionConfig(migrator.ConnectionParams{
		URL:                    e.url,
		Username:               e.username,
		Password:               e.password,
		MigrationsTable:        e.schema + ".schema_history",
		MigrationsLocations:    []string{"filesystem:" + e.dir},
		MigrationsPlaceholders: map[string]string{"schema": e.schema},
	})
	if err != nil {
		t.Fatalf("invalid connection config: %v", err)
	}
	return cfg
}

func (e *environment) table(name string) string {
	return fmt.Sprintf("%s.%s", e.schema, name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
