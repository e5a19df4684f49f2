// Package connector opens short-lived database handles with explicit credentials.
package connector

import (
	"context"
	"database/sql"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
)

// Connector opens a database handle for a URL with the given credentials.
// Implementations must verify the connection before returning.
type Connector interface {
	Connect(ctx context.Context, d dialect.Dialect, rawURL string, creds migrator.Credentials) (*sql.DB, error)
}

// Config configures the SQLConnector.
type Config struct {
	// PingTimeout bounds the initial connection check (default: 10s).
	PingTimeout time.Duration

	// MaxOpenConns caps the handle's connections (default: 2, one for the session
	// lock and one for script transactions).
	MaxOpenConns int

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// SQLConnector opens handles through database/sql.
type SQLConnector struct {
	config Config
}

// Compile-time check that SQLConnector implements Connector.
var _ Connector = (*SQLConnector)(nil)

// New creates a SQLConnector, applying defaults for zero values.
func New(cfg Config) *SQLConnector {
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 2
	}
	return &SQLConnector{config: cfg}
}

// Connect opens and pings a handle. A malformed URL yields a *migrator.ConfigurationError;
// any failure to reach or log into the server yields a *migrator.ConnectivityError.
func (c *SQLConnector) Connect(ctx context.Context, d dialect.Dialect, rawURL string, creds migrator.Credentials) (*sql.DB, error) {
	dsn, err := d.DSN(rawURL, creds)
	if err != nil {
		return nil, &migrator.ConfigurationError{Field: "url", Reason: err.Error()}
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, &migrator.ConnectivityError{Target: d.Redact(rawURL), Username: creds.Username, Err: err}
	}
	db.SetMaxOpenConns(c.config.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, c.config.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if c.config.Logger != nil {
			c.config.Logger.Error(ctx, "database connection failed",
				"target", d.Redact(rawURL), "username", creds.Username, "error", err)
		}
		return nil, &migrator.ConnectivityError{Target: d.Redact(rawURL), Username: creds.Username, Err: err}
	}

	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "database connection opened",
			"target", d.Redact(rawURL), "username", creds.Username, "dialect", d.Name())
	}

	return db, nil
}
