// Package pool provides the application's bounded, transactional connection pool.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/connector"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/getpup/pupsourcing-migrator/executor"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/orchestrator"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
)

// Config configures a Pool.
type Config struct {
	// Connection describes the database and its migrations (required).
	Connection migrator.ConnectionConfig

	// Settings sizes the pool. Zero fields fall back to migrator.DefaultPoolSettings().
	Settings migrator.PoolSettings

	// Connector opens the pool's database handle (default: connector.New).
	Connector connector.Connector

	// Migrator brings the schema up to date before the pool is returned
	// (default: an orchestrator running on the pool's executor).
	Migrator migrator.Migrator

	// Policy is used by the default Migrator (default: migrator.DefaultPolicy()).
	Policy *migrator.Policy

	// Metrics records pool activity (optional).
	Metrics *metrics.Collector

	// Logger is an optional logger for observability.
	Logger migrator.Logger
}

// Pool hands out transactions on at most Capacity connections at a time.
type Pool struct {
	config   Config
	settings migrator.PoolSettings
	dialect  dialect.Dialect
	db       *sqlx.DB
	sem      *semaphore.Weighted
	exec     *executor.Executor
	inUse    atomic.Int64
	closed   atomic.Bool
}

// New opens the pool as the application identity, verifies connectivity and
// migrates the schema. Any failure is returned as a *migrator.PoolInitializationError
// and leaves nothing open.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	settings, err := withDefaults(cfg.Settings)
	if err != nil {
		return nil, &migrator.PoolInitializationError{Err: err}
	}

	d, err := dialect.ForURL(cfg.Connection.URL())
	if err != nil {
		return nil, &migrator.PoolInitializationError{
			Err: &migrator.ConfigurationError{Field: "url", Reason: err.Error()},
		}
	}

	if cfg.Connector == nil {
		cfg.Connector = connector.New(connector.Config{Logger: cfg.Logger})
	}

	creds := migrator.AppIdentity().Resolve(cfg.Connection)
	db, err := cfg.Connector.Connect(ctx, d, cfg.Connection.URL(), creds)
	if err != nil {
		return nil, &migrator.PoolInitializationError{Err: err}
	}
	// One connection beyond capacity stays free for Ping.
	db.SetMaxOpenConns(settings.Capacity + 1)
	db.SetMaxIdleConns(settings.Capacity + 1)

	p := &Pool{
		config:   cfg,
		settings: settings,
		dialect:  d,
		db:       sqlx.NewDb(db, d.DriverName()),
		sem:      semaphore.NewWeighted(int64(settings.Capacity)),
		exec:     executor.New(executor.Config{Workers: settings.Capacity, Logger: cfg.Logger}),
	}

	if err := p.migrate(ctx); err != nil {
		p.exec.Close()
		_ = db.Close()
		return nil, &migrator.PoolInitializationError{Err: err}
	}

	cfg.Metrics.SetPoolCapacity(settings.Capacity)
	cfg.Metrics.SetConnectionsInUse(0)
	cfg.Metrics.SetHealthy(true)

	if cfg.Logger != nil {
		cfg.Logger.Info(ctx, "connection pool ready",
			"target", d.Redact(cfg.Connection.URL()),
			"capacity", settings.Capacity,
			"acquireTimeout", settings.AcquireTimeout)
	}

	return p, nil
}

func withDefaults(s migrator.PoolSettings) (migrator.PoolSettings, error) {
	def := migrator.DefaultPoolSettings()
	switch {
	case s.Capacity < 0:
		return s, &migrator.ConfigurationError{Field: "pool.capacity", Reason: "must not be negative"}
	case s.AcquireTimeout < 0:
		return s, &migrator.ConfigurationError{Field: "pool.acquire-timeout", Reason: "must not be negative"}
	case s.HealthCheckInterval < 0:
		return s, &migrator.ConfigurationError{Field: "pool.health-check-interval", Reason: "must not be negative"}
	}
	if s.Capacity == 0 {
		s.Capacity = def.Capacity
	}
	if s.AcquireTimeout == 0 {
		s.AcquireTimeout = def.AcquireTimeout
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = def.HealthCheckInterval
	}
	return s, nil
}

func (p *Pool) migrate(ctx context.Context) error {
	m := p.config.Migrator
	if m == nil {
		m = orchestrator.New(orchestrator.Config{
			Connector: p.config.Connector,
			Executor:  p.exec,
			Policy:    p.config.Policy,
			Logger:    p.config.Logger,
		})
	}

	result, err := m.Migrate(ctx, p.config.Connection, migrator.AppIdentity())
	if err != nil {
		return err
	}
	if !result.Success {
		if result.Failure != nil {
			return result.Failure
		}
		return errors.New("migration did not succeed")
	}
	return nil
}

// Settings returns the effective pool settings.
func (p *Pool) Settings() migrator.PoolSettings {
	return p.settings
}

// Capacity returns the maximum number of concurrently held connections.
func (p *Pool) Capacity() int {
	return p.settings.Capacity
}

// Available returns the number of connections not held by a transaction.
func (p *Pool) Available() int {
	return p.settings.Capacity - int(p.inUse.Load())
}

// acquire reserves a slot, waiting at most AcquireTimeout.
func (p *Pool) acquire(ctx context.Context) (func(), error) {
	if p.closed.Load() {
		return nil, migrator.ErrPoolClosed
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, p.settings.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.config.Metrics.IncPoolExhausted()
		if p.config.Logger != nil {
			p.config.Logger.Warn(ctx, "connection pool exhausted",
				"capacity", p.settings.Capacity, "waited", time.Since(start))
		}
		return nil, fmt.Errorf("%w: no connection available within %s", migrator.ErrPoolExhausted, p.settings.AcquireTimeout)
	}
	p.config.Metrics.ObserveAcquireWait(time.Since(start).Seconds())

	if p.closed.Load() {
		p.sem.Release(1)
		return nil, migrator.ErrPoolClosed
	}

	p.config.Metrics.SetConnectionsInUse(int(p.inUse.Add(1)))
	return func() {
		p.config.Metrics.SetConnectionsInUse(int(p.inUse.Add(-1)))
		p.sem.Release(1)
	}, nil
}

// WithTransaction runs work inside a transaction on a pooled connection and
// returns its value. The transaction commits when work returns nil and rolls
// back when work returns an error or panics; a panic is returned as an error.
// The connection is released on every path.
func WithTransaction[T any](ctx context.Context, p *Pool, work func(ctx context.Context, tx *sqlx.Tx) (T, error)) (T, error) {
	var zero T

	release, err := p.acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	return executor.Call(ctx, p.exec, func(ctx context.Context) (T, error) {
		return transact(ctx, p, work)
	})
}

func transact[T any](ctx context.Context, p *Pool, work func(ctx context.Context, tx *sqlx.Tx) (T, error)) (out T, err error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: p.dialect.Isolation()})
	if err != nil {
		return out, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && p.config.Logger != nil {
			p.config.Logger.Error(ctx, "rollback failed", "error", rbErr)
		}
		p.config.Metrics.IncTransactions(metrics.OutcomeRolledBack)
	}()

	v, err := work(ctx, tx)
	if err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	p.config.Metrics.IncTransactions(metrics.OutcomeCommitted)
	return v, nil
}

// Run is WithTransaction for work without a result.
func (p *Pool) Run(ctx context.Context, work func(ctx context.Context, tx *sqlx.Tx) error) error {
	_, err := WithTransaction(ctx, p, func(ctx context.Context, tx *sqlx.Tx) (struct{}, error) {
		return struct{}{}, work(ctx, tx)
	})
	return err
}

// Ping verifies the database is reachable. It does not take a pool slot, so
// a pool busy with transactions still answers within ctx.
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return migrator.ErrPoolClosed
	}
	return p.db.PingContext(ctx)
}

// Close closes the database handle and stops the workers. Subsequent calls are no-ops.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.exec.Close()
	p.config.Metrics.SetHealthy(false)

	if p.config.Logger != nil {
		p.config.Logger.Info(context.Background(), "connection pool closed")
	}
	return p.db.Close()
}
