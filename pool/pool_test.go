package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/connector"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/orchestrator"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connection(t *testing.T, scripts map[string]string) migrator.ConnectionConfig {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "migration")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	cfg, err := migrator.NewConnectionConfig(migrator.ConnectionParams{
		URL:                 "sqlite:" + filepath.Join(root, "app.db"),
		Username:            "app",
		Password:            "secret",
		MigrationsTable:     "schema_history",
		MigrationsLocations: []string{"filesystem:" + dir},
	})
	require.NoError(t, err)
	return cfg
}

var itemsSchema = map[string]string{
	"V1__create_items.sql": "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
}

func newPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Connection.URL() == "" {
		cfg.Connection = connection(t, itemsSchema)
	}
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func countItems(t *testing.T, p *Pool) int {
	t.Helper()
	n, err := WithTransaction(context.Background(), p, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		var n int
		err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM items`)
		return n, err
	})
	require.NoError(t, err)
	return n
}

func TestNew_MigratesBeforeReturning(t *testing.T) {
	p := newPool(t, Config{})

	assert.Equal(t, 3, p.Capacity())
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 0, countItems(t, p), "items table is created by the migration")
}

func TestNew_AppliesSettingsDefaults(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 5}})

	assert.Equal(t, migrator.PoolSettings{
		Capacity:            5,
		AcquireTimeout:      30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}, p.Settings())
}

func TestNew_MigratesAsApplicationIdentity(t *testing.T) {
	mock := orchestrator.NewMockMigrator()
	conn := connection(t, itemsSchema)

	_ = newPool(t, Config{Connection: conn, Migrator: mock})

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Identity.IsAdmin())
	assert.Equal(t, conn.URL(), calls[0].Config.URL())
}

func TestNew_Failures(t *testing.T) {
	t.Run("failing migration", func(t *testing.T) {
		conn := connection(t, map[string]string{"V1__broken.sql": "CREATE TABLEE items (id INTEGER);"})

		p, err := New(context.Background(), Config{Connection: conn})

		assert.Nil(t, p)
		require.Error(t, err)
		assert.True(t, errors.Is(err, migrator.ErrPoolInitialization))
		assert.True(t, errors.Is(err, migrator.ErrScriptExecution))
	})

	t.Run("migrator error", func(t *testing.T) {
		mock := orchestrator.NewMockMigrator()
		mock.MigrateFunc = func(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error) {
			return migrator.MigrateResult{}, &migrator.IntegrityError{Reason: "checksum changed"}
		}

		_, err := New(context.Background(), Config{Connection: connection(t, nil), Migrator: mock})

		assert.True(t, errors.Is(err, migrator.ErrPoolInitialization))
		assert.True(t, errors.Is(err, migrator.ErrIntegrity))
	})

	t.Run("unsuccessful result without failure", func(t *testing.T) {
		mock := orchestrator.NewMockMigrator()
		mock.MigrateFunc = func(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error) {
			return migrator.MigrateResult{Success: false}, nil
		}

		_, err := New(context.Background(), Config{Connection: connection(t, nil), Migrator: mock})

		assert.True(t, errors.Is(err, migrator.ErrPoolInitialization))
	})

	t.Run("unreachable database", func(t *testing.T) {
		mock := connector.NewMockConnector()

		_, err := New(context.Background(), Config{Connection: connection(t, nil), Connector: mock})

		assert.True(t, errors.Is(err, migrator.ErrPoolInitialization))
		assert.True(t, errors.Is(err, migrator.ErrConnectivity))
		require.Len(t, mock.Calls(), 1)
		assert.Equal(t, migrator.Credentials{Username: "app", Password: "secret"}, mock.Calls()[0].Credentials)
	})

	t.Run("unsupported url", func(t *testing.T) {
		conn, err := migrator.NewConnectionConfig(migrator.ConnectionParams{
			URL:                 "oracle://db",
			Username:            "app",
			MigrationsTable:     "schema_history",
			MigrationsLocations: []string{"db/migration"},
		})
		require.NoError(t, err)

		_, err = New(context.Background(), Config{Connection: conn})

		assert.True(t, errors.Is(err, migrator.ErrPoolInitialization))
		assert.True(t, errors.Is(err, migrator.ErrConfiguration))
	})

	t.Run("negative capacity", func(t *testing.T) {
		_, err := New(context.Background(), Config{
			Connection: connection(t, nil),
			Settings:   migrator.PoolSettings{Capacity: -1},
		})

		assert.True(t, errors.Is(err, migrator.ErrConfiguration))
	})
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	p := newPool(t, Config{})

	id, err := WithTransaction(context.Background(), p, func(ctx context.Context, tx *sqlx.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "first")
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, countItems(t, p))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 2}})
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "doomed"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, p.Capacity(), p.Available(), "every failed transaction releases its connection")
	assert.Equal(t, 0, countItems(t, p))
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	p := newPool(t, Config{})

	err := p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "doomed"); err != nil {
			return err
		}
		panic("unexpected")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
	assert.Equal(t, p.Capacity(), p.Available())
	assert.Equal(t, 0, countItems(t, p))
}

func TestWithTransaction_ExhaustedAfterTimeout(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 1, AcquireTimeout: 50 * time.Millisecond}})

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	assert.Equal(t, 0, p.Available())
	start := time.Now()
	err := p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		t.Error("work must not run without a connection")
		return nil
	})

	assert.ErrorIs(t, err, migrator.ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, 1, p.Available())
}

func TestWithTransaction_WaiterProceedsWhenReleased(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 1, AcquireTimeout: 5 * time.Second}})

	holding := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			close(holding)
			time.Sleep(50 * time.Millisecond)
			_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "first")
			return err
		})
	}()
	<-holding

	err := p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "second")
		return err
	})
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 2, countItems(t, p))
}

func TestWithTransaction_CallerContextEndsWhileWaiting(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 1, AcquireTimeout: 5 * time.Second}})

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error { return nil })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, migrator.ErrPoolExhausted)

	close(release)
	<-done
}

func TestWithTransaction_WorkSeesCallerDeadline(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 1, AcquireTimeout: time.Second}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("work must see the caller's deadline")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 0, countItems(t, p))
}

func TestWithTransaction_ConcurrentCallersNeverExceedCapacity(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 2, AcquireTimeout: 10 * time.Second}})

	var mu sync.Mutex
	var active, peak int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()

				_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "row")

				mu.Lock()
				active--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 8, countItems(t, p))
	assert.Equal(t, 2, p.Available())
}

func TestPool_Metrics(t *testing.T) {
	collector := metrics.NewCollector("pool-test")
	p := newPool(t, Config{Metrics: collector, Settings: migrator.PoolSettings{Capacity: 4}})

	require.NoError(t, p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error { return nil }))
	_ = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error { return errors.New("nope") })

	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.PoolCapacity.WithLabelValues("pool-test")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.PoolConnectionsInUse.WithLabelValues("pool-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("pool-test", metrics.OutcomeCommitted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("pool-test", metrics.OutcomeRolledBack)))
}

func TestPool_PingWhileEveryConnectionIsHeld(t *testing.T) {
	p := newPool(t, Config{Settings: migrator.PoolSettings{Capacity: 1, AcquireTimeout: 5 * time.Second}})

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer func() {
		close(release)
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.Equal(t, 0, p.Available())
	assert.NoError(t, p.Ping(ctx))
}

func TestPool_PingAndClose(t *testing.T) {
	conn := connection(t, itemsSchema)
	p, err := New(context.Background(), Config{Connection: conn})
	require.NoError(t, err)

	require.NoError(t, p.Ping(context.Background()))

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "close is idempotent")

	assert.ErrorIs(t, p.Ping(context.Background()), migrator.ErrPoolClosed)
	err = p.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error { return nil })
	assert.ErrorIs(t, err, migrator.ErrPoolClosed)
}
