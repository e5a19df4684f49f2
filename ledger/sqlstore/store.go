// Package sqlstore implements the ledger on top of database/sql for every
// supported dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/getpup/pupsourcing-migrator/ledger"
	"github.com/jmoiron/sqlx"
)

// Store is a database/sql implementation of ledger.Store.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	table   string
}

// Compile-time check that Store implements ledger.Store.
var _ ledger.Store = (*Store)(nil)

// New creates a Store for table on db. The table name is validated because it
// is interpolated into SQL.
func New(db *sql.DB, d dialect.Dialect, table string) (*Store, error) {
	if err := dialect.ValidateTableName(table); err != nil {
		return nil, &migrator.ConfigurationError{Field: "migrations-table", Reason: err.Error()}
	}
	return &Store{
		db:      sqlx.NewDb(db, d.DriverName()),
		dialect: d,
		table:   table,
	}, nil
}

type row struct {
	InstalledRank int            `db:"installed_rank"`
	Version       sql.NullString `db:"version"`
	Description   string         `db:"description"`
	Type          string         `db:"type"`
	Script        string         `db:"script"`
	Checksum      sql.NullString `db:"checksum"`
	InstalledBy   string         `db:"installed_by"`
	InstalledOn   time.Time      `db:"installed_on"`
	ExecutionTime int64          `db:"execution_time"`
	Success       bool           `db:"success"`
}

// Exists reports whether the ledger table exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	query, args := s.dialect.TableExistsQuery(s.table)

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check ledger table: %w", err)
	}
	return n > 0, nil
}

// Create creates the ledger table if it does not exist.
func (s *Store) Create(ctx context.Context) error {
	ddl, err := ledger.CreateTableSQL(s.dialect, s.table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Applied returns all rows ordered by installed rank.
func (s *Store) Applied(ctx context.Context) ([]migrator.MigrationRecord, error) {
	query := fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
		       installed_by, installed_on, execution_time, success
		FROM %s
		ORDER BY installed_rank
	`, s.table)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	records := make([]migrator.MigrationRecord, 0, len(rows))
	for _, r := range rows {
		rec := migrator.MigrationRecord{
			InstalledRank: r.InstalledRank,
			Description:   r.Description,
			Type:          migrator.MigrationType(r.Type),
			Script:        r.Script,
			Checksum:      r.Checksum.String,
			InstalledBy:   r.InstalledBy,
			InstalledOn:   r.InstalledOn,
			ExecutionTime: time.Duration(r.ExecutionTime) * time.Millisecond,
			Success:       r.Success,
		}
		if r.Version.Valid && r.Version.String != "" {
			v, err := migrator.ParseVersion(r.Version.String)
			if err != nil {
				return nil, fmt.Errorf("ledger row %d has invalid version %q: %w", r.InstalledRank, r.Version.String, err)
			}
			rec.Version = v
		}
		records = append(records, rec)
	}

	return records, nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) querier(tx *sql.Tx) execQuerier {
	if tx != nil {
		return tx
	}
	return s.db
}

// Recorded reports whether a successful row for version exists.
// Versions are compared numerically, so "1.0" matches a stored "1".
func (s *Store) Recorded(ctx context.Context, tx *sql.Tx, version migrator.Version) (bool, error) {
	query := s.db.Rebind(fmt.Sprintf(`SELECT version FROM %s WHERE success = ? AND type = ? AND version IS NOT NULL`, s.table))

	rows, err := s.querier(tx).QueryContext(ctx, query, true, string(migrator.MigrationTypeSQL))
	if err != nil {
		return false, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, fmt.Errorf("failed to read ledger: %w", err)
		}
		if v, err := migrator.ParseVersion(raw); err == nil && v.Equal(version) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read ledger: %w", err)
	}
	return false, nil
}

// Append inserts rec with the next installed rank.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, rec migrator.MigrationRecord) error {
	q := s.querier(tx)

	var next int
	rankQuery := fmt.Sprintf(`SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM %s`, s.table)
	if err := q.QueryRowContext(ctx, rankQuery).Scan(&next); err != nil {
		return fmt.Errorf("failed to allocate installed rank: %w", err)
	}

	insert := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum,
		                installed_by, installed_on, execution_time, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table))

	installedOn := rec.InstalledOn
	if installedOn.IsZero() {
		installedOn = time.Now()
	}

	_, err := q.ExecContext(ctx, insert,
		next,
		nullable(rec.Version.String()),
		truncate(rec.Description, 200),
		string(rec.Type),
		truncate(rec.Script, 1000),
		nullable(rec.Checksum),
		truncate(rec.InstalledBy, 100),
		installedOn.UTC(),
		rec.ExecutionTime.Milliseconds(),
		rec.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger row: %w", err)
	}

	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// truncate keeps the first n characters of s. Column limits count
// characters, and cutting inside a rune would leave invalid UTF-8.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
