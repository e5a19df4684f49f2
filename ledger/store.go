// Package ledger persists the history of applied migrations.
package ledger

import (
	"context"
	"database/sql"

	"github.com/getpup/pupsourcing-migrator"
)

// Baseline row values.
const (
	BaselineDescription = "<< Baseline >>"
	BaselineScript      = "<< Baseline >>"
)

// Store reads and appends ledger rows.
// Rows are never updated or deleted.
type Store interface {
	// Exists reports whether the ledger table exists.
	Exists(ctx context.Context) (bool, error)

	// Create creates the ledger table if it does not exist.
	Create(ctx context.Context) error

	// Applied returns all rows ordered by installed rank.
	// Returns an empty slice if the table is empty.
	Applied(ctx context.Context) ([]migrator.MigrationRecord, error)

	// Recorded reports whether a successful row for the versioned script
	// version exists, reading through tx so the answer is consistent with
	// the transaction that would append it.
	Recorded(ctx context.Context, tx *sql.Tx, version migrator.Version) (bool, error)

	// Append inserts rec with the next installed rank. When tx is non-nil the
	// row is written inside that transaction, otherwise it is committed directly.
	Append(ctx context.Context, tx *sql.Tx, rec migrator.MigrationRecord) error
}

// SchemaVersion returns the highest version among successful versioned and
// baseline rows, or the zero Version.
func SchemaVersion(records []migrator.MigrationRecord) migrator.Version {
	var v migrator.Version
	for _, r := range records {
		if !r.Success || r.Version.IsZero() {
			continue
		}
		if v.Less(r.Version) {
			v = r.Version
		}
	}
	return v
}

// Baseline returns the baseline row, if any.
func Baseline(records []migrator.MigrationRecord) (migrator.MigrationRecord, bool) {
	for _, r := range records {
		if r.Type == migrator.MigrationTypeBaseline {
			return r, true
		}
	}
	return migrator.MigrationRecord{}, false
}
