package migrator

import "context"

// Migrator applies pending migration scripts to a database namespace.
type Migrator interface {
	// Migrate brings the database described by cfg up to date, connecting with the
	// credentials selected by identity.
	//
	// Migrate will:
	// 1. Resolve the scripts in cfg's locations and read the ledger
	// 2. Validate scripts against the ledger and report diagnostics without failing
	// 3. Create the ledger if absent and insert a baseline row when it is empty
	// 4. Apply pending scripts in ascending version order, one transaction each
	//
	// Migrate returns an error without a result if the database cannot be reached,
	// the ledger contradicts the scripts, or the configuration is invalid.
	// A failing script is reported through MigrateResult.Success and Failure.
	Migrate(ctx context.Context, cfg ConnectionConfig, identity Identity) (MigrateResult, error)
}
