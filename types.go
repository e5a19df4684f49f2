package migrator

import (
	"strings"
	"time"
)

// MigrationType classifies a script or ledger row.
type MigrationType string

const (
	// MigrationTypeSQL is a versioned script applied exactly once.
	MigrationTypeSQL MigrationType = "SQL"

	// MigrationTypeRepeatable is a script without a version that is re-applied whenever its checksum changes.
	MigrationTypeRepeatable MigrationType = "SQL_REPEATABLE"

	// MigrationTypeBaseline marks the ledger row inserted by baseline-on-migrate.
	MigrationTypeBaseline MigrationType = "BASELINE"
)

// MigrationScript is a schema-change script discovered in a migrations location.
// Scripts are read-only input; the SQL text is opaque to the orchestrator.
type MigrationScript struct {
	// Version orders versioned scripts. Zero for repeatable scripts.
	Version Version

	// Description is derived from the file name with underscores turned into spaces.
	Description string

	// Type is MigrationTypeSQL or MigrationTypeRepeatable.
	Type MigrationType

	// Checksum is the hex sha256 of the script text with line endings normalised.
	Checksum string

	// Path is the location-relative file name, e.g. "filesystem:db/migration/V1__init.sql".
	Path string

	// SQL is the raw script text, placeholders not yet substituted.
	SQL string
}

// MigrationRecord is one row of the migration ledger.
// Rows are only ever appended.
type MigrationRecord struct {
	InstalledRank int
	Version       Version
	Description   string
	Type          MigrationType
	Script        string
	Checksum      string
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime time.Duration
	Success       bool
}

// MigrationOutput describes one script executed during a run.
type MigrationOutput struct {
	Version       Version
	Type          MigrationType
	Description   string
	Path          string
	ExecutionTime time.Duration
	Success       bool
}

// InvalidMigration is a diagnostic produced by the validation pass.
type InvalidMigration struct {
	Version      Version
	Path         string
	Description  string
	ErrorCode    ValidationCode
	ErrorMessage string
}

// ValidationCode categorises an InvalidMigration.
type ValidationCode string

const (
	ValidationChecksumMismatch    ValidationCode = "CHECKSUM_MISMATCH"
	ValidationDescriptionMismatch ValidationCode = "DESCRIPTION_MISMATCH"
	ValidationTypeMismatch        ValidationCode = "TYPE_MISMATCH"
	ValidationAppliedNotResolved  ValidationCode = "APPLIED_REPEATABLE_MIGRATION_NOT_RESOLVED"
	ValidationMissing             ValidationCode = "APPLIED_VERSIONED_MIGRATION_NOT_RESOLVED"
	ValidationFailed              ValidationCode = "FAILED_VERSIONED_MIGRATION"
	ValidationPending             ValidationCode = "RESOLVED_VERSIONED_MIGRATION_NOT_APPLIED"
	ValidationOutdated            ValidationCode = "OUTDATED_REPEATABLE_MIGRATION"
	ValidationIgnored             ValidationCode = "IGNORED_MIGRATION"
)

// MigrateResult is the outcome of a single Migrate call.
type MigrateResult struct {
	// RunID identifies the run in logs (UUID).
	RunID string

	// InitialSchemaVersion is the highest successfully applied version before the run.
	// Zero when the ledger was empty and no baseline was inserted.
	InitialSchemaVersion Version

	// TargetSchemaVersion is the highest successfully applied version after the run.
	TargetSchemaVersion Version

	// Migrations lists executed scripts in execution order. On failure the failing
	// script is the last entry with Success set to false.
	Migrations []MigrationOutput

	// Warnings are human-readable notes collected during the run.
	Warnings []string

	// InvalidMigrations are the diagnostics of the validation pass.
	InvalidMigrations []InvalidMigration

	// Success is false when a script failed.
	Success bool

	// Failure is the script error when Success is false.
	Failure error
}

// MigrationState is the state reported by Info for one script or ledger row.
type MigrationState string

const (
	StatePending       MigrationState = "pending"
	StateSuccess       MigrationState = "success"
	StateFailed        MigrationState = "failed"
	StateBaseline      MigrationState = "baseline"
	StateBelowBaseline MigrationState = "below baseline"
	StateMissing       MigrationState = "missing"
	StateIgnored       MigrationState = "ignored"
	StateOutdated      MigrationState = "outdated"
	StateFuture        MigrationState = "future"
)

// MigrationInfo is one line of the Info listing.
type MigrationInfo struct {
	Version     Version
	Description string
	Type        MigrationType
	State       MigrationState
	Path        string
	Checksum    string
	InstalledOn time.Time
}

// Policy controls how a namespace is migrated.
type Policy struct {
	// BaselineOnMigrate inserts a baseline row when the ledger is empty (default: true).
	BaselineOnMigrate bool

	// BaselineVersion is the version recorded by baseline-on-migrate (default: "0").
	BaselineVersion Version

	// OutOfOrder allows applying scripts older than the current schema version (default: false).
	OutOfOrder bool

	// Group applies all pending scripts in one transaction when the dialect supports
	// transactional DDL (default: false).
	Group bool

	// IgnoreMigrationPatterns suppress validation diagnostics, as "<type>:<state>"
	// with "*" as a type wildcard (default: ["*:pending"]).
	IgnoreMigrationPatterns []string

	// FailOnValidationError makes validation diagnostics abort the run before any
	// script is applied (default: false).
	FailOnValidationError bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaselineOnMigrate:       true,
		BaselineVersion:         MustParseVersion("0"),
		IgnoreMigrationPatterns: []string{"*:pending"},
	}
}

// Ignores reports whether a diagnostic for the given type and state is suppressed.
func (p Policy) Ignores(typ MigrationType, state MigrationState) bool {
	kind := "versioned"
	if typ == MigrationTypeRepeatable {
		kind = "repeatable"
	}
	for _, pattern := range p.IgnoreMigrationPatterns {
		t, s, ok := strings.Cut(strings.ToLower(strings.TrimSpace(pattern)), ":")
		if !ok {
			continue
		}
		if (t == "*" || t == kind) && (s == "*" || s == string(state)) {
			return true
		}
	}
	return false
}

// PoolSettings sizes the application connection pool.
type PoolSettings struct {
	// Capacity is the maximum number of concurrently held connections (default: 3).
	Capacity int

	// AcquireTimeout bounds how long a caller waits for a free connection (default: 30s).
	AcquireTimeout time.Duration

	// HealthCheckInterval is the interval of the pool health loop (default: 30s).
	HealthCheckInterval time.Duration
}

// DefaultPoolSettings returns the settings used when nothing is configured.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		Capacity:            3,
		AcquireTimeout:      30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}
