// Package orchestrator applies migration scripts to a database namespace.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/connector"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/getpup/pupsourcing-migrator/executor"
	"github.com/getpup/pupsourcing-migrator/ledger"
	"github.com/getpup/pupsourcing-migrator/ledger/sqlstore"
	"github.com/getpup/pupsourcing-migrator/script"
	"github.com/google/uuid"
)

// Config configures the Orchestrator.
type Config struct {
	// Connector opens the migration connection (default: connector.New).
	Connector connector.Connector

	// Resolver discovers scripts (default: a filesystem-only resolver).
	Resolver *script.Resolver

	// Executor runs migrations off the caller's goroutine (default: a
	// dedicated single-worker executor owned by the Orchestrator).
	Executor executor.Runner

	// Policy controls baseline, ordering and validation (default: migrator.DefaultPolicy()).
	Policy *migrator.Policy

	// Logger is an optional logger for observability.
	Logger migrator.Logger
}

// Orchestrator implements migrator.Migrator.
type Orchestrator struct {
	config Config
	policy migrator.Policy
	owned  *executor.Executor
}

// Compile-time check that Orchestrator implements migrator.Migrator.
var _ migrator.Migrator = (*Orchestrator)(nil)

// New creates an Orchestrator, applying defaults for unset fields.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{}

	if cfg.Connector == nil {
		cfg.Connector = connector.New(connector.Config{Logger: cfg.Logger})
	}
	if cfg.Resolver == nil {
		cfg.Resolver = script.NewResolver(script.Config{Logger: cfg.Logger})
	}
	if cfg.Executor == nil {
		o.owned = executor.New(executor.Config{Workers: 1, Logger: cfg.Logger})
		cfg.Executor = o.owned
	}

	o.policy = migrator.DefaultPolicy()
	if cfg.Policy != nil {
		o.policy = *cfg.Policy
		if o.policy.BaselineVersion.IsZero() {
			o.policy.BaselineVersion = migrator.MustParseVersion("0")
		}
	}

	o.config = cfg
	return o
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() migrator.Policy {
	return o.policy
}

// Close releases the executor created by New, if any.
func (o *Orchestrator) Close() {
	if o.owned != nil {
		o.owned.Close()
	}
}

// session is an open migration connection for one namespace.
type session struct {
	cfg     migrator.ConnectionConfig
	creds   migrator.Credentials
	dialect dialect.Dialect
	db      *sql.DB
	store   ledger.Store
}

// open connects to the namespace. The caller must call the returned close func.
func (o *Orchestrator) open(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (*session, func(), error) {
	d, err := dialect.ForURL(cfg.URL())
	if err != nil {
		return nil, nil, &migrator.ConfigurationError{Field: "url", Reason: err.Error()}
	}

	creds := identity.Resolve(cfg)
	db, err := o.config.Connector.Connect(ctx, d, cfg.URL(), creds)
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlstore.New(db, d, cfg.MigrationsTable())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return &session{cfg: cfg, creds: creds, dialect: d, db: db, store: store}, func() { _ = db.Close() }, nil
}

// Migrate implements migrator.Migrator. ctx bounds only the wait for a worker;
// once the run starts it completes even if ctx ends.
func (o *Orchestrator) Migrate(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error) {
	return executor.Call(ctx, o.config.Executor, func(ctx context.Context) (migrator.MigrateResult, error) {
		return o.migrate(context.WithoutCancel(ctx), cfg, identity)
	})
}

func (o *Orchestrator) migrate(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (migrator.MigrateResult, error) {
	result := migrator.MigrateResult{RunID: uuid.New().String()}

	d, err := dialect.ForURL(cfg.URL())
	if err != nil {
		return result, &migrator.ConfigurationError{Field: "url", Reason: err.Error()}
	}
	key := d.Name() + "|" + d.Target(cfg.URL()) + "|" + cfg.MigrationsTable()

	unlock, err := runLocks.Lock(ctx, key)
	if err != nil {
		return result, err
	}
	defer unlock()

	s, closeSession, err := o.open(ctx, cfg, identity)
	if err != nil {
		return result, err
	}
	defer closeSession()

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "migration started",
			"runID", result.RunID, "target", s.dialect.Redact(cfg.URL()), "identity", identity.String(), "table", cfg.MigrationsTable())
	}

	release, err := o.lockDatabase(ctx, s, cfg.MigrationsTable())
	if err != nil {
		return result, err
	}
	defer release()

	resolution, err := o.config.Resolver.Resolve(ctx, cfg.MigrationsLocations())
	if err != nil {
		return result, err
	}
	result.Warnings = append(result.Warnings, resolution.Warnings...)

	applied, err := o.readLedger(ctx, s)
	if err != nil {
		return result, err
	}

	// Validation pass: diagnostics are reported, not enforced, unless configured.
	pre := analyze(resolution.Scripts, applied, o.policy)
	result.InvalidMigrations = pre.diagnostics
	for _, d := range pre.diagnostics {
		result.Warnings = append(result.Warnings, diagnosticWarning(d))
	}
	o.logDiagnostics(ctx, result.RunID, pre.diagnostics)

	if o.policy.FailOnValidationError && len(pre.diagnostics) > 0 {
		return result, &migrator.ValidationError{Diagnostics: pre.diagnostics}
	}
	if pre.integrity != nil {
		return result, pre.integrity
	}

	if err := s.store.Create(ctx); err != nil {
		return result, err
	}
	applied, err = s.store.Applied(ctx)
	if err != nil {
		return result, err
	}

	if len(applied) == 0 && o.policy.BaselineOnMigrate {
		if err := o.insertBaseline(ctx, s); err != nil {
			return result, err
		}
		if applied, err = s.store.Applied(ctx); err != nil {
			return result, err
		}
	}

	plan := analyze(resolution.Scripts, applied, o.policy)
	if plan.integrity != nil {
		return result, plan.integrity
	}
	result.Warnings = append(result.Warnings, plan.warnings...)
	result.InitialSchemaVersion = ledger.SchemaVersion(applied)

	base := EffectivePlaceholders(cfg)
	if o.policy.Group && s.dialect.TransactionalDDL() && len(plan.pending) > 1 {
		o.applyGroup(ctx, s, base, plan.pending, &result)
	} else {
		o.applyEach(ctx, s, base, plan.pending, &result)
	}

	final, err := s.store.Applied(ctx)
	if err != nil {
		return result, err
	}
	result.TargetSchemaVersion = ledger.SchemaVersion(final)
	result.Success = result.Failure == nil

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "migration finished",
			"runID", result.RunID,
			"success", result.Success,
			"executed", len(result.Migrations),
			"initialVersion", result.InitialSchemaVersion.String(),
			"targetVersion", result.TargetSchemaVersion.String())
	}

	return result, nil
}

func (o *Orchestrator) lockDatabase(ctx context.Context, s *session, key string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &migrator.ConnectivityError{Target: s.dialect.Redact(s.cfg.URL()), Username: s.creds.Username, Err: err}
	}

	unlock, err := s.dialect.Lock(ctx, conn, key)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	return func() {
		if err := unlock(context.Background()); err != nil && o.config.Logger != nil {
			o.config.Logger.Warn(ctx, "failed to release migration lock", "error", err)
		}
		_ = conn.Close()
	}, nil
}

func (o *Orchestrator) readLedger(ctx context.Context, s *session) ([]migrator.MigrationRecord, error) {
	exists, err := s.store.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return s.store.Applied(ctx)
}

func (o *Orchestrator) insertBaseline(ctx context.Context, s *session) error {
	rec := migrator.MigrationRecord{
		Version:     o.policy.BaselineVersion,
		Description: ledger.BaselineDescription,
		Type:        migrator.MigrationTypeBaseline,
		Script:      ledger.BaselineScript,
		InstalledBy: s.creds.Username,
		Success:     true,
	}
	if err := s.store.Append(ctx, nil, rec); err != nil {
		return fmt.Errorf("failed to insert baseline: %w", err)
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "ledger baselined", "version", o.policy.BaselineVersion.String())
	}
	return nil
}

func (o *Orchestrator) logDiagnostics(ctx context.Context, runID string, diagnostics []migrator.InvalidMigration) {
	if o.config.Logger == nil {
		return
	}
	for _, d := range diagnostics {
		o.config.Logger.Warn(ctx, "Failed to validate migration",
			"runID", runID,
			"version", d.Version.String(),
			"path", d.Path,
			"description", d.Description,
			"errorCode", string(d.ErrorCode),
			"errorMessage", d.ErrorMessage)
	}
}

// applyEach runs every script in its own transaction and stops at the first failure.
func (o *Orchestrator) applyEach(ctx context.Context, s *session, base map[string]string, pending []migrator.MigrationScript, result *migrator.MigrateResult) {
	for _, sc := range pending {
		start := time.Now()
		var skipped bool
		err := o.inTx(ctx, s, func(tx *sql.Tx) (err error) {
			skipped, err = o.execute(ctx, s, tx, base, sc, start)
			return err
		})
		if err == nil && skipped {
			o.skipRecorded(ctx, result, sc)
			continue
		}
		out := output(sc, time.Since(start), err == nil)
		result.Migrations = append(result.Migrations, out)

		if err != nil {
			o.recordFailure(ctx, s, sc, start)
			result.Failure = scriptError(sc, err)
			o.logFailure(ctx, result.RunID, sc, err)
			return
		}

		if o.config.Logger != nil {
			o.config.Logger.Info(ctx, "migration applied",
				"runID", result.RunID, "version", sc.Version.String(), "description", sc.Description, "duration", out.ExecutionTime)
		}
	}
}

// applyGroup runs every script in one transaction. On failure nothing is kept,
// and only the failing script is reported.
func (o *Orchestrator) applyGroup(ctx context.Context, s *session, base map[string]string, pending []migrator.MigrationScript, result *migrator.MigrateResult) {
	var outputs []migrator.MigrationOutput
	var skippedScripts []migrator.MigrationScript
	var failed *migrator.MigrationScript
	var failedStart time.Time

	err := o.inTx(ctx, s, func(tx *sql.Tx) error {
		for i := range pending {
			sc := pending[i]
			start := time.Now()
			skipped, err := o.execute(ctx, s, tx, base, sc, start)
			if err != nil {
				failed = &pending[i]
				failedStart = start
				return err
			}
			if skipped {
				skippedScripts = append(skippedScripts, sc)
				continue
			}
			outputs = append(outputs, output(sc, time.Since(start), true))
		}
		return nil
	})

	if err == nil {
		for _, sc := range skippedScripts {
			o.skipRecorded(ctx, result, sc)
		}
		result.Migrations = append(result.Migrations, outputs...)
		return
	}

	if failed == nil {
		// Commit failed after every script ran.
		failed = &pending[len(pending)-1]
		failedStart = time.Now()
	}
	if len(outputs) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Rolled back %d migration(s) applied in the same group as the failed migration", len(outputs)))
	}
	result.Migrations = append(result.Migrations, output(*failed, time.Since(failedStart), false))
	result.Failure = scriptError(*failed, err)
	o.logFailure(ctx, result.RunID, *failed, err)
}

func (o *Orchestrator) inTx(ctx context.Context, s *session, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// execute runs one script and appends its ledger row in tx. A versioned script
// that the ledger already records, as seen from tx, is skipped.
func (o *Orchestrator) execute(ctx context.Context, s *session, tx *sql.Tx, base map[string]string, sc migrator.MigrationScript, start time.Time) (skipped bool, err error) {
	if sc.Type == migrator.MigrationTypeSQL {
		recorded, err := s.store.Recorded(ctx, tx, sc.Version)
		if err != nil {
			return false, err
		}
		if recorded {
			return true, nil
		}
	}

	placeholders := scriptPlaceholders(base, s.cfg.MigrationsTable(), s.creds.Username, sc, start)
	text, err := script.Substitute(sc.SQL, placeholders)
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(text) != "" {
		if _, err := tx.ExecContext(ctx, text); err != nil {
			return false, err
		}
	}

	return false, s.store.Append(ctx, tx, migrator.MigrationRecord{
		Version:       sc.Version,
		Description:   sc.Description,
		Type:          sc.Type,
		Script:        sc.Path,
		Checksum:      sc.Checksum,
		InstalledBy:   s.creds.Username,
		InstalledOn:   start,
		ExecutionTime: time.Since(start),
		Success:       true,
	})
}

func (o *Orchestrator) skipRecorded(ctx context.Context, result *migrator.MigrateResult, sc migrator.MigrationScript) {
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("Skipped migration %s (%s): already recorded in the ledger", sc.Version, sc.Path))
	if o.config.Logger != nil {
		o.config.Logger.Warn(ctx, "migration already recorded, skipped",
			"runID", result.RunID, "version", sc.Version.String(), "path", sc.Path)
	}
}

// diagnosticWarning renders d as a one-line warning.
func diagnosticWarning(d migrator.InvalidMigration) string {
	subject := d.Path
	if !d.Version.IsZero() {
		subject = "version " + d.Version.String() + " (" + d.Path + ")"
	}
	return fmt.Sprintf("Validation %s: %s: %s", d.ErrorCode, subject, d.ErrorMessage)
}

// recordFailure appends a failed row for dialects whose DDL survives rollback,
// so the half-applied state is visible in the ledger.
func (o *Orchestrator) recordFailure(ctx context.Context, s *session, sc migrator.MigrationScript, start time.Time) {
	if s.dialect.TransactionalDDL() {
		return
	}
	err := s.store.Append(ctx, nil, migrator.MigrationRecord{
		Version:       sc.Version,
		Description:   sc.Description,
		Type:          sc.Type,
		Script:        sc.Path,
		Checksum:      sc.Checksum,
		InstalledBy:   s.creds.Username,
		InstalledOn:   start,
		ExecutionTime: time.Since(start),
		Success:       false,
	})
	if err != nil && o.config.Logger != nil {
		o.config.Logger.Error(ctx, "failed to record failed migration", "version", sc.Version.String(), "error", err)
	}
}

func (o *Orchestrator) logFailure(ctx context.Context, runID string, sc migrator.MigrationScript, err error) {
	if o.config.Logger != nil {
		o.config.Logger.Error(ctx, "migration failed",
			"runID", runID, "version", sc.Version.String(), "path", sc.Path, "error", err)
	}
}

func output(sc migrator.MigrationScript, d time.Duration, ok bool) migrator.MigrationOutput {
	return migrator.MigrationOutput{
		Version:       sc.Version,
		Type:          sc.Type,
		Description:   sc.Description,
		Path:          sc.Path,
		ExecutionTime: d,
		Success:       ok,
	}
}

func scriptError(sc migrator.MigrationScript, err error) *migrator.ScriptExecutionError {
	return &migrator.ScriptExecutionError{
		Version:     sc.Version,
		Description: sc.Description,
		Path:        sc.Path,
		Err:         err,
	}
}

// Validate reports the diagnostics a migration would log, without changing the database.
func (o *Orchestrator) Validate(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) ([]migrator.InvalidMigration, error) {
	return executor.Call(ctx, o.config.Executor, func(ctx context.Context) ([]migrator.InvalidMigration, error) {
		a, err := o.inspect(ctx, cfg, identity)
		if err != nil {
			return nil, err
		}
		o.logDiagnostics(ctx, "", a.diagnostics)
		return a.diagnostics, nil
	})
}

// Info lists every resolved script and ledger row with its state.
func (o *Orchestrator) Info(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) ([]migrator.MigrationInfo, error) {
	return executor.Call(ctx, o.config.Executor, func(ctx context.Context) ([]migrator.MigrationInfo, error) {
		a, err := o.inspect(ctx, cfg, identity)
		if err != nil {
			return nil, err
		}
		return a.infos, nil
	})
}

func (o *Orchestrator) inspect(ctx context.Context, cfg migrator.ConnectionConfig, identity migrator.Identity) (analysis, error) {
	s, closeSession, err := o.open(ctx, cfg, identity)
	if err != nil {
		return analysis{}, err
	}
	defer closeSession()

	resolution, err := o.config.Resolver.Resolve(ctx, cfg.MigrationsLocations())
	if err != nil {
		return analysis{}, err
	}

	applied, err := o.readLedger(ctx, s)
	if err != nil {
		return analysis{}, err
	}

	return analyze(resolution.Scripts, applied, o.policy), nil
}
