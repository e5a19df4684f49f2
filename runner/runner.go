// Package runner migrates configured namespaces and reports the outcome on
// the console.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/metrics"
)

// FailedError reports a namespace that did not migrate.
type FailedError struct {
	Label string

	// Err is the orchestrator error or the failing script's error. May be nil.
	Err error
}

func (e *FailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to migrate %s", e.Label)
	}
	return fmt.Sprintf("failed to migrate %s: %v", e.Label, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// ExitCode maps the error of a run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// Config configures a Runner.
type Config struct {
	// Migrator migrates jobs that do not carry their own.
	Migrator migrator.Migrator

	// Stdout receives the progress report (default: os.Stdout).
	Stdout io.Writer

	// Stderr receives warnings, diagnostics and failures (default: os.Stderr).
	Stderr io.Writer

	// Metrics enables per-namespace Prometheus metrics.
	Metrics bool

	// Logger is an optional logger for observability.
	Logger migrator.Logger
}

// Job is one namespace to migrate.
type Job struct {
	Label      string
	Connection migrator.ConnectionConfig

	// Migrator overrides Config.Migrator for this job, e.g. to apply a
	// namespace-specific policy.
	Migrator migrator.Migrator
}

// Runner migrates namespaces and prints a report for each.
type Runner struct {
	config Config
}

// New creates a Runner, applying defaults for unset fields.
func New(cfg Config) *Runner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Runner{config: cfg}
}

// RunNamespace migrates one namespace with the configured Migrator.
func (r *Runner) RunNamespace(ctx context.Context, label string, cfg migrator.ConnectionConfig, identity migrator.Identity) error {
	return r.run(ctx, Job{Label: label, Connection: cfg}, identity)
}

// RunAll migrates jobs in order and stops at the first namespace that fails.
func (r *Runner) RunAll(ctx context.Context, jobs []Job, identity migrator.Identity) error {
	for _, job := range jobs {
		if err := r.run(ctx, job, identity); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, job Job, identity migrator.Identity) error {
	m := job.Migrator
	if m == nil {
		m = r.config.Migrator
	}
	if m == nil {
		return &FailedError{Label: job.Label, Err: errors.New("no migrator configured")}
	}

	var collector *metrics.Collector
	if r.config.Metrics {
		collector = metrics.NewCollector(job.Label)
	}

	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, "migrating namespace", "namespace", job.Label, "identity", identity.String())
	}

	start := time.Now()
	result, err := m.Migrate(ctx, job.Connection, identity)
	collector.ObserveRunDuration(time.Since(start).Seconds())
	record(collector, result, err)

	printResult(r.config.Stdout, r.config.Stderr, job.Label, result, err)

	switch {
	case err != nil:
		if r.config.Logger != nil {
			r.config.Logger.Error(ctx, "namespace migration errored", "namespace", job.Label, "error", err)
		}
		return &FailedError{Label: job.Label, Err: err}
	case !result.Success:
		if r.config.Logger != nil {
			r.config.Logger.Error(ctx, "namespace migration failed", "namespace", job.Label, "error", result.Failure)
		}
		return &FailedError{Label: job.Label, Err: result.Failure}
	}
	return nil
}

func record(c *metrics.Collector, result migrator.MigrateResult, err error) {
	for _, d := range result.InvalidMigrations {
		c.IncValidationDiagnostic(string(d.ErrorCode))
	}

	applied := 0
	for _, m := range result.Migrations {
		if m.Success {
			applied++
		} else {
			c.IncMigrationsFailed()
		}
	}
	c.AddMigrationsApplied(applied)

	switch {
	case err != nil:
		c.IncRun(metrics.OutcomeError)
	case !result.Success:
		c.IncRun(metrics.OutcomeFailed)
	default:
		c.IncRun(metrics.OutcomeSuccess)
	}
}
