package migrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration indicates a namespace configuration is missing or malformed.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity indicates the database could not be reached or rejected the credentials.
	ErrConnectivity = errors.New("connectivity error")

	// ErrIntegrity indicates the ledger and the resolved scripts disagree in a way that
	// must not be repaired automatically, e.g. a changed checksum of an applied script.
	ErrIntegrity = errors.New("integrity error")

	// ErrScriptExecution indicates a script failed while being applied.
	ErrScriptExecution = errors.New("script execution error")

	// ErrValidation indicates validation diagnostics were treated as fatal.
	ErrValidation = errors.New("validation error")

	// ErrPoolInitialization indicates the connection pool could not be created.
	ErrPoolInitialization = errors.New("pool initialization error")

	// ErrPoolExhausted indicates no connection became available within the acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed indicates the pool was used after Close.
	ErrPoolClosed = errors.New("connection pool closed")
)

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	// Key is the namespace key, e.g. "db-connection.main". May be empty.
	Key string

	// Field is the offending field, e.g. "url".
	Field string

	// Reason describes what is wrong.
	Reason string
}

func (e *ConfigurationError) Error() string {
	path := e.Field
	if e.Key != "" {
		path = e.Key + "." + e.Field
	}
	return fmt.Sprintf("configuration error: %s: %s", path, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConnectivityError reports a failure to open or authenticate a connection.
type ConnectivityError struct {
	// Target is the database address with credentials removed.
	Target string

	// Username is the user the connection was attempted with.
	Username string

	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("failed to connect to %s as %q: %v", e.Target, e.Username, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Is matches ErrConnectivity.
func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// IntegrityError reports a ledger/script inconsistency.
type IntegrityError struct {
	Version Version
	Path    string
	Reason  string
}

func (e *IntegrityError) Error() string {
	subject := e.Path
	if !e.Version.IsZero() {
		subject = "version " + e.Version.String()
		if e.Path != "" {
			subject += " (" + e.Path + ")"
		}
	}
	return fmt.Sprintf("integrity error: %s: %s", subject, e.Reason)
}

// Is matches ErrIntegrity.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// ScriptExecutionError reports the script that failed and the underlying database error.
type ScriptExecutionError struct {
	Version     Version
	Description string
	Path        string
	Err         error
}

func (e *ScriptExecutionError) Error() string {
	if e.Version.IsZero() {
		return fmt.Sprintf("migration %s failed: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("migration %s (%s) failed: %v", e.Version, e.Path, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// Is matches ErrScriptExecution.
func (e *ScriptExecutionError) Is(target error) bool {
	return target == ErrScriptExecution
}

// ValidationError carries the diagnostics that aborted a run.
type ValidationError struct {
	Diagnostics []InvalidMigration
}

func (e *ValidationError) Error() string {
	codes := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		codes = append(codes, string(d.ErrorCode))
	}
	return fmt.Sprintf("validation failed with %d diagnostic(s): %s", len(e.Diagnostics), strings.Join(codes, ", "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PoolInitializationError wraps the cause of a failed pool construction.
type PoolInitializationError struct {
	Err error
}

func (e *PoolInitializationError) Error() string {
	return fmt.Sprintf("pool initialization failed: %v", e.Err)
}

func (e *PoolInitializationError) Unwrap() error { return e.Err }

// Is matches ErrPoolInitialization.
func (e *PoolInitializationError) Is(target error) bool {
	return target == ErrPoolInitialization
}
