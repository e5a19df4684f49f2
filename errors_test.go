package migrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", &ConfigurationError{Field: "url", Reason: "empty"}, ErrConfiguration},
		{"connectivity", &ConnectivityError{Target: "localhost", Username: "app", Err: cause}, ErrConnectivity},
		{"integrity", &IntegrityError{Version: MustParseVersion("1"), Reason: "checksum mismatch"}, ErrIntegrity},
		{"script", &ScriptExecutionError{Version: MustParseVersion("2"), Path: "V2__x.sql", Err: cause}, ErrScriptExecution},
		{"validation", &ValidationError{}, ErrValidation},
		{"pool", &PoolInitializationError{Err: cause}, ErrPoolInitialization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)

			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestTypedErrors_UnwrapCause(t *testing.T) {
	cause := errors.New("relation does not exist")

	assert.ErrorIs(t, &ScriptExecutionError{Err: cause}, cause)
	assert.ErrorIs(t, &ConnectivityError{Err: cause}, cause)
	assert.ErrorIs(t, &PoolInitializationError{Err: cause}, cause)
}

func TestConfigurationError_Message(t *testing.T) {
	err := &ConfigurationError{Key: "db-connection.main", Field: "url", Reason: "must not be empty"}

	assert.Equal(t, "configuration error: db-connection.main.url: must not be empty", err.Error())
}

func TestValidationError_ListsCodes(t *testing.T) {
	err := &ValidationError{Diagnostics: []InvalidMigration{
		{ErrorCode: ValidationMissing},
		{ErrorCode: ValidationChecksumMismatch},
	}}

	assert.Contains(t, err.Error(), "2 diagnostic(s)")
	assert.Contains(t, err.Error(), string(ValidationMissing))
}
