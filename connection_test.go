package migrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() ConnectionParams {
	return ConnectionParams{
		URL:                    "postgres://localhost:5432/app",
		Username:               "app",
		Password:               "secret",
		MigrationsTable:        "schema_history",
		MigrationsLocations:    []string{"filesystem:db/migration"},
		MigrationsPlaceholders: map[string]string{"schema": "public"},
	}
}

func TestNewConnectionConfig_Valid(t *testing.T) {
	cfg, err := NewConnectionConfig(validParams())

	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/app", cfg.URL())
	assert.Equal(t, "app", cfg.Username())
	assert.Equal(t, "secret", cfg.Password())
	assert.Equal(t, "schema_history", cfg.MigrationsTable())
	assert.Equal(t, []string{"filesystem:db/migration"}, cfg.MigrationsLocations())
	assert.Equal(t, map[string]string{"schema": "public"}, cfg.MigrationsPlaceholders())
}

func TestNewConnectionConfig_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ConnectionParams)
		field  string
	}{
		{"empty url", func(p *ConnectionParams) { p.URL = "" }, "url"},
		{"empty username", func(p *ConnectionParams) { p.Username = "" }, "username"},
		{"empty table", func(p *ConnectionParams) { p.MigrationsTable = "" }, "migrations-table"},
		{"no locations", func(p *ConnectionParams) { p.MigrationsLocations = nil }, "migrations-locations"},
		{"blank location", func(p *ConnectionParams) { p.MigrationsLocations = []string{"a", ""} }, "migrations-locations[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			_, err := NewConnectionConfig(p)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewConnectionConfig_EmptyPasswordAllowed(t *testing.T) {
	p := validParams()
	p.Password = ""

	cfg, err := NewConnectionConfig(p)

	require.NoError(t, err)
	assert.Equal(t, "", cfg.Password())
}

func TestConnectionConfig_IsImmutable(t *testing.T) {
	p := validParams()
	cfg, err := NewConnectionConfig(p)
	require.NoError(t, err)

	p.MigrationsLocations[0] = "changed"
	p.MigrationsPlaceholders["schema"] = "changed"

	locations := cfg.MigrationsLocations()
	locations[0] = "mutated"
	placeholders := cfg.MigrationsPlaceholders()
	placeholders["schema"] = "mutated"

	assert.Equal(t, []string{"filesystem:db/migration"}, cfg.MigrationsLocations())
	assert.Equal(t, "public", cfg.MigrationsPlaceholders()["schema"])
}

func TestConnectionConfig_StringOmitsPassword(t *testing.T) {
	cfg, err := NewConnectionConfig(validParams())
	require.NoError(t, err)

	assert.NotContains(t, cfg.String(), "secret")
	assert.Contains(t, cfg.String(), "schema_history")
}
