package orchestrator

import (
	"testing"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configWith(t *testing.T, password string, placeholders map[string]string) migrator.ConnectionConfig {
	t.Helper()
	cfg, err := migrator.NewConnectionConfig(migrator.ConnectionParams{
		URL:                    "postgresql://db:5432/app",
		Username:               "app",
		Password:               password,
		MigrationsTable:        "schema_history",
		MigrationsLocations:    []string{"db/migration"},
		MigrationsPlaceholders: placeholders,
	})
	require.NoError(t, err)
	return cfg
}

func TestEffectivePlaceholders(t *testing.T) {
	t.Run("derived from credentials", func(t *testing.T) {
		got := EffectivePlaceholders(configWith(t, "secret", nil))

		assert.Equal(t, map[string]string{"dbUsername": "app", "dbPassword": "secret"}, got)
	})

	t.Run("empty password is omitted", func(t *testing.T) {
		got := EffectivePlaceholders(configWith(t, "", nil))

		assert.Equal(t, map[string]string{"dbUsername": "app"}, got)
	})

	t.Run("explicit entries win", func(t *testing.T) {
		got := EffectivePlaceholders(configWith(t, "secret", map[string]string{
			"dbUsername": "owner",
			"schema":     "billing",
		}))

		assert.Equal(t, map[string]string{"dbUsername": "owner", "dbPassword": "secret", "schema": "billing"}, got)
	})

	t.Run("names are case sensitive", func(t *testing.T) {
		got := EffectivePlaceholders(configWith(t, "", map[string]string{"DBUSERNAME": "x"}))

		assert.Equal(t, "app", got["dbUsername"])
		assert.Equal(t, "x", got["DBUSERNAME"])
	})
}

func TestScriptPlaceholders(t *testing.T) {
	s := migrator.MigrationScript{Path: "filesystem:db/migration/V1__init.sql"}
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	got := scriptPlaceholders(map[string]string{"dbUsername": "app"}, "schema_history", "root", s, now)

	assert.Equal(t, "schema_history", got[PlaceholderTable])
	assert.Equal(t, "root", got[PlaceholderUser])
	assert.Equal(t, "V1__init.sql", got[PlaceholderFilename])
	assert.Equal(t, "2024-03-01 12:30:00", got[PlaceholderTimestamp])
	assert.Equal(t, "app", got[PlaceholderDBUsername])

	got = scriptPlaceholders(map[string]string{PlaceholderTable: "custom"}, "schema_history", "root", s, now)
	assert.Equal(t, "custom", got[PlaceholderTable])
}
