package migrator

import (
	"fmt"
	"maps"
	"slices"
)

// ConnectionParams are the raw inputs of a ConnectionConfig.
type ConnectionParams struct {
	URL                    string
	Username               string
	Password               string
	MigrationsTable        string
	MigrationsLocations    []string
	MigrationsPlaceholders map[string]string
}

// ConnectionConfig describes how to reach one database namespace and where its
// migration scripts live. It is immutable once built; accessors return copies.
type ConnectionConfig struct {
	url                    string
	username               string
	password               string
	migrationsTable        string
	migrationsLocations    []string
	migrationsPlaceholders map[string]string
}

// NewConnectionConfig validates p and returns an immutable ConnectionConfig.
// Returns a *ConfigurationError naming the first invalid field.
func NewConnectionConfig(p ConnectionParams) (ConnectionConfig, error) {
	switch {
	case p.URL == "":
		return ConnectionConfig{}, &ConfigurationError{Field: "url", Reason: "must not be empty"}
	case p.Username == "":
		return ConnectionConfig{}, &ConfigurationError{Field: "username", Reason: "must not be empty"}
	case p.MigrationsTable == "":
		return ConnectionConfig{}, &ConfigurationError{Field: "migrations-table", Reason: "must not be empty"}
	case len(p.MigrationsLocations) == 0:
		return ConnectionConfig{}, &ConfigurationError{Field: "migrations-locations", Reason: "must contain at least one location"}
	}

	for i, loc := range p.MigrationsLocations {
		if loc == "" {
			return ConnectionConfig{}, &ConfigurationError{
				Field:  fmt.Sprintf("migrations-locations[%d]", i),
				Reason: "must not be empty",
			}
		}
	}

	for name := range p.MigrationsPlaceholders {
		if name == "" {
			return ConnectionConfig{}, &ConfigurationError{Field: "migrations-placeholders", Reason: "placeholder name must not be empty"}
		}
	}

	placeholders := maps.Clone(p.MigrationsPlaceholders)
	if placeholders == nil {
		placeholders = map[string]string{}
	}

	return ConnectionConfig{
		url:                    p.URL,
		username:               p.Username,
		password:               p.Password,
		migrationsTable:        p.MigrationsTable,
		migrationsLocations:    slices.Clone(p.MigrationsLocations),
		migrationsPlaceholders: placeholders,
	}, nil
}

func (c ConnectionConfig) URL() string             { return c.url }
func (c ConnectionConfig) Username() string        { return c.username }
func (c ConnectionConfig) Password() string        { return c.password }
func (c ConnectionConfig) MigrationsTable() string { return c.migrationsTable }

// MigrationsLocations returns a copy of the configured script locations.
func (c ConnectionConfig) MigrationsLocations() []string {
	return slices.Clone(c.migrationsLocations)
}

// MigrationsPlaceholders returns a copy of the explicitly configured placeholders.
func (c ConnectionConfig) MigrationsPlaceholders() map[string]string {
	return maps.Clone(c.migrationsPlaceholders)
}

// String returns a description safe for logs; the password is never included.
func (c ConnectionConfig) String() string {
	return fmt.Sprintf("ConnectionConfig{url=%s, username=%s, table=%s, locations=%v}",
		c.url, c.username, c.migrationsTable, c.migrationsLocations)
}
