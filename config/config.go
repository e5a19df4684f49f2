// Package config loads namespaced database connection settings from layered
// YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultRoot is the parent key of all namespaces.
const DefaultRoot = "db-connection"

// DefaultPath is the configuration file read when Source.Path is empty.
const DefaultPath = "database.yaml"

// Source describes where configuration comes from.
type Source struct {
	// Path is the YAML file. Empty means DefaultPath, which may be absent.
	Path string

	// Environment selects the overlay file <name>.<env>.<ext>, e.g. "prod"
	// reads database.prod.yaml on top of database.yaml. Optional.
	Environment string

	// LookupEnv resolves environment variables (default: os.LookupEnv).
	LookupEnv func(key string) (string, bool)
}

// Namespace is one fully resolved and validated connection entry.
type Namespace struct {
	// Key is the full configuration key, e.g. "db-connection.main".
	Key string

	// Label is the last key segment, e.g. "main".
	Label string

	Connection migrator.ConnectionConfig
	Policy     migrator.Policy
	Pool       migrator.PoolSettings
}

type rawPool struct {
	Capacity            int           `mapstructure:"capacity"`
	AcquireTimeout      time.Duration `mapstructure:"acquire-timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health-check-interval"`
}

type rawNamespace struct {
	URL                     string            `mapstructure:"url"`
	Username                string            `mapstructure:"username"`
	Password                string            `mapstructure:"password"`
	MigrationsTable         string            `mapstructure:"migrations-table"`
	MigrationsLocations     []string          `mapstructure:"migrations-locations"`
	MigrationsPlaceholders  map[string]string `mapstructure:"migrations-placeholders"`
	BaselineOnMigrate       bool              `mapstructure:"baseline-on-migrate"`
	BaselineVersion         string            `mapstructure:"baseline-version"`
	OutOfOrder              bool              `mapstructure:"out-of-order"`
	Group                   bool              `mapstructure:"group"`
	IgnoreMigrationPatterns []string          `mapstructure:"ignore-migration-patterns"`
	FailOnValidationError   bool              `mapstructure:"fail-on-validation-error"`
	Pool                    rawPool           `mapstructure:"pool"`
}

// defaults is the lowest layer of every namespace.
func defaults() map[string]any {
	pool := migrator.DefaultPoolSettings()
	return map[string]any{
		"migrations-table":          "schema_history",
		"migrations-locations":      []any{"filesystem:db/migration"},
		"baseline-on-migrate":       true,
		"baseline-version":          "0",
		"out-of-order":              false,
		"group":                     false,
		"ignore-migration-patterns": []any{"*:pending"},
		"fail-on-validation-error":  false,
		"pool": map[string]any{
			"capacity":              pool.Capacity,
			"acquire-timeout":       pool.AcquireTimeout.String(),
			"health-check-interval": pool.HealthCheckInterval.String(),
		},
	}
}

// envFields lists the settings that can be overridden by environment variables,
// as key paths below the namespace.
var envFields = [][]string{
	{"url"},
	{"username"},
	{"password"},
	{"migrations-table"},
	{"migrations-locations"},
	{"baseline-on-migrate"},
	{"baseline-version"},
	{"out-of-order"},
	{"group"},
	{"ignore-migration-patterns"},
	{"fail-on-validation-error"},
	{"pool", "capacity"},
	{"pool", "acquire-timeout"},
	{"pool", "health-check-interval"},
}

// EnvName returns the environment variable that overrides field of the
// namespace at key, e.g. EnvName("db-connection.main", "url") is DB_CONNECTION_MAIN_URL.
func EnvName(key string, field ...string) string {
	parts := append([]string{key}, field...)
	name := strings.Join(parts, "_")
	name = strings.NewReplacer(".", "_", "-", "_").Replace(name)
	return strings.ToUpper(name)
}

// Document is the merged content of the configuration files.
type Document struct {
	source Source
	tree   map[string]any
}

// Read loads the configuration file and its environment overlay.
func Read(src Source) (*Document, error) {
	if src.LookupEnv == nil {
		src.LookupEnv = os.LookupEnv
	}

	path := src.Path
	required := path != ""
	if path == "" {
		path = DefaultPath
	}

	tree, err := readFile(path, required, src.LookupEnv)
	if err != nil {
		return nil, err
	}

	if src.Environment != "" {
		ext := filepath.Ext(path)
		overlayPath := strings.TrimSuffix(path, ext) + "." + src.Environment + ext
		overlay, err := readFile(overlayPath, false, src.LookupEnv)
		if err != nil {
			return nil, err
		}
		tree = merge(tree, overlay)
	}

	return &Document{source: src, tree: tree}, nil
}

func readFile(path string, required bool, lookup func(string) (string, bool)) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return map[string]any{}, nil
		}
		return nil, &migrator.ConfigurationError{Field: path, Reason: err.Error()}
	}

	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &migrator.ConfigurationError{Field: path, Reason: "invalid YAML: " + err.Error()}
	}
	if tree == nil {
		tree = map[string]any{}
	}

	if err := substitute(tree, "", lookup); err != nil {
		return nil, &migrator.ConfigurationError{Field: path, Reason: err.Error()}
	}
	return tree, nil
}

// Labels returns the namespace labels present below root, sorted.
func (d *Document) Labels(root string) []string {
	sub, _ := lookup(d.tree, strings.Split(root, "."))
	m, ok := sub.(map[string]any)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Namespace resolves the namespace at key, e.g. "db-connection.main".
func (d *Document) Namespace(key string) (Namespace, error) {
	tree := defaults()

	if sub, ok := lookup(d.tree, strings.Split(key, ".")); ok {
		m, ok := sub.(map[string]any)
		if !ok {
			return Namespace{}, &migrator.ConfigurationError{Key: key, Reason: "must be a mapping"}
		}
		tree = merge(tree, m)
	}

	for _, field := range envFields {
		if v, ok := d.source.LookupEnv(EnvName(key, field...)); ok {
			set(tree, field, v)
		}
	}

	var raw rawNamespace
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &raw,
	})
	if err != nil {
		return Namespace{}, err
	}
	if err := decoder.Decode(tree); err != nil {
		return Namespace{}, &migrator.ConfigurationError{Key: key, Reason: err.Error()}
	}

	return build(key, raw)
}

func build(key string, raw rawNamespace) (Namespace, error) {
	fail := func(field, reason string) (Namespace, error) {
		return Namespace{}, &migrator.ConfigurationError{Key: key, Field: field, Reason: reason}
	}

	locations := make([]string, 0, len(raw.MigrationsLocations))
	for _, l := range raw.MigrationsLocations {
		if l = strings.TrimSpace(l); l != "" {
			locations = append(locations, l)
		}
	}

	conn, err := migrator.NewConnectionConfig(migrator.ConnectionParams{
		URL:                    raw.URL,
		Username:               raw.Username,
		Password:               raw.Password,
		MigrationsTable:        raw.MigrationsTable,
		MigrationsLocations:    locations,
		MigrationsPlaceholders: raw.MigrationsPlaceholders,
	})
	if err != nil {
		var cfgErr *migrator.ConfigurationError
		if errors.As(err, &cfgErr) {
			return fail(cfgErr.Field, cfgErr.Reason)
		}
		return Namespace{}, err
	}

	if err := validateURL(conn); err != nil {
		return fail("url", err.Error())
	}
	if err := dialect.ValidateTableName(conn.MigrationsTable()); err != nil {
		return fail("migrations-table", err.Error())
	}

	baseline, err := migrator.ParseVersion(raw.BaselineVersion)
	if err != nil {
		return fail("baseline-version", err.Error())
	}
	for _, p := range raw.IgnoreMigrationPatterns {
		if !strings.Contains(p, ":") {
			return fail("ignore-migration-patterns", fmt.Sprintf("pattern %q must have the form <type>:<state>", p))
		}
	}

	pool := migrator.PoolSettings{
		Capacity:            raw.Pool.Capacity,
		AcquireTimeout:      raw.Pool.AcquireTimeout,
		HealthCheckInterval: raw.Pool.HealthCheckInterval,
	}
	switch {
	case pool.Capacity <= 0:
		return fail("pool.capacity", "must be positive")
	case pool.AcquireTimeout <= 0:
		return fail("pool.acquire-timeout", "must be positive")
	case pool.HealthCheckInterval <= 0:
		return fail("pool.health-check-interval", "must be positive")
	}

	label := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		label = key[i+1:]
	}

	return Namespace{
		Key:        key,
		Label:      label,
		Connection: conn,
		Policy: migrator.Policy{
			BaselineOnMigrate:       raw.BaselineOnMigrate,
			BaselineVersion:         baseline,
			OutOfOrder:              raw.OutOfOrder,
			Group:                   raw.Group,
			IgnoreMigrationPatterns: raw.IgnoreMigrationPatterns,
			FailOnValidationError:   raw.FailOnValidationError,
		},
		Pool: pool,
	}, nil
}

// validateURL checks the URL against its dialect without touching the network.
func validateURL(conn migrator.ConnectionConfig) error {
	d, err := dialect.ForURL(conn.URL())
	if err != nil {
		return err
	}
	if _, err := d.DSN(conn.URL(), migrator.Credentials{Username: conn.Username()}); err != nil {
		return err
	}
	if d.Name() == "postgres" {
		if _, err := pgconn.ParseConfig(strings.TrimPrefix(conn.URL(), "jdbc:")); err != nil {
			return err
		}
	}
	return nil
}

// Load reads src and resolves the namespace at key.
func Load(src Source, key string) (Namespace, error) {
	doc, err := Read(src)
	if err != nil {
		return Namespace{}, err
	}
	return doc.Namespace(key)
}

// LoadAll reads src once and resolves root.<label> for each label, in order.
func LoadAll(src Source, root string, labels []string) ([]Namespace, error) {
	doc, err := Read(src)
	if err != nil {
		return nil, err
	}

	out := make([]Namespace, 0, len(labels))
	for _, label := range labels {
		ns, err := doc.Namespace(root + "." + label)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}
