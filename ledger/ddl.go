package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/dialect"
)

// CreateTableSQL returns the statements creating the ledger table for d.
// Every statement is idempotent.
func CreateTableSQL(d dialect.Dialect, table string) (string, error) {
	if err := dialect.ValidateTableName(table); err != nil {
		return "", fmt.Errorf("invalid ledger table: %w", err)
	}

	index := strings.ReplaceAll(table, ".", "_") + "_s_idx"

	switch d.Name() {
	case "postgres":
		var b strings.Builder
		if schema, _, ok := strings.Cut(table, "."); ok {
			fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", schema)
		}
		fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
    installed_rank INTEGER NOT NULL PRIMARY KEY,
    version VARCHAR(%d),
    description VARCHAR(200) NOT NULL,
    type VARCHAR(20) NOT NULL,
    script VARCHAR(1000) NOT NULL,
    checksum VARCHAR(64),
    installed_by VARCHAR(100) NOT NULL,
    installed_on TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    execution_time INTEGER NOT NULL,
    success BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS %s ON %s (success);
`, table, migrator.MaxVersionLength, index, table)
		return b.String(), nil

	case "mysql":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    installed_rank INT NOT NULL PRIMARY KEY,
    version VARCHAR(%d),
    description VARCHAR(200) NOT NULL,
    type VARCHAR(20) NOT NULL,
    script VARCHAR(1000) NOT NULL,
    checksum VARCHAR(64),
    installed_by VARCHAR(100) NOT NULL,
    installed_on TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    execution_time INT NOT NULL,
    success BOOLEAN NOT NULL,
    INDEX %s (success)
) ENGINE=InnoDB;
`, table, migrator.MaxVersionLength, index), nil

	case "sqlite":
		if _, name, ok := strings.Cut(table, "."); ok {
			table = name
			index = name + "_s_idx"
		}
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    installed_rank INTEGER NOT NULL PRIMARY KEY,
    version TEXT,
    description TEXT NOT NULL,
    type TEXT NOT NULL,
    script TEXT NOT NULL,
    checksum TEXT,
    installed_by TEXT NOT NULL,
    installed_on TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    execution_time INTEGER NOT NULL,
    success BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS %s ON %s (success);
`, table, index, table), nil
	}

	return "", fmt.Errorf("unsupported dialect %q", d.Name())
}

// GenerateConfig configures ledger DDL file generation.
type GenerateConfig struct {
	// OutputFolder is the directory where the file will be written.
	OutputFolder string

	// OutputFilename is the name of the file.
	OutputFilename string

	// Table is the ledger table name, optionally schema qualified.
	Table string
}

// DefaultGenerateConfig returns the default generation settings.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		OutputFolder:   "migrations",
		OutputFilename: "V0_1__create_schema_history.sql",
		Table:          "schema_history",
	}
}

// Generate writes the ledger DDL for d into the configured file, for teams
// that provision the ledger through their own tooling.
func Generate(d dialect.Dialect, config *GenerateConfig) (string, error) {
	ddl, err := CreateTableSQL(d, config.Table)
	if err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output folder: %w", err)
	}

	content := fmt.Sprintf("-- Migration ledger\n-- Generated: %s\n-- Database: %s\n\n%s",
		time.Now().Format(time.RFC3339), d.Name(), ddl)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write ledger file: %w", err)
	}

	return outputPath, nil
}
