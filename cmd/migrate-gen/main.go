// Command migrate-gen writes the DDL of the migration ledger table, for teams
// that provision database objects through their own tooling.
//
// Usage:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations -filename ledger.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations
//
// Generate the ledger for different databases:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -dialect postgres -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -dialect mysql -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -dialect sqlite -output migrations
//
// Customize the table name:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -table app.schema_history -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupsourcing-migrator/dialect"
	"github.com/getpup/pupsourcing-migrator/ledger"
)

func main() {
	defaults := ledger.DefaultGenerateConfig()

	var (
		dialectName    = flag.String("dialect", "postgres", "Database dialect: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", defaults.OutputFolder, "Output folder for the generated file")
		outputFilename = flag.String("filename", defaults.OutputFilename, "Output filename")
		table          = flag.String("table", defaults.Table, "Ledger table name, optionally schema qualified")
	)

	flag.Parse()

	d, err := dialect.ByName(*dialectName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v. Supported dialects are: postgres, mysql, sqlite\n", err)
		os.Exit(1)
	}

	config := ledger.GenerateConfig{
		OutputFolder:   *outputFolder,
		OutputFilename: *outputFilename,
		Table:          *table,
	}

	path, err := ledger.Generate(d, &config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating ledger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s ledger: %s\n", d.Name(), path)
}
