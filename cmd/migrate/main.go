// Command migrate applies pending schema migrations to the configured
// database namespaces.
//
// Usage:
//
//	migrate [admin-username admin-password]
//	migrate --admin-username postgres --admin-password secret --namespace main
//	migrate validate
//	migrate info
//	migrate new "add orders table"
//
// Without admin credentials the application credentials of each namespace are
// used. Configuration is read from database.yaml (see database.example.yaml).
package main

import (
	"fmt"
	"os"

	"github.com/getpup/pupsourcing-migrator/runner"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(runner.ExitCode(err))
	}
}
