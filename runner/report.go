package runner

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/getpup/pupsourcing-migrator"
)

const (
	banner    = "-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-="
	separator = "------------------------------------"
)

// versionText renders v, or "none" for the zero Version.
func versionText(v migrator.Version) string {
	if v.IsZero() {
		return "none"
	}
	return v.String()
}

// PrintDiagnostics writes one block per diagnostic.
func PrintDiagnostics(w io.Writer, diagnostics []migrator.InvalidMigration) {
	for _, d := range diagnostics {
		fmt.Fprintln(w, "Failed to validate migration:")
		fmt.Fprintf(w, "  - version: %s\n", versionText(d.Version))
		fmt.Fprintf(w, "  - path: %s\n", d.Path)
		fmt.Fprintf(w, "  - description: %s\n", d.Description)
		fmt.Fprintf(w, "  - error code: %s\n", d.ErrorCode)
		fmt.Fprintf(w, "  - error message: %s\n", d.ErrorMessage)
	}
}

// PrintInfo writes the migration listing of one namespace as a table.
func PrintInfo(w io.Writer, label string, infos []migrator.MigrationInfo) error {
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "Namespace: %s\n", label)
	fmt.Fprintln(w, separator)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Category\tVersion\tDescription\tType\tInstalled On\tState")
	for _, i := range infos {
		category := "Versioned"
		version := i.Version.String()
		if i.Type == migrator.MigrationTypeRepeatable {
			category = "Repeatable"
			version = ""
		}
		installed := ""
		if !i.InstalledOn.IsZero() {
			installed = i.InstalledOn.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", category, version, i.Description, i.Type, installed, i.State)
	}
	return tw.Flush()
}

// printResult writes the report of one migration run. Progress goes to out;
// warnings, diagnostics and failures go to errOut.
func printResult(out, errOut io.Writer, label string, result migrator.MigrateResult, runErr error) {
	fmt.Fprintln(out, banner)
	fmt.Fprintf(out, "Migrating: %s\n", label)
	fmt.Fprintln(out, separator)

	if len(result.InvalidMigrations) > 0 {
		PrintDiagnostics(errOut, result.InvalidMigrations)
		fmt.Fprintln(out, separator)
	}

	if runErr == nil {
		fmt.Fprintf(out, "Initial schema version: %s\n", versionText(result.InitialSchemaVersion))
		fmt.Fprintf(out, "Target schema version: %s\n", versionText(result.TargetSchemaVersion))
	}

	if len(result.Migrations) > 0 {
		fmt.Fprintln(out, separator)
		fmt.Fprintln(out, "Executed migrations:")
		for _, m := range result.Migrations {
			fmt.Fprintf(out, " - %s %s %s\n", m.Version, m.Type, m.Description)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(out, separator)
		fmt.Fprintln(errOut, "WARNINGS:")
		for _, w := range result.Warnings {
			fmt.Fprintf(errOut, " - %s\n", w)
		}
	}

	fmt.Fprintln(out, separator)
	switch {
	case runErr != nil:
		fmt.Fprintf(errOut, "ERROR: %v\n", runErr)
		fmt.Fprintf(errOut, "ERROR: Failed to migrate %s!\n", label)
	case !result.Success:
		if result.Failure != nil {
			fmt.Fprintf(errOut, "ERROR: %v\n", result.Failure)
		}
		fmt.Fprintf(errOut, "ERROR: Failed to migrate %s!\n", label)
	default:
		fmt.Fprintf(out, "Successfully migrated: %s!\n", label)
	}
}
