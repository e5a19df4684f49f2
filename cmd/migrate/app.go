package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/config"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/orchestrator"
	"github.com/getpup/pupsourcing-migrator/runner"
	"github.com/getpup/pupsourcing-migrator/script"
	"github.com/urfave/cli"
)

const (
	adminUsernameFlagName    = "admin-username"
	adminPasswordFlagName    = "admin-password"
	configFlagName           = "config"
	envFlagName              = "env"
	namespaceFlagName        = "namespace"
	failOnValidationFlagName = "fail-on-validation-error"
	pushgatewayFlagName      = "pushgateway"
	verboseFlagName          = "verbose"
	locationFlagName         = "location"
)

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "migrate"
	app.Usage = "apply database schema migrations"
	app.ArgsUsage = "[admin-username admin-password]"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   joinFlagNames(adminUsernameFlagName, "u"),
			Usage:  "admin username used to run migrations (default: the namespace's app user)",
			EnvVar: "DB_ADMIN_USERNAME",
		},
		cli.StringFlag{
			Name:   joinFlagNames(adminPasswordFlagName, "p"),
			Usage:  "admin password used to run migrations",
			EnvVar: "DB_ADMIN_PASSWORD",
		},
		cli.StringFlag{
			Name:   joinFlagNames(configFlagName, "c"),
			Usage:  "path to the configuration file",
			Value:  config.DefaultPath,
			EnvVar: "MIGRATOR_CONFIG",
		},
		cli.StringFlag{
			Name:   envFlagName,
			Usage:  "environment overlay, e.g. prod reads database.prod.yaml",
			EnvVar: "APP_ENV",
		},
		cli.StringSliceFlag{
			Name:  joinFlagNames(namespaceFlagName, "n"),
			Usage: "namespace below " + config.DefaultRoot + " to migrate, repeatable (default: main)",
		},
		cli.BoolFlag{
			Name:   failOnValidationFlagName,
			Usage:  "abort before applying anything when validation reports a problem",
			EnvVar: "MIGRATOR_FAIL_ON_VALIDATION_ERROR",
		},
		cli.StringFlag{
			Name:   pushgatewayFlagName,
			Usage:  "Prometheus Pushgateway URL to push run metrics to",
			EnvVar: "MIGRATOR_PUSHGATEWAY",
		},
		cli.BoolFlag{
			Name:  joinFlagNames(verboseFlagName, "v"),
			Usage: "log progress to stderr",
		},
	}
	app.Action = migrateAction
	app.Commands = []cli.Command{
		{
			Name:      "migrate",
			Usage:     "apply pending migrations (default)",
			ArgsUsage: "[admin-username admin-password]",
			Action:    migrateAction,
		},
		{
			Name:   "validate",
			Usage:  "report differences between scripts and the ledger without applying anything",
			Action: validateAction,
		},
		{
			Name:   "info",
			Usage:  "list scripts and ledger rows with their state",
			Action: infoAction,
		},
		{
			Name:      "new",
			Usage:     "create the next versioned script",
			ArgsUsage: "<description>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  locationFlagName,
					Usage: "directory to create the script in (default: the namespace's first filesystem location)",
				},
			},
			Action: newAction,
		},
	}
	return app
}

func joinFlagNames(names ...string) string {
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

// globals returns the context holding the application-level flags.
func globals(c *cli.Context) *cli.Context {
	if p := c.Parent(); p != nil {
		return p
	}
	return c
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(c *cli.Context) migrator.Logger {
	if !globals(c).Bool(verboseFlagName) {
		return nil
	}
	return migrator.NewSlogLogger(slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func loadNamespaces(c *cli.Context) ([]config.Namespace, error) {
	g := globals(c)
	labels := g.StringSlice(namespaceFlagName)
	if len(labels) == 0 {
		labels = []string{"main"}
	}
	src := config.Source{
		Path:        g.String(configFlagName),
		Environment: g.String(envFlagName),
	}
	return config.LoadAll(src, config.DefaultRoot, labels)
}

// identity prefers flags, then positional arguments, then the app credentials.
func identity(c *cli.Context) migrator.Identity {
	g := globals(c)
	username, password := g.String(adminUsernameFlagName), g.String(adminPasswordFlagName)
	if username == "" && c.NArg() > 0 {
		username = c.Args().Get(0)
		password = c.Args().Get(1)
	}
	return migrator.IdentityFrom(username, password)
}

func newOrchestrator(c *cli.Context, ns config.Namespace, logger migrator.Logger) *orchestrator.Orchestrator {
	policy := ns.Policy
	if globals(c).Bool(failOnValidationFlagName) {
		policy.FailOnValidationError = true
	}
	return orchestrator.New(orchestrator.Config{Policy: &policy, Logger: logger})
}

func migrateAction(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	namespaces, err := loadNamespaces(c)
	if err != nil {
		return err
	}

	logger := newLogger(c)
	pushgateway := globals(c).String(pushgatewayFlagName)

	jobs := make([]runner.Job, 0, len(namespaces))
	for _, ns := range namespaces {
		orch := newOrchestrator(c, ns, logger)
		defer orch.Close()
		jobs = append(jobs, runner.Job{Label: ns.Label, Connection: ns.Connection, Migrator: orch})
	}

	r := runner.New(runner.Config{
		Stdout:  c.App.Writer,
		Stderr:  c.App.ErrWriter,
		Metrics: pushgateway != "",
		Logger:  logger,
	})
	runErr := r.RunAll(ctx, jobs, identity(c))

	if pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		host, _ := os.Hostname()
		if err := metrics.Push(pushCtx, pushgateway, host); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "WARNING: %v\n", err)
		}
	}

	return runErr
}

func validateAction(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	namespaces, err := loadNamespaces(c)
	if err != nil {
		return err
	}

	logger := newLogger(c)
	failed := 0
	for _, ns := range namespaces {
		orch := newOrchestrator(c, ns, logger)
		diagnostics, err := orch.Validate(ctx, ns.Connection, identity(c))
		orch.Close()
		if err != nil {
			return &runner.FailedError{Label: ns.Label, Err: err}
		}

		if len(diagnostics) == 0 {
			fmt.Fprintf(c.App.Writer, "Successfully validated: %s!\n", ns.Label)
			continue
		}
		runner.PrintDiagnostics(c.App.ErrWriter, diagnostics)
		fmt.Fprintf(c.App.ErrWriter, "ERROR: Validation of %s reported %d problem(s)!\n", ns.Label, len(diagnostics))
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("validation failed for %d namespace(s)", failed)
	}
	return nil
}

func infoAction(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	namespaces, err := loadNamespaces(c)
	if err != nil {
		return err
	}

	logger := newLogger(c)
	for _, ns := range namespaces {
		orch := newOrchestrator(c, ns, logger)
		infos, err := orch.Info(ctx, ns.Connection, identity(c))
		orch.Close()
		if err != nil {
			return &runner.FailedError{Label: ns.Label, Err: err}
		}
		if err := runner.PrintInfo(c.App.Writer, ns.Label, infos); err != nil {
			return err
		}
	}
	return nil
}

func newAction(c *cli.Context) error {
	description := c.Args().First()
	if description == "" {
		return fmt.Errorf("a description is required, e.g. migrate new \"add orders table\"")
	}

	namespaces, err := loadNamespaces(c)
	if err != nil {
		return err
	}
	ns := namespaces[0]

	dir := c.String(locationFlagName)
	if dir == "" {
		for _, loc := range ns.Connection.MigrationsLocations() {
			if d, ok := script.LocationDir(loc); ok {
				dir = d
				break
			}
		}
	}
	if dir == "" {
		return fmt.Errorf("namespace %s has no filesystem location, use --%s", ns.Label, locationFlagName)
	}

	resolution, err := script.NewResolver(script.Config{}).Resolve(context.Background(), ns.Connection.MigrationsLocations())
	if err != nil {
		return err
	}

	path, err := script.Scaffold(dir, script.NextVersion(resolution.Scripts), description)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Created %s\n", path)
	return nil
}
