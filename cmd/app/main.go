// Command app runs a long-lived process around one connection pool: the
// schema is migrated at startup, pool health is checked periodically and
// Prometheus metrics are served until SIGINT or SIGTERM.
//
// Usage:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/app -config database.yaml -namespace main -metrics-addr :9090
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/config"
	"github.com/getpup/pupsourcing-migrator/lifecycle"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/pool"
)

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath, "Path to the configuration file")
		environment = flag.String("env", os.Getenv("APP_ENV"), "Environment overlay, e.g. prod reads database.prod.yaml")
		namespace   = flag.String("namespace", "main", "Namespace below "+config.DefaultRoot+" to connect to")
		metricsAddr = flag.String("metrics-addr", ":9090", "Address serving /metrics and /healthz")
		maxFailures = flag.Int("max-health-failures", 0, "Exit after this many consecutive failed health checks (0: never)")
	)
	flag.Parse()

	logger := migrator.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*configPath, *environment, *namespace, *metricsAddr, *maxFailures, logger); err != nil {
		slog.Error("app stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, environment, namespace, metricsAddr string, maxFailures int, logger migrator.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ns, err := config.Load(config.Source{Path: configPath, Environment: environment}, config.DefaultRoot+"."+namespace)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(ns.Label)
	p, err := pool.New(ctx, pool.Config{
		Connection: ns.Connection,
		Settings:   ns.Pool,
		Policy:     &ns.Policy,
		Metrics:    collector,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	server := metrics.NewServer(metricsAddr, p.Ping)
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	manager := lifecycle.New(lifecycle.Config{
		Pool:                   p,
		Interval:               p.Settings().HealthCheckInterval,
		MaxConsecutiveFailures: maxFailures,
		Metrics:                collector,
		Logger:                 logger,
	})

	logger.Info(ctx, "app started", "namespace", ns.Label, "capacity", p.Capacity(), "metrics_addr", metricsAddr)

	healthErr := make(chan error, 1)
	go func() { healthErr <- manager.StartHealthCheck(ctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "shutdown signal received")
			return nil
		case err := <-healthErr:
			return err
		case <-ticker.C:
			if err := server.Err(); err != nil {
				return err
			}
		}
	}
}
