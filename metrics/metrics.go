package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MigrationRunsTotal tracks migration runs by outcome ("success", "failed", "error").
var MigrationRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_runs_total",
		Help: "Total migration runs by outcome",
	},
	[]string{"namespace", "outcome"},
)

// MigrationsAppliedTotal tracks the total number of scripts applied successfully.
var MigrationsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_migrations_applied_total",
		Help: "Total migration scripts applied",
	},
	[]string{"namespace"},
)

// MigrationsFailedTotal tracks the total number of scripts that failed.
var MigrationsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_migrations_failed_total",
		Help: "Total migration scripts failed",
	},
	[]string{"namespace"},
)

// ValidationDiagnosticsTotal tracks validation diagnostics by error code.
var ValidationDiagnosticsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_validation_diagnostics_total",
		Help: "Total validation diagnostics by error code",
	},
	[]string{"namespace", "code"},
)

// MigrationRunDuration tracks the wall time of a migration run.
var MigrationRunDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_run_duration_seconds",
		Help:    "Migration run duration",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"namespace"},
)

// PoolCapacity tracks the configured pool capacity.
var PoolCapacity = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_pool_capacity",
		Help: "Configured connection pool capacity",
	},
	[]string{"namespace"},
)

// PoolConnectionsInUse tracks connections currently held by transactions.
var PoolConnectionsInUse = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_pool_connections_in_use",
		Help: "Connections currently held by transactions",
	},
	[]string{"namespace"},
)

// PoolAcquireWaitDuration tracks how long callers waited for a connection.
var PoolAcquireWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a pooled connection",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"namespace"},
)

// PoolExhaustedTotal tracks acquisitions that timed out.
var PoolExhaustedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_pool_exhausted_total",
		Help: "Total acquisitions that timed out",
	},
	[]string{"namespace"},
)

// TransactionsTotal tracks pooled transactions by outcome ("committed", "rolled_back").
var TransactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_transactions_total",
		Help: "Total pooled transactions by outcome",
	},
	[]string{"namespace", "outcome"},
)

// PoolHealthy is 1 when the last health check succeeded, 0 otherwise.
var PoolHealthy = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_pool_healthy",
		Help: "Pool health (1 healthy, 0 unhealthy)",
	},
	[]string{"namespace"},
)

// HealthCheckLatency tracks the round-trip time of pool health checks.
var HealthCheckLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_health_check_latency_seconds",
		Help:    "Pool health check round-trip latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"namespace"},
)
