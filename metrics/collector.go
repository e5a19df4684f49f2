package metrics

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeError   = "error"
)

// Transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Collector wraps metrics and provides helper methods with pre-filled labels.
// A nil *Collector is valid and records nothing.
type Collector struct {
	namespace string
}

// NewCollector creates a new Collector for the given namespace label.
func NewCollector(namespace string) *Collector {
	return &Collector{namespace: namespace}
}

// Namespace returns the label value.
func (c *Collector) Namespace() string {
	if c == nil {
		return ""
	}
	return c.namespace
}

// IncRun increments the runs counter for outcome.
func (c *Collector) IncRun(outcome string) {
	if c == nil {
		return
	}
	MigrationRunsTotal.WithLabelValues(c.namespace, outcome).Inc()
}

// AddMigrationsApplied adds n to the applied scripts counter.
func (c *Collector) AddMigrationsApplied(n int) {
	if c == nil || n <= 0 {
		return
	}
	MigrationsAppliedTotal.WithLabelValues(c.namespace).Add(float64(n))
}

// IncMigrationsFailed increments the failed scripts counter.
func (c *Collector) IncMigrationsFailed() {
	if c == nil {
		return
	}
	MigrationsFailedTotal.WithLabelValues(c.namespace).Inc()
}

// IncValidationDiagnostic increments the diagnostics counter for an error code.
func (c *Collector) IncValidationDiagnostic(code string) {
	if c == nil {
		return
	}
	ValidationDiagnosticsTotal.WithLabelValues(c.namespace, code).Inc()
}

// ObserveRunDuration records a migration run duration observation.
func (c *Collector) ObserveRunDuration(seconds float64) {
	if c == nil {
		return
	}
	MigrationRunDuration.WithLabelValues(c.namespace).Observe(seconds)
}

// SetPoolCapacity sets the pool capacity gauge.
func (c *Collector) SetPoolCapacity(capacity int) {
	if c == nil {
		return
	}
	PoolCapacity.WithLabelValues(c.namespace).Set(float64(capacity))
}

// SetConnectionsInUse sets the in-use connections gauge.
func (c *Collector) SetConnectionsInUse(count int) {
	if c == nil {
		return
	}
	PoolConnectionsInUse.WithLabelValues(c.namespace).Set(float64(count))
}

// ObserveAcquireWait records an acquisition wait observation.
func (c *Collector) ObserveAcquireWait(seconds float64) {
	if c == nil {
		return
	}
	PoolAcquireWaitDuration.WithLabelValues(c.namespace).Observe(seconds)
}

// IncPoolExhausted increments the exhausted counter.
func (c *Collector) IncPoolExhausted() {
	if c == nil {
		return
	}
	PoolExhaustedTotal.WithLabelValues(c.namespace).Inc()
}

// IncTransactions increments the transactions counter for outcome.
func (c *Collector) IncTransactions(outcome string) {
	if c == nil {
		return
	}
	TransactionsTotal.WithLabelValues(c.namespace, outcome).Inc()
}

// SetHealthy sets the health gauge to 1 or 0.
func (c *Collector) SetHealthy(healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	PoolHealthy.WithLabelValues(c.namespace).Set(v)
}

// ObserveHealthCheckLatency records a health check latency observation.
func (c *Collector) ObserveHealthCheckLatency(seconds float64) {
	if c == nil {
		return
	}
	HealthCheckLatency.WithLabelValues(c.namespace).Observe(seconds)
}
