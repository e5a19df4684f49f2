// Package lifecycle keeps watch over a running connection pool.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/metrics"
)

// Pinger is satisfied by *pool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Pool is the pool to check (required).
	Pool Pinger

	// Interval is the interval between health checks (default: 30s).
	Interval time.Duration

	// Timeout bounds a single health check (default: 5s).
	Timeout time.Duration

	// MaxConsecutiveFailures stops the loop with an error once reached.
	// Zero keeps checking forever.
	MaxConsecutiveFailures int

	// Metrics records health (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Manager runs periodic health checks against a pool.
type Manager struct {
	config Config

	mu       sync.Mutex
	healthy  bool
	failures int
	lastErr  error
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values for Interval and Timeout if not set.
func New(cfg Config) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Manager{
		config:  cfg,
		healthy: true,
	}
}

// Check pings the pool once and records the outcome.
func (m *Manager) Check(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := time.Now()
	err := m.config.Pool.Ping(cctx)
	m.config.Metrics.ObserveHealthCheckLatency(time.Since(start).Seconds())
	m.config.Metrics.SetHealthy(err == nil)

	m.mu.Lock()
	wasHealthy := m.healthy
	m.healthy = err == nil
	m.lastErr = err
	if err != nil {
		m.failures++
	} else {
		m.failures = 0
	}
	failures := m.failures
	m.mu.Unlock()

	if m.config.Logger != nil {
		switch {
		case err != nil:
			m.config.Logger.Error(ctx, "pool health check failed", "consecutiveFailures", failures, "error", err)
		case !wasHealthy:
			m.config.Logger.Info(ctx, "pool recovered")
		default:
			m.config.Logger.Debug(ctx, "pool health check passed", "latency", time.Since(start))
		}
	}

	return err
}

// StartHealthCheck runs a health check loop until the context is cancelled.
// It returns nil on cancellation, or an error once MaxConsecutiveFailures
// checks in a row have failed.
func (m *Manager) StartHealthCheck(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Check(ctx); err != nil && ctx.Err() == nil {
				if limit := m.config.MaxConsecutiveFailures; limit > 0 && m.ConsecutiveFailures() >= limit {
					return fmt.Errorf("pool unhealthy after %d consecutive failed checks: %w", limit, err)
				}
			}
		}
	}
}

// Healthy reports the outcome of the last check. True before the first check.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// LastError returns the error of the last check, if it failed.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ConsecutiveFailures returns the number of failed checks since the last success.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}
