// Package metrics holds Prometheus instruments that are used across the
// fabric.  All collectors are registered with the global registry, so
// importing this package in a binary is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_active_connections",
			Help: "Number of tenant-org database handles currently cached.",
		})

	ConnectionLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_connection_load_total",
			Help: "Cumulative number of tenant-org handles successfully initialized.",
		})

	ConnectionLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_connection_load_errors_total",
			Help: "Cumulative number of failed handle initializations.",
		})

	ConnectionEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_connection_evict_total",
			Help: "Cumulative number of handles evicted from the cache (TTL, LRU, or forced).",
		})

	HealthCheckFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_health_check_failures_total",
			Help: "Cumulative number of per-handle health probes that failed or timed out.",
		})

	MigrationsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_migrations_applied_total",
			Help: "Cumulative number of org schemas that received real changes during catalog sync.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		ConnectionLoadTotal,
		ConnectionLoadErrorsTotal,
		ConnectionEvictTotal,
		HealthCheckFailuresTotal,
		MigrationsAppliedTotal,
	)
}
