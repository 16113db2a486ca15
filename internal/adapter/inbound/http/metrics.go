// Package http provides the HTTP transport adapter for the gateway.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway daemon.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
	ActiveSessions         prometheus.Gauge
	AuthDecisionsTotal     *prometheus.CounterVec
	AuditDropsTotal        prometheus.Counter
	HealthTransitionsTotal *prometheus.CounterVec
	ToolIndexRebuildSecs   prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgatewayd",
				Name:      "requests_total",
				Help:      "Total number of MCP requests processed",
			},
			[]string{"method", "status"}, // method=POST, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpgatewayd",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgatewayd",
				Name:      "active_sessions",
				Help:      "Number of active sessions",
			},
		),
		AuthDecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgatewayd",
				Name:      "auth_decisions_total",
				Help:      "Total /validate authorization decisions",
			},
			[]string{"result"}, // result=allow/deny
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgatewayd",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		HealthTransitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgatewayd",
				Name:      "health_transitions_total",
				Help:      "Total health status transitions observed by the Health Supervisor",
			},
			[]string{"from", "to"},
		),
		ToolIndexRebuildSecs: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mcpgatewayd",
				Name:      "tool_index_rebuild_seconds",
				Help:      "Duration of Tool Index rebuild passes",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
