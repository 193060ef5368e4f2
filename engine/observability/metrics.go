// Package observability exposes the Prometheus metrics this engine emits
// over GET /metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the Prometheus exposition format for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Of the metrics below, the engine updates only NotificationsSent and
// NotificationsFailed (for the verification and management-code mail sent by
// the HTTP API) and HTTPRejections. QueueDepth, SchedulerDecisions,
// ConfigReloads, BatchDuration and CircuitBreakerState are registered and
// exported, but nothing sets them, so they stay at zero.
var (
	// QueueDepth tracks the number of pending scheduler tasks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visamon_queue_depth",
		Help: "Current number of tasks in the scheduling queue",
	})

	// SchedulerDecisions tracks scheduler outcomes by type.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visamon_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made, by action",
	}, []string{"action"})

	// NotificationsSent tracks successful deliveries by kind.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visamon_notifications_sent_total",
		Help: "Total notifications successfully delivered, by kind",
	}, []string{"kind"})

	// NotificationsFailed tracks delivery failures by kind.
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visamon_notifications_failed_total",
		Help: "Total notification delivery failures, by kind",
	}, []string{"kind"})

	// HTTPRejections tracks requests rejected by validation or auth, by reason.
	HTTPRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visamon_http_rejections_total",
		Help: "Total HTTP requests rejected, by reason",
	}, []string{"reason"})

	// ConfigReloads tracks hot-reload outcomes.
	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visamon_config_reloads_total",
		Help: "Total config file reloads, by outcome",
	}, []string{"outcome"})

	// BatchDuration tracks how long one scheduler batch dispatch takes.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visamon_batch_duration_seconds",
		Help:    "Duration of one scheduler batch dispatch",
		Buckets: prometheus.DefBuckets,
	})

	// CircuitBreakerState tracks the query adapter's breaker state (0=closed, 1=half_open, 2=open).
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visamon_circuit_breaker_state",
		Help: "Query adapter circuit breaker state: 0=closed, 1=half_open, 2=open",
	})
)
