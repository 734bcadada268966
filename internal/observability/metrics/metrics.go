package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firmdesk_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	bootstrapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firmdesk_firm_bootstrap_duration_seconds",
		Help:    "Duration of firm bootstrap transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	bootstrapFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_firm_bootstrap_failures_total",
		Help: "Count of firm bootstrap failures by step",
	}, []string{"step"})

	authRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_auth_rejections_total",
		Help: "Count of authentication pipeline rejections by code",
	}, []string{"code"})

	idempotencyReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_idempotency_replays_total",
		Help: "Count of mutating requests answered from the idempotency cache",
	}, []string{"path"})

	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_notifications_total",
		Help: "Count of outbound notifications by kind and result",
	}, []string{"kind", "result"})

	maintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmdesk_maintenance_runs_total",
		Help: "Count of maintenance task runs by task and result",
	}, []string{"task", "result"})

	activeFirms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firmdesk_active_firms",
		Help: "Number of active firms (logical state)",
	})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveBootstrap records one bootstrap attempt with its result label.
func ObserveBootstrap(result string, duration time.Duration) {
	bootstrapDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveBootstrapFailure increments the failure counter for one step.
func ObserveBootstrapFailure(step string) {
	bootstrapFailures.WithLabelValues(step).Inc()
}

// ObserveAuthRejection increments the rejection counter for one code.
func ObserveAuthRejection(code string) {
	authRejections.WithLabelValues(code).Inc()
}

// ObserveIdempotencyReplay increments the replay counter for one path.
func ObserveIdempotencyReplay(path string) {
	idempotencyReplays.WithLabelValues(path).Inc()
}

// ObserveNotification increments the notification counter.
func ObserveNotification(kind, result string) {
	notificationsSent.WithLabelValues(kind, result).Inc()
}

// ObserveMaintenance records one maintenance task run.
func ObserveMaintenance(task, result string) {
	maintenanceRuns.WithLabelValues(task, result).Inc()
}

// IncrementActiveFirms increments the active firm gauge.
func IncrementActiveFirms() {
	activeFirms.Inc()
}

// DecrementActiveFirms decrements the active firm gauge.
func DecrementActiveFirms() {
	activeFirms.Dec()
}
