package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record store metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessionsync_sessions_total",
			Help: "Total number of session records by status",
		},
		[]string{"status"},
	)

	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles by result (ok, partial, degraded, incomplete)",
		},
		[]string{"result"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessionsync_reconciliation_duration_seconds",
			Help:    "Duration of a reconciliation cycle in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ReconciliationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_reconciliation_actions_total",
			Help: "Total number of reconciliation actions by kind",
		},
		[]string{"action"},
	)

	OrphansFound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionsync_orphans_found",
			Help: "Orphan sessions found in the last reconciliation cycle",
		},
	)

	// Session host metrics
	HostHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionsync_host_healthy",
			Help: "Whether the last session listing succeeded (1 = healthy, 0 = unreachable)",
		},
	)

	HostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_host_requests_total",
			Help: "Total number of session host requests by operation and result",
		},
		[]string{"operation", "result"},
	)

	HostRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsync_host_request_duration_seconds",
			Help:    "Session host request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Provisioning metrics
	InstancesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_instances_created_total",
			Help: "Total number of instance creation requests by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Outbound webhook metrics
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_webhook_deliveries_total",
			Help: "Total number of outbound webhook deliveries by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationActionsTotal)
	prometheus.MustRegister(OrphansFound)
	prometheus.MustRegister(HostHealthy)
	prometheus.MustRegister(HostRequestsTotal)
	prometheus.MustRegister(HostRequestDuration)
	prometheus.MustRegister(InstancesCreatedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(WebhookDeliveriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
