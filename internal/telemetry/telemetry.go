package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors for the core pipeline. Registered on the default registry so
// the monitor command can serve them straight from promhttp.
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_cache_hits_total",
		Help: "Content cache hits by endpoint.",
	}, []string{"endpoint"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_cache_misses_total",
		Help: "Content cache misses by endpoint.",
	}, []string{"endpoint"})

	QuotaCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_quota_calls_total",
		Help: "Recorded API calls by logical API.",
	}, []string{"api"})

	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_quota_rejections_total",
		Help: "Calls refused because the daily ceiling was reached.",
	}, []string{"api"})

	AnomaliesFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_anomalies_flagged_total",
		Help: "Anomalies flagged by rule kind and severity.",
	}, []string{"rule", "severity"})

	GuardrailValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_guardrail_validations_total",
		Help: "Guardrail proposal validations by outcome.",
	}, []string{"outcome"})

	ApprovalDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_approval_decisions_total",
		Help: "Approval request terminal outcomes.",
	}, []string{"status"})

	PlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adpilot_plan_duration_seconds",
		Help:    "End-to-end plan run duration.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	ConnectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpilot_connector_errors_total",
		Help: "Connector fetch failures by connector name.",
	}, []string{"connector"})
)

// Handler returns the metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
