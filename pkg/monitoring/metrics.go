package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of failed authentication attempts",
		},
		[]string{"reason"},
	)

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_authz_decisions_total",
			Help: "Authorization decisions by resource type and decision",
		},
		[]string{"resource_type", "decision"},
	)

	auditAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_audit_appends_total",
			Help: "Audit records appended by kind",
		},
		[]string{"kind"},
	)

	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_backend_request_duration_seconds",
			Help:    "Duration of proxied backend calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "outcome"},
	)

	backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_backend_healthy",
			Help: "Backend health state from periodic probes (1 healthy, 0 unhealthy)",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		authFailuresTotal,
		authzDecisionsTotal,
		auditAppendsTotal,
		backendRequestDuration,
		backendHealth,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAuthFailure records a failed authentication attempt.
func RecordAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordAuthzDecision records one authorization decision.
func RecordAuthzDecision(resourceType, decision string) {
	authzDecisionsTotal.WithLabelValues(resourceType, decision).Inc()
}

// RecordAuditAppend records one audit record append.
func RecordAuditAppend(kind string) {
	auditAppendsTotal.WithLabelValues(kind).Inc()
}

// RecordBackendRequest records one proxied backend call.
func RecordBackendRequest(backend, outcome string, duration time.Duration) {
	backendRequestDuration.WithLabelValues(backend, outcome).Observe(duration.Seconds())
}

// SetBackendHealth updates the probed backend health gauge.
func SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	backendHealth.WithLabelValues(backend).Set(v)
}
