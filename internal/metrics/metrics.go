// Package metrics provides Prometheus instrumentation for the risk and audit subsystems.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegis"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern, and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code bucket.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RiskAssessmentsTotal counts risk assessments by rule type and resulting action.
	RiskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Total risk assessments by rule type and action.",
		},
		[]string{"type", "action"},
	)

	// RiskAssessmentDuration observes engine evaluation time.
	RiskAssessmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_assessment_duration_seconds",
			Help:      "Risk engine evaluation time in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"type"},
	)

	// RiskRulesTriggeredTotal counts triggered rules by rule id.
	RiskRulesTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rules_triggered_total",
			Help:      "Total times each risk rule was triggered.",
		},
		[]string{"rule_id"},
	)

	// DevicesRecordedTotal counts fingerprint sightings, split by new vs returning.
	DevicesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_recorded_total",
			Help:      "Total device fingerprint sightings by kind (new, returning).",
		},
		[]string{"kind"},
	)

	// DevicesCleanedTotal counts devices removed by inactivity cleanup.
	DevicesCleanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "devices_cleaned_total",
		Help:      "Total inactive device fingerprints removed.",
	})

	// AuditEntriesTotal counts audit log entries by result.
	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Total audit log entries by result.",
		},
		[]string{"result"},
	)

	// SecurityEventsTotal counts security events by type and severity.
	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Total security events by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// AuditFlushesTotal counts buffer flushes by buffer and outcome.
	AuditFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_flushes_total",
			Help:      "Total audit buffer flushes by buffer (logs, events) and result (ok, requeued).",
		},
		[]string{"buffer", "result"},
	)

	// AuditBufferSize tracks unflushed entries per buffer.
	AuditBufferSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_buffer_size",
			Help:      "Number of buffered entries awaiting flush.",
		},
		[]string{"buffer"},
	)

	// AlertsTotal counts critical-event alerts by handler and result.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total critical security event alerts by handler and result.",
		},
		[]string{"handler", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RiskAssessmentsTotal,
		RiskAssessmentDuration,
		RiskRulesTriggeredTotal,
		DevicesRecordedTotal,
		DevicesCleanedTotal,
		AuditEntriesTotal,
		SecurityEventsTotal,
		AuditFlushesTotal,
		AuditBufferSize,
		AlertsTotal,
	)
}

// Middleware records request count and latency keyed by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(wrapped, r)

		// Route pattern is only known after routing; it keeps label cardinality bounded.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, route, statusBucket(wrapped.Status())).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code == 0:
		return "2xx"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
