// Package metrics exposes the service's Prometheus collectors. All
// observations are fire-and-forget; nothing on the serving path blocks on a
// metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/storage"
)

// Metrics holds the registry and every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	resets       prometheus.Counter
	resetRows    *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a private registry with the service collectors plus the
// standard process and Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meal_service",
			Name:      "evaluations_total",
			Help:      "Terminal eligibility evaluations by outcome and reason.",
		}, []string{"outcome", "reason"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meal_service",
			Name:      "resets_total",
			Help:      "Completed daily resets.",
		}),
		resetRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meal_service",
			Name:      "reset_rows_deleted_total",
			Help:      "Rows removed by daily resets, by table.",
		}, []string{"table"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meal_service",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meal_service",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations,
		m.resets,
		m.resetRows,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveEvaluation counts one terminal evaluation.
func (m *Metrics) ObserveEvaluation(outcome audit.Outcome, reason audit.ReasonCode) {
	m.evaluations.WithLabelValues(string(outcome), string(reason)).Inc()
}

// ObserveReset counts one completed daily reset and the rows it removed.
func (m *Metrics) ObserveReset(counts storage.ResetCounts) {
	m.resets.Inc()
	m.resetRows.WithLabelValues("usage").Add(float64(counts.UsageRows))
	m.resetRows.WithLabelValues("audit").Add(float64(counts.AuditRows))
	m.resetRows.WithLabelValues("lookup").Add(float64(counts.LookupRows))
}

// ObserveHTTP counts one served request.
func (m *Metrics) ObserveHTTP(route string, status int, seconds float64) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
