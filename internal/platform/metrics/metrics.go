package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accessd"

// Metrics holds the service collectors on a private registry. All methods
// are safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	decisions         *prometheus.CounterVec
	evalDuration      prometheus.Histogram
	evalErrors        *prometheus.CounterVec
	emergencyGrants   *prometheus.CounterVec
	auditFailures     *prometheus.CounterVec
	auditStreamErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_decisions_total",
				Help:      "Access decisions by capability, basis and result",
			},
			[]string{"capability", "basis", "result"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "access_evaluation_duration_seconds",
				Help:      "Duration of access evaluations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),
		evalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_evaluation_errors_total",
				Help:      "Evaluations that failed closed, by cause",
			},
			[]string{"cause"},
		),
		emergencyGrants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emergency_activations_total",
				Help:      "Emergency grants created, by role and whether a placeholder dossier was bootstrapped",
			},
			[]string{"role", "created_dossier"},
		),
		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit entries that could not be written",
			},
			[]string{"entity_kind"},
		),
		auditStreamErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_stream_publish_errors_total",
				Help:      "Committed audit entries that could not be published to the stream",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.decisions,
		m.evalDuration,
		m.evalErrors,
		m.emergencyGrants,
		m.auditFailures,
		m.auditStreamErrors,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency per route template, so
// dossier ids never become label values.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveDecision counts one access decision.
func (m *Metrics) ObserveDecision(capability, basis string, allow bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allow {
		result = "allow"
	}
	m.decisions.WithLabelValues(capability, basis, result).Inc()
	m.evalDuration.Observe(took.Seconds())
}

// EvaluationFailed counts an evaluation that failed closed. cause is
// "timeout" or "store_error".
func (m *Metrics) EvaluationFailed(cause string) {
	if m == nil {
		return
	}
	m.evalErrors.WithLabelValues(cause).Inc()
}

func (m *Metrics) EmergencyActivated(role string, createdDossier bool) {
	if m == nil {
		return
	}
	m.emergencyGrants.WithLabelValues(role, strconv.FormatBool(createdDossier)).Inc()
}

// AuditWriteFailed is the operator signal for an audit entry that was lost.
func (m *Metrics) AuditWriteFailed(entityKind string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(entityKind).Inc()
}

func (m *Metrics) AuditStreamFailed() {
	if m == nil {
		return
	}
	m.auditStreamErrors.Inc()
}
