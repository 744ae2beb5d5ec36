// Package metrics provides Prometheus metrics collection for the capital
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Calculation metrics
	CalculationsTotal   *prometheus.CounterVec
	CalculationDuration *prometheus.HistogramVec

	// Job metrics
	JobsQueued    prometheus.Gauge
	JobsRunning   prometheus.Gauge
	JobsTotal     *prometheus.CounterVec
	WebhooksTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered on the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	constLabels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request duration in seconds",
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				ConstLabels: constLabels,
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being served",
			ConstLabels: constLabels,
		}),
		CalculationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calculations_total",
				Help:        "Total calculations by methodology and outcome",
				ConstLabels: constLabels,
			},
			[]string{"methodology", "outcome"},
		),
		CalculationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calculation_duration_seconds",
				Help:        "Calculation engine duration in seconds",
				Buckets:     []float64{.01, .05, .1, .5, 1, 5, 15, 60, 120},
				ConstLabels: constLabels,
			},
			[]string{"methodology"},
		),
		JobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "jobs_queued",
			Help:        "Jobs currently queued",
			ConstLabels: constLabels,
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "jobs_running",
			Help:        "Jobs currently running",
			ConstLabels: constLabels,
		}),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "jobs_total",
				Help:        "Total jobs by terminal status",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "webhook_deliveries_total",
				Help:        "Webhook delivery attempts by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.CalculationsTotal,
		m.CalculationDuration,
		m.JobsQueued,
		m.JobsRunning,
		m.JobsTotal,
		m.WebhooksTotal,
	)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveCalculation records one finished calculation.
func (m *Metrics) ObserveCalculation(methodology, outcome string, duration time.Duration) {
	m.CalculationsTotal.WithLabelValues(methodology, outcome).Inc()
	m.CalculationDuration.WithLabelValues(methodology).Observe(duration.Seconds())
}
