// Package metrics exposes Prometheus collectors for the payment pipeline and
// enrollment.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics groups the service collectors.
type Metrics struct {
	registry    *prometheus.Registry
	payments    *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	enrollments *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onramp_payments_total",
			Help: "Payment attempts by terminal status and failure reason.",
		}, []string{"status", "reason"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onramp_payment_stage_seconds",
			Help:    "Time spent in each payment pipeline stage.",
			Buckets: latencyBuckets,
		}, []string{"stage"}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onramp_enrollments_total",
			Help: "Enrollment attempts by mode and result.",
		}, []string{"mode", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onramp_payments_in_flight",
			Help: "Payments currently inside the pipeline.",
		}),
	}
	reg.MustRegister(
		m.payments, m.stages, m.enrollments, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PaymentStarted tracks a payment entering the pipeline.
func (m *Metrics) PaymentStarted() { m.inFlight.Inc() }

// PaymentFinished records the terminal outcome. reason is empty on success.
func (m *Metrics) PaymentFinished(reason string) {
	m.inFlight.Dec()
	status := "done"
	if reason != "" {
		status = "failed"
	}
	m.payments.WithLabelValues(status, reason).Inc()
}

// StageCompleted records how long a stage took.
func (m *Metrics) StageCompleted(stage string, d time.Duration) {
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// Enrollment counts an enrollment attempt.
func (m *Metrics) Enrollment(mode, result string) {
	m.enrollments.WithLabelValues(mode, result).Inc()
}
