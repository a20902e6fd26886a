package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsEmitted    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	escalations      *prometheus.CounterVec
	connectedClients prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		eventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spirit_events_emitted_total",
				Help: "Total events emitted through the pipeline",
			},
			[]string{"type", "priority"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spirit_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		jobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spirit_job_duration_seconds",
				Help:    "Duration of queue job executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue", "job"},
		),
		escalations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spirit_escalations_total",
				Help: "Ambiguous-signal escalations to the analyzer",
			},
			[]string{"symbol", "outcome"},
		),
		connectedClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spirit_connected_clients",
				Help: "Currently connected gateway websocket clients",
			},
		),
	}
}

// RecordEventEmitted records one emitted event by type and priority.
func (r *Recorder) RecordEventEmitted(eventType, priority string) {
	r.eventsEmitted.WithLabelValues(eventType, priority).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordJobDuration records a queue job execution time.
func (r *Recorder) RecordJobDuration(queue, job string, seconds float64) {
	r.jobDuration.WithLabelValues(queue, job).Observe(seconds)
}

// RecordEscalation records an analyzer escalation outcome for a symbol.
func (r *Recorder) RecordEscalation(symbol, outcome string) {
	r.escalations.WithLabelValues(symbol, outcome).Inc()
}

// SetConnectedClients records the gateway's live client count.
func (r *Recorder) SetConnectedClients(n int) {
	r.connectedClients.Set(float64(n))
}
