package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apm_agent"

// Drop reasons recorded on EventsDropped.
const (
	ReasonQueueFull = "queue_full"
	ReasonClosed    = "closed"
	ReasonSend      = "send_failed"
	ReasonEncode    = "encode_failed"
	ReasonShutdown  = "shutdown"
	ReasonMaxSpans  = "max_spans"
)

// Metrics holds the agent's self-monitoring collectors.
type Metrics struct {
	// Pipeline metrics
	EventsEnqueued *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	EventsSent     prometheus.Counter
	QueueLength    prometheus.Gauge

	// Intake metrics
	Requests      *prometheus.CounterVec
	FlushDuration prometheus.Histogram
	BatchSize     prometheus.Histogram
	BreakerState  prometheus.Gauge

	// Central config metrics
	ConfigPolls   *prometheus.CounterVec
	ConfigUpdates prometheus.Counter

	// Tracing metrics
	TransactionsStarted *prometheus.CounterVec
	SpansStarted        prometheus.Counter
	ErrorsCaptured      prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics registers the agent collectors on reg. A nil reg gets a fresh
// registry so that several agents in one process do not collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_enqueued_total",
				Help:      "Events accepted by the queue",
			},
			[]string{"kind"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events discarded before reaching the collector",
			},
			[]string{"reason"},
		),
		EventsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_sent_total",
				Help:      "Events acknowledged by the collector",
			},
		),
		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_length",
				Help:      "Events waiting in the queue",
			},
		),

		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intake_requests_total",
				Help:      "Intake requests by outcome",
			},
			[]string{"status"},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "intake_request_duration_seconds",
				Help:      "Duration of intake requests",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "intake_batch_events",
				Help:      "Events per intake request",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "intake_breaker_state",
				Help:      "Intake circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),

		ConfigPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "central_config_polls_total",
				Help:      "Central configuration polls by result",
			},
			[]string{"result"},
		),
		ConfigUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "central_config_updates_total",
				Help:      "Configuration snapshots published from central configuration",
			},
		),

		TransactionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_started_total",
				Help:      "Transactions started by sampling decision",
			},
			[]string{"sampled"},
		),
		SpansStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_started_total",
				Help:      "Spans started",
			},
		),
		ErrorsCaptured: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_captured_total",
				Help:      "Errors captured",
			},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEnqueued counts an accepted event.
func (m *Metrics) RecordEnqueued(kind string) {
	m.EventsEnqueued.WithLabelValues(kind).Inc()
}

// RecordDropped counts n discarded events.
func (m *Metrics) RecordDropped(reason string, n int) {
	if n > 0 {
		m.EventsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordRequest records one intake request of n events.
func (m *Metrics) RecordRequest(status string, n int, duration time.Duration) {
	m.Requests.WithLabelValues(status).Inc()
	m.FlushDuration.Observe(duration.Seconds())
	m.BatchSize.Observe(float64(n))
	if status == "success" {
		m.EventsSent.Add(float64(n))
	}
}

// SetQueueLength updates the queue gauge.
func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}

// RecordConfigPoll counts a central config poll result.
func (m *Metrics) RecordConfigPoll(result string) {
	m.ConfigPolls.WithLabelValues(result).Inc()
}
