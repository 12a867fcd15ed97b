package docstate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus bundle recorded by the engine. All metrics are
// namespaced "docstate":
//
//   - transitions_total{from,to,outcome}: transition attempts by outcome
//     (success, error, no_successor)
//   - transition_duration_seconds{from,to}: duration of transition attempts
//   - documents_created_total{state}: documents persisted by the engine
//   - error_documents_total{from}: synthesized error documents by the state
//     the failing transition left
//   - batches_total: scheduler batches run
//   - batch_size: documents per scheduler batch
//   - inflight_executors: executors currently inside a transition
//
// A nil *Metrics is valid and disables recording, so the engine never has to
// check whether metrics are configured.
type Metrics struct {
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	documentsCreated   *prometheus.CounterVec
	errorDocuments     *prometheus.CounterVec
	batches            prometheus.Counter
	batchSize          prometheus.Histogram
	inflightExecutors  prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics with the given
// registry (the default registerer when nil).
//
//	registry := prometheus.NewRegistry()
//	metrics := docstate.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstate",
			Name:      "transitions_total",
			Help:      "Transition attempts by source state, target state, and outcome",
		}, []string{"from", "to", "outcome"}),

		transitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docstate",
			Name:      "transition_duration_seconds",
			Help:      "Duration of transition attempts, including processor and persistence time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"from", "to"}),

		documentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstate",
			Name:      "documents_created_total",
			Help:      "Documents persisted by the engine, by state",
		}, []string{"state"}),

		errorDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstate",
			Name:      "error_documents_total",
			Help:      "Error documents synthesized for failed transitions, by source state",
		}, []string{"from"}),

		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docstate",
			Name:      "batches_total",
			Help:      "Scheduler batches run",
		}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docstate",
			Name:      "batch_size",
			Help:      "Documents per scheduler batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		inflightExecutors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docstate",
			Name:      "inflight_executors",
			Help:      "Transition executors currently running",
		}),
	}
}

// ObserveTransition records one transition attempt.
func (m *Metrics) ObserveTransition(from, to, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
	m.transitionDuration.WithLabelValues(from, to).Observe(d.Seconds())
}

// AddDocumentsCreated counts documents persisted into the given state.
func (m *Metrics) AddDocumentsCreated(state string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.documentsCreated.WithLabelValues(state).Add(float64(n))
}

// IncErrorDocuments counts one synthesized error document.
func (m *Metrics) IncErrorDocuments(from string) {
	if m == nil {
		return
	}
	m.errorDocuments.WithLabelValues(from).Inc()
}

// ObserveBatch records one scheduler batch and its size.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchSize.Observe(float64(size))
}

// IncInflight marks one executor entering its transition.
func (m *Metrics) IncInflight() {
	if m == nil {
		return
	}
	m.inflightExecutors.Inc()
}

// DecInflight marks one executor leaving its transition.
func (m *Metrics) DecInflight() {
	if m == nil {
		return
	}
	m.inflightExecutors.Dec()
}
