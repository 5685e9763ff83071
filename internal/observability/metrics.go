package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Ingestions       *prometheus.CounterVec
	IngestFallbacks  *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	GapSuggestions   *prometheus.CounterVec
	Queries          *prometheus.CounterVec
	RecordsPruned    prometheus.Counter
	IngestDuration   prometheus.Histogram

	stages *stageWindow
}

// NewMetrics registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ingestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Completed ingestions by outcome.",
		}, []string{"outcome"}),
		IngestFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_fallbacks_total",
			Help:      "Degraded enrichment steps by kind.",
		}, []string{"kind"}),
		CallbackFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Notify/automate callback failures.",
		}, []string{"callback"}),
		GapSuggestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_suggestions_total",
			Help:      "Follow-up suggestions emitted by action.",
		}, []string{"action"}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Vault queries by ranking mode.",
		}, []string{"mode"}),
		RecordsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pruned_total",
			Help:      "Records deleted by retention pruning.",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "End-to-end ingestion latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) IncIngestion(outcome string) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFallback(kind string) {
	if m == nil {
		return
	}
	m.IngestFallbacks.WithLabelValues(kind).Inc()
	m.stages.ObserveIndicator(kind + "_fallback")
}

func (m *Metrics) IncCallbackFailure(callback string) {
	if m == nil {
		return
	}
	m.CallbackFailures.WithLabelValues(callback).Inc()
	m.stages.ObserveIndicator(callback + "_failed")
}

func (m *Metrics) IncGapSuggestion(action string) {
	if m == nil {
		return
	}
	m.GapSuggestions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncQuery(mode string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(mode).Inc()
}

func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsPruned.Add(float64(n))
}

func (m *Metrics) ObserveIngestDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(d.Seconds())
	m.stages.Observe("ingest_total", float64(d.Microseconds())/1000)
}

// ObserveIngestStage records one pipeline stage latency in the rolling window.
func (m *Metrics) ObserveIngestStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) IngestStageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// MetricsHandler serves the instruments registered on gatherer.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
