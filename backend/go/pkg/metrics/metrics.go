// Package metrics provides Prometheus metrics for the RAG service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the RAG service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Embedding metrics
	EmbeddingBatchesTotal *prometheus.CounterVec
	EmbeddingItemsTotal   *prometheus.CounterVec
	BackendCallDuration   *prometheus.HistogramVec

	// Quota metrics
	CircuitState     *prometheus.GaugeVec
	CredentialStates *prometheus.GaugeVec

	// Retrieval metrics
	SearchRequestsTotal *prometheus.CounterVec
	RetrievalDuration   prometheus.Histogram
	AnswersTotal        *prometheus.CounterVec

	// Ingestion metrics
	IngestJobsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.EmbeddingBatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_embedding_batches_total",
			Help: "Embedding batches dispatched, by outcome",
		},
		[]string{"outcome"},
	)

	m.EmbeddingItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_embedding_items_total",
			Help: "Texts that reached a terminal embedding state, by outcome",
		},
		[]string{"outcome"},
	)

	m.BackendCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_embedding_backend_call_duration_seconds",
			Help:    "Duration of embedding backend calls in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "outcome"},
	)

	m.CircuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_quota_circuit_state",
			Help: "Quota circuit state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"circuit"},
	)

	m.CredentialStates = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_quota_credentials",
			Help: "Number of credentials per health state",
		},
		[]string{"state"},
	)

	m.SearchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_search_requests_total",
			Help: "Search strategy executions, by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	m.RetrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_retrieval_duration_seconds",
			Help:    "End-to-end retrieval orchestration duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.AnswersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_answers_total",
			Help: "Answers produced, by status",
		},
		[]string{"status"},
	)

	m.IngestJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_ingest_jobs_total",
			Help: "Document ingestion jobs, by terminal status",
		},
		[]string{"status"},
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBatch records one dispatched embedding batch.
func (m *Metrics) RecordBatch(outcome string) {
	if m == nil {
		return
	}
	m.EmbeddingBatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordItems records n texts reaching the given terminal outcome.
func (m *Metrics) RecordItems(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EmbeddingItemsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordBackendCall records an embedding backend call.
func (m *Metrics) RecordBackendCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendCallDuration.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

// SetCircuitState publishes the numeric circuit state.
func (m *Metrics) SetCircuitState(circuit string, state int) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(circuit).Set(float64(state))
}

// SetCredentialStates publishes credential counts per state.
func (m *Metrics) SetCredentialStates(counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.CredentialStates.WithLabelValues(state).Set(float64(n))
	}
}

// RecordSearch records one strategy execution.
func (m *Metrics) RecordSearch(strategy, outcome string) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveRetrieval records the duration of one orchestrated retrieval.
func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Observe(d.Seconds())
}

// RecordAnswer records the status of one answer.
func (m *Metrics) RecordAnswer(status string) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(status).Inc()
}

// RecordIngestJob records a finished ingestion job.
func (m *Metrics) RecordIngestJob(status string) {
	if m == nil {
		return
	}
	m.IngestJobsTotal.WithLabelValues(status).Inc()
}
