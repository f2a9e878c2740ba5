// Package metrics provides Prometheus metrics for the complaint assistant
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcomes recorded by the ingestion pipeline.
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	IngestedChunksTotal prometheus.Counter
	IngestBatchesTotal  *prometheus.CounterVec

	RetrievalDuration     prometheus.Histogram
	RetrievalResultsTotal prometheus.Counter

	GenerationDuration      prometheus.Histogram
	GenerationFailuresTotal prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestedChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditrust_ingested_chunks_total",
			Help: "Total number of chunks embedded and written to the vector store",
		}),
		IngestBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creditrust_ingest_batches_total",
			Help: "Total number of ingestion batches by outcome",
		}, []string{"outcome"}),
		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "creditrust_retrieval_duration_seconds",
			Help:    "Duration of retrieval calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RetrievalResultsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditrust_retrieval_results_total",
			Help: "Total number of documents returned by retrieval",
		}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "creditrust_generation_duration_seconds",
			Help:    "Duration of generation model calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		GenerationFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "creditrust_generation_failures_total",
			Help: "Total number of failed generation model calls",
		}),
	}
}

// RecordBatch records one ingestion batch and the chunks it wrote.
func (m *Metrics) RecordBatch(outcome string, written int) {
	if m == nil {
		return
	}
	m.IngestBatchesTotal.WithLabelValues(outcome).Inc()
	if written > 0 {
		m.IngestedChunksTotal.Add(float64(written))
	}
}

// RecordRetrieval records a retrieval call.
func (m *Metrics) RecordRetrieval(duration time.Duration, results int) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Observe(duration.Seconds())
	m.RetrievalResultsTotal.Add(float64(results))
}

// RecordGeneration records a generation call.
func (m *Metrics) RecordGeneration(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(duration.Seconds())
	if err != nil {
		m.GenerationFailuresTotal.Inc()
	}
}
