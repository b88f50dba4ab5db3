// Package metrics holds the prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration records HTTP request latency in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// DocumentsIndexedTotal counts indexing attempts by result.
	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_documents_indexed_total",
			Help: "Document indexing attempts",
		},
		[]string{"result"},
	)

	// IndexingDuration records how long a document takes to split, embed and insert.
	IndexingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_indexing_duration_seconds",
			Help:    "Document indexing duration",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// DeleteEscalationsTotal counts how far the delete ladder had to climb.
	DeleteEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_vector_delete_escalations_total",
			Help: "Vector store delete ladder stages reached",
		},
		[]string{"stage"},
	)

	// RebuildsTotal counts full vector store rebuilds.
	RebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_vector_rebuilds_total",
			Help: "Vector store rebuilds",
		},
		[]string{"reason", "result"},
	)

	// OrphansDetectedTotal counts chunk records found without a doc_id.
	OrphansDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_orphans_detected_total",
			Help: "Orphan chunk records detected",
		},
	)

	// EvictionsTotal counts capacity evictions.
	EvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_evictions_total",
			Help: "Documents evicted over capacity",
		},
	)

	// StaleReapedTotal counts processing entries failed by the stale sweep.
	StaleReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_stale_reaped_total",
			Help: "Stale processing documents marked failed",
		},
	)

	// Documents is the number of index entries by status.
	Documents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_documents",
			Help: "Index entries by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DocumentsIndexedTotal,
		IndexingDuration,
		DeleteEscalationsTotal,
		RebuildsTotal,
		OrphansDetectedTotal,
		EvictionsTotal,
		StaleReapedTotal,
		Documents,
	)
}
