// Package metrics exposes Prometheus collectors for adapter operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts adapter operations (findAll, tx, insert,
	// update, clean, groupBy, sync) by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgdoc_operations_total",
			Help: "Total number of adapter operations",
		},
		[]string{"operation", "status"},
	)
	// OperationDuration is the latency of adapter operations.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgdoc_operation_duration_seconds",
			Help:    "Adapter operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	// TxRetriesTotal counts transaction retries after retryable
	// conflicts.
	TxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgdoc_tx_retries_total",
			Help: "Total number of transaction retries",
		},
	)
	// SyncFlushesTotal counts batched hash write-backs issued by the
	// sync iterator.
	SyncFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgdoc_sync_flushes_total",
			Help: "Total number of batched hash flushes",
		},
	)
	// SyncDocsHashed counts documents hashed during sync traversals.
	SyncDocsHashed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgdoc_sync_docs_hashed_total",
			Help: "Total number of documents hashed by sync traversals",
		},
	)
)
