// Package metrics - Prometheus metrics for the scraping pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemProcessingDuration tracks how long one candidate takes through C6.
	ItemProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "item_processing_duration_seconds",
		Help:    "Duration of one ItemProcessor.Process call",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to 51.2s
	})

	// CandidatesQueueDepth tracks the candidates channel's current length,
	// the worker-pool-queue-depth pattern reused for the producer/worker
	// bounded channel instead of an ESI request queue.
	CandidatesQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_candidates_queue_depth",
		Help: "Current number of buffered candidates awaiting a scraper worker",
	}, []string{"run_id"})

	// ItemsAcceptedTotal counts accepted items; ItemsDiscardedTotal counts
	// discarded items by discard reason. The accepted counter has no labels.
	ItemsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_items_accepted_total",
		Help: "Total candidates that reached Accepted",
	})

	ItemsDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_discarded_total",
		Help: "Total candidates that reached Discarded, by reason",
	}, []string{"reason"})

	// NavigationRetriesTotal counts the single-retry-on-abort path firing,
	// by market.
	NavigationRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_navigation_retries_total",
		Help: "Total navigation retries after an aborted Goto",
	}, []string{"market"})

	// StorageBatchesTotal / StorageBatchFailuresTotal track C8's flush
	// behavior: failures are logged and dropped, not fatal.
	StorageBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_storage_batches_total",
		Help: "Total storage batches flushed",
	})

	StorageBatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_storage_batch_failures_total",
		Help: "Total storage batches dropped after a backend failure",
	})
)
