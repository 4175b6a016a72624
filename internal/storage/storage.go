// Package storage implements C8: the in-process batching sink that drains
// the pipeline's results channel, keeping only Accepted items, and flushes
// them to a remote Backend in fixed-size batches.
package storage

import (
	"context"

	"github.com/stoskr/skinarb/internal/metrics"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/pkg/logger"
)

// defaultBatchSize is the flush threshold used when the caller passes a
// non-positive batch size.
const defaultBatchSize = 10

// Backend is the capability Sink needs from internal/store.
type Backend interface {
	SaveBatch(ctx context.Context, records []model.StorageRecord) error
}

// Sink is one storage worker. A Pipeline may run several Sinks concurrently
// over the same results channel (C7's M storage workers); each Sink
// instance only needs its own batch buffer since Go delivers each channel
// value to exactly one of the listening goroutines.
type Sink struct {
	Backend   Backend
	BatchSize int
	Source    string // stamped onto every StorageRecord's "source" field
	Log       *logger.Logger
}

// New builds a Sink, defaulting BatchSize to 10 and Source to "scraper".
func New(backend Backend, batchSize int, source string, log *logger.Logger) *Sink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if source == "" {
		source = "scraper"
	}
	if log == nil {
		log = logger.NewNoop()
	}
	return &Sink{Backend: backend, BatchSize: batchSize, Source: source, Log: log}
}

// Run drains results until the channel is closed, batching Accepted items
// and flushing on every full batch plus once more at end-of-stream for any
// partial remainder. A failed flush is logged and dropped: a storage
// failure costs that batch, not the run.
func (s *Sink) Run(ctx context.Context, results <-chan model.ProcessedItem) {
	batch := make([]model.StorageRecord, 0, s.BatchSize)

	for item := range results {
		if item.Outcome != model.Accepted {
			continue
		}
		batch = append(batch, item.ToStorageRecord(s.Source))
		if len(batch) >= s.BatchSize {
			s.flush(ctx, batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		s.flush(ctx, batch)
	}
}

func (s *Sink) flush(ctx context.Context, batch []model.StorageRecord) {
	records := make([]model.StorageRecord, len(batch))
	copy(records, batch)

	if err := s.Backend.SaveBatch(ctx, records); err != nil {
		s.Log.Error("storage_batch_failed", "size", len(records), "error", err)
		metrics.StorageBatchFailuresTotal.Inc()
		return
	}
	s.Log.Info("storage_batch_flushed", "size", len(records))
	metrics.StorageBatchesTotal.Inc()
}
