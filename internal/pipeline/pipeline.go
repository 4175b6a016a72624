// Package pipeline implements C7: the producer/N-worker/M-storage-worker
// pipeline that turns a ranked candidate table into a sequence of
// ProcessedItems, built on a channel-based worker pool generalized from a
// single item-queue/results pair to a full startup/shutdown contract.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/stoskr/skinarb/internal/itemprocessor"
	"github.com/stoskr/skinarb/internal/metrics"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Config holds the pipeline's tunables (the scraper.* config keys).
type Config struct {
	Workers           int // N, enforced 1..5 by internal/config.Validate
	StorageWorkers    int // M; 0 runs Storage once, synchronously, after every worker has exited
	CandidateLimit    int // 0 = no limit
	DelayBetweenItems time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
	WorkerStagger     time.Duration // default 5s, staggers worker startup
}

// IndexExtractor is the capability pipeline needs from C4.
type IndexExtractor interface {
	Extract(ctx context.Context, page pagedriver.Page, limit int) []model.Candidate
}

// FilterConfigurator is the capability pipeline needs from C10.
type FilterConfigurator interface {
	Configure(ctx context.Context, page pagedriver.Page) error
}

// StorageWorker is the capability pipeline needs from C8: drain results
// until the channel is closed, batching and flushing internally.
type StorageWorker interface {
	Run(ctx context.Context, results <-chan model.ProcessedItem)
}

// Summary is what Run returns: every processed item plus the terminal
// counts a CLI run reports ("exit 0 with the count of accepted/discarded
// printed").
type Summary struct {
	Items     []model.ProcessedItem
	Accepted  int
	Discarded int
}

// Pipeline wires C4, C6 (via a Processor factory bound to page pairs),
// C7's own channels, and optionally C8 together for one run.
type Pipeline struct {
	Driver             pagedriver.Driver
	FilterConfigurator FilterConfigurator
	IndexExtractor     IndexExtractor
	Processor          *itemprocessor.Processor
	Storage            StorageWorker // nil disables storage entirely
	Config             Config
	Log                *logger.Logger
}

// New builds a Pipeline, defaulting WorkerStagger to 5s when unset.
func New(driver pagedriver.Driver, fc FilterConfigurator, idx IndexExtractor, proc *itemprocessor.Processor, storage StorageWorker, cfg Config, log *logger.Logger) *Pipeline {
	if cfg.WorkerStagger == 0 {
		cfg.WorkerStagger = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNoop()
	}
	return &Pipeline{
		Driver:             driver,
		FilterConfigurator: fc,
		IndexExtractor:     idx,
		Processor:          proc,
		Storage:            storage,
		Config:             cfg,
		Log:                log,
	}
}

type pagePair struct {
	cheap pagedriver.Page
	steam pagedriver.Page
}

// Run executes the full startup → steady-state → shutdown sequence and
// returns once every worker and storage goroutine has exited.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	log := p.Log.With("run_id", runID)

	primaryPage, err := p.Driver.Open(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("pipeline: driver unavailable: %w", err)
	}

	if err := p.FilterConfigurator.Configure(ctx, primaryPage); err != nil {
		log.Warn("filter_configuration_incomplete", "error", err)
	}

	pairs, err := p.createWorkerPages(ctx)
	if err != nil {
		primaryPage.Close(ctx)
		p.Driver.Close(ctx)
		return Summary{}, fmt.Errorf("pipeline: creating worker pages: %w", err)
	}

	candidates := make(chan model.Candidate, p.Config.Workers*2)
	var results chan model.ProcessedItem
	var storageWG sync.WaitGroup
	if p.Storage != nil && p.Config.StorageWorkers > 0 {
		results = make(chan model.ProcessedItem, 1024)
		for i := 0; i < p.Config.StorageWorkers; i++ {
			storageWG.Add(1)
			go func() {
				defer storageWG.Done()
				p.Storage.Run(ctx, results)
			}()
		}
	}

	go p.runProducer(ctx, log, primaryPage, candidates, runID)

	var mu sync.Mutex
	var items []model.ProcessedItem
	var accepted, discarded int64

	var workerWG sync.WaitGroup
	pacer := newPacer(p.Config.DelayBetweenItems, p.Config.JitterMin, p.Config.JitterMax)
	for i, pair := range pairs {
		workerWG.Add(1)
		go func(workerIndex int, pair pagePair) {
			defer workerWG.Done()
			p.runWorker(ctx, log.With("worker_id", workerIndex), pair, candidates, results, pacer, &mu, &items, &accepted, &discarded, runID)
		}(i, pair)
	}

	workerWG.Wait()
	if results != nil {
		close(results) // invariant: only after every scraper worker has exited.
	}
	storageWG.Wait()

	if p.Storage != nil && p.Config.StorageWorkers == 0 {
		// Terminal save: one synchronous storage pass over every item.
		terminal := make(chan model.ProcessedItem, len(items))
		for _, item := range items {
			terminal <- item
		}
		close(terminal)
		p.Storage.Run(ctx, terminal)
	}

	p.closePages(ctx, pairs, primaryPage)
	if err := p.Driver.Close(ctx); err != nil {
		log.Warn("driver_close_failed", "error", err)
	}

	return Summary{Items: items, Accepted: int(accepted), Discarded: int(discarded)}, nil
}

func (p *Pipeline) createWorkerPages(ctx context.Context) ([]pagePair, error) {
	pairs := make([]pagePair, 0, p.Config.Workers)
	for i := 0; i < p.Config.Workers; i++ {
		if i > 0 {
			sleepCtx(ctx, p.Config.WorkerStagger)
		}
		cheapPage, err := p.Driver.Open(ctx)
		if err != nil {
			return pairs, fmt.Errorf("opening cheap-market page for worker %d: %w", i, err)
		}
		steamPage, err := p.Driver.Open(ctx)
		if err != nil {
			return pairs, fmt.Errorf("opening steam-market page for worker %d: %w", i, err)
		}
		pairs = append(pairs, pagePair{cheap: cheapPage, steam: steamPage})
	}
	return pairs, nil
}

func (p *Pipeline) runProducer(ctx context.Context, log *logger.Logger, primaryPage pagedriver.Page, candidates chan<- model.Candidate, runID string) {
	defer close(candidates)
	defer metrics.CandidatesQueueDepth.WithLabelValues(runID).Set(0)

	found := p.IndexExtractor.Extract(ctx, primaryPage, p.Config.CandidateLimit)
	log.Info("candidates_enumerated", "count", len(found))

	for _, c := range found {
		select {
		case candidates <- c:
			metrics.CandidatesQueueDepth.WithLabelValues(runID).Set(float64(len(candidates)))
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) runWorker(
	ctx context.Context,
	log *logger.Logger,
	pair pagePair,
	candidates <-chan model.Candidate,
	results chan<- model.ProcessedItem,
	pacer *pacer,
	mu *sync.Mutex,
	items *[]model.ProcessedItem,
	accepted, discarded *int64,
	runID string,
) {
	for c := range candidates {
		metrics.CandidatesQueueDepth.WithLabelValues(runID).Set(float64(len(candidates)))
		item := p.processOne(ctx, log, pair, c)

		if item.Outcome == model.Accepted {
			atomic.AddInt64(accepted, 1)
			metrics.ItemsAcceptedTotal.Inc()
		} else {
			atomic.AddInt64(discarded, 1)
			metrics.ItemsDiscardedTotal.WithLabelValues(string(item.Reason)).Inc()
		}

		mu.Lock()
		*items = append(*items, item)
		mu.Unlock()

		if results != nil {
			select {
			case results <- item:
			case <-ctx.Done():
				return
			}
		}

		pacer.wait(ctx, pair.cheap)
	}
}

// processOne runs one candidate through C6 with a per-item recover, so an
// unexpected panic costs one item instead of killing the whole worker.
func (p *Pipeline) processOne(ctx context.Context, log *logger.Logger, pair pagePair, c model.Candidate) (item model.ProcessedItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fatal_worker_panic", "item", c.ItemName, "recovered", r)
			item = model.ProcessedItem{
				Outcome:   model.Discarded,
				Candidate: c,
				Reason:    model.ReasonProfitCalcFailed,
				Detail:    "worker panic",
			}
		}
	}()

	start := time.Now()
	item = p.Processor.Process(ctx, pair.cheap, pair.steam, c)
	metrics.ItemProcessingDuration.Observe(time.Since(start).Seconds())
	return item
}

func (p *Pipeline) closePages(ctx context.Context, pairs []pagePair, primaryPage pagedriver.Page) {
	// Reverse creation order: workers' pages were created after the
	// primary page and after earlier workers', so close last-created first.
	for i := len(pairs) - 1; i >= 0; i-- {
		pairs[i].steam.Close(ctx)
		pairs[i].cheap.Close(ctx)
	}
	primaryPage.Close(ctx)
}

// pacer implements per-item pacing: a fixed delay plus uniform jitter,
// layered on top of a shared token-bucket (the
// teacher's ESIRateLimiter pattern reused here as an anti-ban smoothing
// safeguard across all N workers combined) rather than relying on the
// per-worker sleep alone to prevent synchronized bursts.
type pacer struct {
	limiter    *rate.Limiter
	fixedDelay time.Duration
	jitterMin  time.Duration
	jitterMax  time.Duration
}

func newPacer(fixedDelay, jitterMin, jitterMax time.Duration) *pacer {
	rps := rate.Inf
	if fixedDelay > 0 {
		rps = rate.Limit(float64(time.Second) / float64(fixedDelay))
	}
	return &pacer{
		limiter:    rate.NewLimiter(rps, 1),
		fixedDelay: fixedDelay,
		jitterMin:  jitterMin,
		jitterMax:  jitterMax,
	}
}

func (pc *pacer) wait(ctx context.Context, page pagedriver.Page) {
	_ = pc.limiter.Wait(ctx)
	page.Sleep(ctx, pc.fixedDelay+jitter(pc.jitterMin, pc.jitterMax))
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
