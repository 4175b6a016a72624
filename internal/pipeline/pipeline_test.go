package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoskr/skinarb/internal/itemprocessor"
	"github.com/stoskr/skinarb/internal/marketextractor"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/internal/pagedriver/fake"
)

// fakeFilterConfigurator is a no-op C10 stand-in.
type fakeFilterConfigurator struct{ err error }

func (f fakeFilterConfigurator) Configure(ctx context.Context, page pagedriver.Page) error {
	return f.err
}

// fixedIndexExtractor is a scripted C4 stand-in returning a fixed, ordered
// candidate list regardless of what's on the page.
type fixedIndexExtractor struct{ candidates []model.Candidate }

func (f fixedIndexExtractor) Extract(ctx context.Context, page pagedriver.Page, limit int) []model.Candidate {
	if limit > 0 && limit < len(f.candidates) {
		return f.candidates[:limit]
	}
	return f.candidates
}

// collectingStorage records every item it sees, for assertions, in addition
// to acting as C8's consumer.
type collectingStorage struct {
	seen chan<- model.ProcessedItem
}

func (s collectingStorage) Run(ctx context.Context, results <-chan model.ProcessedItem) {
	for item := range results {
		if s.seen != nil {
			s.seen <- item
		}
	}
}

func namedCandidate(name string) model.Candidate {
	return model.Candidate{
		ItemName:       name,
		IndexURL:       "https://steamdt.com/csgo/" + name,
		CheapMarketURL: "https://buff.163.com/goods/" + name,
		SteamMarketURL: "https://steamcommunity.com/market/listings/730/" + name,
	}
}

// acceptingProcessor builds a real itemprocessor.Processor backed by fake
// pages that always yield an Accepted outcome, regardless of which
// candidate it's asked to process — the pipeline's own concerns (ordering,
// shutdown, counts) are what these tests exercise, not C6's branch logic
// (already covered by internal/itemprocessor's own tests).
func acceptingOpenFunc() func(ctx context.Context) (pagedriver.Page, error) {
	return func(ctx context.Context) (pagedriver.Page, error) {
		p := fake.NewPage()
		p.All["tr.selling"] = make([]string, 120)
		p.All["tr.selling strong.f_Strong"] = repeatStr("¥ 82", 25)
		p.All["table tbody tr strong.f_Strong"] = repeatStr("¥ 81", 5)
		p.All["#searchResultsRows .market_listing_row"] = make([]string, 120)
		p.All["#searchResultsRows .market_listing_row .market_listing_price"] = repeatStr("€12.50", 25)
		p.Text["#searchResults_total"] = "200"
		return p, nil
	}
}

func repeatStr(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func newTestPipeline(t *testing.T, candidates []model.Candidate, storage StorageWorker, storageWorkers int) *Pipeline {
	t.Helper()
	driver := &fake.Driver{OpenFunc: acceptingOpenFunc()}
	cheap := marketextractor.New(model.MarketCheap, marketextractor.CheapSelectors, 0, nil)
	steam := marketextractor.New(model.MarketSteam, marketextractor.SteamSelectors, 0, nil)
	proc := itemprocessor.New(cheap, steam, 20, nil)

	return New(driver, fakeFilterConfigurator{}, fixedIndexExtractor{candidates: candidates}, proc, storage, Config{
		Workers:        3,
		StorageWorkers: storageWorkers,
		WorkerStagger:  0,
	}, nil)
}

func TestRun_PreservesNoOrderingGuaranteeButProcessesEveryCandidateExactlyOnce(t *testing.T) {
	// With N>1 workers, the candidate table's order is not necessarily
	// preserved in the output, but every candidate is processed exactly
	// once and every outcome is accounted for.
	var candidates []model.Candidate
	for i := 0; i < 12; i++ {
		candidates = append(candidates, namedCandidate(string(rune('A'+i))))
	}
	p := newTestPipeline(t, candidates, nil, 0)

	summary, err := p.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, summary.Accepted)
	assert.Equal(t, 0, summary.Discarded)
	assert.Len(t, summary.Items, 12)

	seen := map[string]bool{}
	for _, item := range summary.Items {
		seen[item.Candidate.ItemName] = true
	}
	assert.Len(t, seen, 12, "every candidate must appear exactly once")
}

func TestRun_ShutsDownWithinBoundedTime(t *testing.T) {
	// The pipeline returns promptly once the candidate stream is exhausted
	// and every worker has drained — no goroutine leak keeps Run blocked
	// past worker completion.
	var candidates []model.Candidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates, namedCandidate(string(rune('A'+i))))
	}
	p := newTestPipeline(t, candidates, nil, 0)

	done := make(chan struct{})
	go func() {
		_, _ = p.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "pipeline.Run did not return within the bounded window")
}

func TestRun_StorageOnlyObservesEndOfStreamAfterAllWorkersExit(t *testing.T) {
	// Storage workers must not see the results channel close before every
	// scraper worker has exited.
	var candidates []model.Candidate
	for i := 0; i < 9; i++ {
		candidates = append(candidates, namedCandidate(string(rune('A'+i))))
	}

	seen := make(chan model.ProcessedItem, 32)
	storage := collectingStorage{seen: seen}
	p := newTestPipeline(t, candidates, storage, 2)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Accepted)

	close(seen)
	count := 0
	for range seen {
		count++
	}
	assert.Equal(t, 9, count, "storage must observe every item before the run returns")
}

func TestRun_NavigationAbortRetriesThenSucceeds(t *testing.T) {
	// A single aborted Goto is retried once and the item still completes
	// successfully.
	driver := &fake.Driver{
		OpenFunc: func(ctx context.Context) (pagedriver.Page, error) {
			p := fake.NewPage()
			p.All["tr.selling"] = make([]string, 120)
			p.All["tr.selling strong.f_Strong"] = repeatStr("¥ 82", 25)
			p.All["table tbody tr strong.f_Strong"] = repeatStr("¥ 81", 5)
			p.All["#searchResultsRows .market_listing_row"] = make([]string, 120)
			p.All["#searchResultsRows .market_listing_row .market_listing_price"] = repeatStr("€12.50", 25)
			p.Text["#searchResults_total"] = "200"
			p.WithGotoScript(fake.GotoScript{pagedriver.Aborted, pagedriver.OK, pagedriver.OK})
			return p, nil
		},
	}
	cheap := marketextractor.New(model.MarketCheap, marketextractor.CheapSelectors, 0, nil)
	steam := marketextractor.New(model.MarketSteam, marketextractor.SteamSelectors, 0, nil)
	proc := itemprocessor.New(cheap, steam, 20, nil)

	p := New(driver, fakeFilterConfigurator{}, fixedIndexExtractor{candidates: []model.Candidate{namedCandidate("X")}}, proc, nil, Config{
		Workers:       1,
		WorkerStagger: 0,
	}, nil)

	summary, err := p.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, model.Accepted, summary.Items[0].Outcome)
}
