// Package itemprocessor implements C6: the state machine that turns one
// Candidate into a Accepted or Discarded ProcessedItem by running both
// marketplace extractors, the liquidity gate, and the fee model.
package itemprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stoskr/skinarb/internal/feemodel"
	"github.com/stoskr/skinarb/internal/marketextractor"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

// URLSelectors names the href-pattern selectors used to resolve a
// candidate's platform URLs from its index page when C4 did not already
// fill them in.
type URLSelectors struct {
	CheapLinkSelector string
	SteamLinkSelector string
}

// DefaultURLSelectors mirror the index table's own platform-link selectors.
var DefaultURLSelectors = URLSelectors{
	CheapLinkSelector: `a[href*="buff.163.com"]`,
	SteamLinkSelector: `a[href*="steamcommunity.com/market/listings"]`,
}

// Processor runs the C6 state machine for one worker. A Processor is bound
// to one (cheap, steam) Extractor pair; it holds no per-candidate state and
// is safe to reuse across every candidate a worker processes.
type Processor struct {
	Cheap        *marketextractor.Extractor
	Steam        *marketextractor.Extractor
	VolumeFloor  int
	URLSelectors URLSelectors
	NavTimeout   time.Duration
	Debug        DebugConfig
	Log          *logger.Logger
}

// New builds a Processor. volumeFloor is V₀ (default 20), applied
// identically to both marketplaces.
func New(cheap, steam *marketextractor.Extractor, volumeFloor int, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Processor{
		Cheap:        cheap,
		Steam:        steam,
		VolumeFloor:  volumeFloor,
		URLSelectors: DefaultURLSelectors,
		NavTimeout:   15 * time.Second,
		Log:          log,
	}
}

// Process runs the full C6 state machine for one candidate. cheapPage and
// steamPage are the two worker-owned pages C7 pre-created for this worker
// slot; Process never opens or closes a page itself.
func (p *Processor) Process(ctx context.Context, cheapPage, steamPage pagedriver.Page, c model.Candidate) model.ProcessedItem {
	if err := p.ensureURLs(ctx, cheapPage, &c); err != nil {
		p.Log.Warn("item_url_resolution_failed", "item", c.ItemName, "error", err)
		p.captureFailure(ctx, cheapPage, c, "url_resolution")
		return discard(c, model.ReasonBuffValidationFailed, "")
	}

	cheapSnap, steamSnap := p.extractBoth(ctx, cheapPage, steamPage, c)

	if !cheapSnap.Valid() {
		p.Log.Info("item_discarded_buff_validation", "item", c.ItemName)
		p.captureFailure(ctx, cheapPage, c, "buff_validation")
		return discard(c, model.ReasonBuffValidationFailed, "")
	}
	if !steamSnap.Valid() {
		p.Log.Warn("item_discarded_steam_extraction", "item", c.ItemName)
		p.captureFailure(ctx, steamPage, c, "steam_extraction")
		return discard(c, model.ReasonSteamExtractionFailed, "")
	}
	if cheapSnap.TotalVolume < p.VolumeFloor {
		detail := fmt.Sprintf("%d/%d", cheapSnap.TotalVolume, p.VolumeFloor)
		p.Log.Info("item_discarded_low_cheap_volume", "item", c.ItemName, "detail", detail)
		return discard(c, model.ReasonLowCheapVolume, detail)
	}
	if steamSnap.TotalVolume < p.VolumeFloor {
		detail := fmt.Sprintf("%d/%d", steamSnap.TotalVolume, p.VolumeFloor)
		p.Log.Info("item_discarded_low_steam_volume", "item", c.ItemName, "detail", detail)
		return discard(c, model.ReasonLowSteamVolume, detail)
	}

	buyEUR := feemodel.ConvertCNYToEUR(cheapSnap.AvgPriceNative, p.cnyRate())
	sellEUR := steamSnap.AvgPriceNative // already EUR: MarketExtractor converts steam-side CNY at parse time.

	if cheapSnap.AvgPriceNative <= 0 || sellEUR <= 0 {
		p.Log.Warn("item_discarded_profit_calc_failed", "item", c.ItemName)
		p.captureFailure(ctx, cheapPage, c, "profit_calc")
		return discard(c, model.ReasonProfitCalcFailed, "")
	}

	analysis := feemodel.Analyze(buyEUR, sellEUR)

	p.Log.Info("item_processed_successfully", "item", c.ItemName,
		"roi_percent", analysis.ROIPercent, "profit_eur", analysis.ProfitEUR)

	return model.ProcessedItem{
		Outcome:       model.Accepted,
		Candidate:     c,
		CheapSnapshot: cheapSnap,
		SteamSnapshot: steamSnap,
		Analysis:      analysis,
		ScrapedAt:     time.Now().UTC(),
	}
}

func (p *Processor) cnyRate() float64 {
	if p.Cheap != nil && p.Cheap.CNYPerEUR != 0 {
		return p.Cheap.CNYPerEUR
	}
	return feemodel.DefaultCNYPerEUR
}

// ensureURLs fills in c's platform URLs by navigating cheapPage to the
// candidate's index URL and reading both outbound links, when either is
// still empty after C4's table read. A no-op when both URLs are
// already known.
func (p *Processor) ensureURLs(ctx context.Context, page pagedriver.Page, c *model.Candidate) error {
	if c.CheapMarketURL != "" && c.SteamMarketURL != "" {
		return nil
	}
	if c.IndexURL == "" {
		return fmt.Errorf("itemprocessor: candidate %q has no index URL to resolve from", c.ItemName)
	}

	if _, err := page.Goto(ctx, c.IndexURL, pagedriver.NetworkIdle, p.NavTimeout); err != nil {
		return fmt.Errorf("itemprocessor: navigate to index url: %w", err)
	}
	page.Sleep(ctx, 5*time.Second)

	if c.CheapMarketURL == "" {
		if href, ok, err := page.Attr(ctx, p.URLSelectors.CheapLinkSelector, "href"); err == nil && ok {
			c.CheapMarketURL = href
		} else {
			p.Log.Warn("cheap_url_not_found", "item", c.ItemName)
		}
	}
	if c.SteamMarketURL == "" {
		if href, ok, err := page.Attr(ctx, p.URLSelectors.SteamLinkSelector, "href"); err == nil && ok {
			c.SteamMarketURL = href
		} else {
			p.Log.Warn("steam_url_not_found", "item", c.ItemName)
		}
	}

	if c.CheapMarketURL == "" || c.SteamMarketURL == "" {
		return fmt.Errorf("itemprocessor: could not resolve both platform urls for %q", c.ItemName)
	}
	return nil
}

// extractBoth runs the cheap and steam extractions concurrently on their
// own pages. Neither call's context is tied to the other's outcome: if one
// returns nil, the other is left to finish naturally rather than being
// cancelled mid-navigation, which could leave a browser tab half-loaded.
func (p *Processor) extractBoth(ctx context.Context, cheapPage, steamPage pagedriver.Page, c model.Candidate) (cheapSnap, steamSnap *model.MarketSnapshot) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		cheapSnap = p.Cheap.Extract(ctx, cheapPage, c.CheapMarketURL)
	}()
	go func() {
		defer wg.Done()
		steamSnap = p.Steam.Extract(ctx, steamPage, c.SteamMarketURL)
	}()

	wg.Wait()
	return cheapSnap, steamSnap
}

func discard(c model.Candidate, reason model.DiscardReason, detail string) model.ProcessedItem {
	return model.ProcessedItem{
		Outcome:   model.Discarded,
		Candidate: c,
		Reason:    reason,
		Detail:    detail,
	}
}
