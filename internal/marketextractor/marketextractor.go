// Package marketextractor implements C5: pulling one marketplace's listings,
// trade history, and total-volume counter for a single candidate item.
//
// There are two concrete variants, Cheap and Steam, sharing one navigation
// and retry skeleton (grounded on the cheap-market extractor's production
// selectors and timeouts) but differing in total-volume computation, price
// parsing, and currency handling.
package marketextractor

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stoskr/skinarb/internal/feemodel"
	"github.com/stoskr/skinarb/internal/metrics"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/internal/validator"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Selectors bundles the one set of CSS selectors a variant needs. The cheap
// market and steam market each supply their own.
type Selectors struct {
	ListingRow         string // primary selector for one listing row
	ListingRowFallback string // generic fallback, tried on timeout
	ListingPrice       string // price element within a listing row
	TradeRow           string // trade-history row selector
	TradeRowFallback   string
	TradePrice         string
	PageLink           string // cheap-only: pagination link elements
	TotalCounter       string // steam-only: on-page total-listings element
}

// CheapSelectors are the BUFF163-style production selectors used by the
// cheap-market variant.
var CheapSelectors = Selectors{
	ListingRow:         "tr.selling",
	ListingRowFallback: "table tbody tr",
	ListingPrice:       "strong.f_Strong",
	TradeRow:           "table tbody tr",
	TradeRowFallback:   "table tbody tr",
	TradePrice:         "strong.f_Strong",
	PageLink:           "a.page-link",
}

// SteamSelectors are the Steam Community Market selectors used by the
// steam-market variant.
var SteamSelectors = Selectors{
	ListingRow:   "#searchResultsRows .market_listing_row",
	ListingPrice: ".market_listing_price",
	TotalCounter: "#searchResults_total",
}

const (
	maxListings = 25
	maxTrades   = 5

	navTimeout     = 15 * time.Second
	fallbackWait   = 10 * time.Second
	historyTimeout = 15 * time.Second
	settleDelay    = 2 * time.Second

	navRetrySleepMin = 8 * time.Second
	navRetrySleepMax = 15 * time.Second
	navRetryLoadWait = 30 * time.Second

	preNavJitterMin = 2 * time.Second
	preNavJitterMax = 5 * time.Second
)

var priceGlyphPattern = regexp.MustCompile(`[¥￥€$,\s]`)

// Extractor pulls one MarketSnapshot from one marketplace for one candidate
// URL. One Extractor instance is bound to one Market tag (cheap or steam)
// and one selector table; it is stateless otherwise and safe to reuse
// across candidates on the same Page.
type Extractor struct {
	Market    model.Market
	Selectors Selectors
	CNYPerEUR float64
	Log       *logger.Logger
}

// New builds an Extractor for market, defaulting CNYPerEUR to
// feemodel.DefaultCNYPerEUR when rate is zero.
func New(market model.Market, sel Selectors, rate float64, log *logger.Logger) *Extractor {
	if rate == 0 {
		rate = feemodel.DefaultCNYPerEUR
	}
	if log == nil {
		log = logger.NewNoop()
	}
	return &Extractor{Market: market, Selectors: sel, CNYPerEUR: rate, Log: log}
}

// Extract runs the full C5 sequence against page for marketURL, returning
// nil (not an error) on any recoverable extraction failure — the caller
// (C6 ItemProcessor) treats a nil snapshot as a discard signal, not a fatal
// error.
func (e *Extractor) Extract(ctx context.Context, page pagedriver.Page, marketURL string) *model.MarketSnapshot {
	sellingURL, historyURL := variantURLs(e.Market, marketURL)

	page.Sleep(ctx, jitter(preNavJitterMin, preNavJitterMax))

	if !e.navigateWithRetry(ctx, page, sellingURL) {
		e.Log.Warn("market_navigation_failed", "market", string(e.Market), "url", sellingURL)
		return nil
	}

	rowSel, ok := e.waitForRows(ctx, page)
	if !ok {
		e.Log.Warn("market_no_listing_rows", "market", string(e.Market), "url", sellingURL)
		return nil
	}

	totalVolume := e.computeTotalVolume(ctx, page, rowSel)

	listings := e.extractListings(ctx, page, rowSel)
	if len(listings) == 0 {
		return nil
	}

	var trades []model.TradeRecord
	if e.Selectors.TradeRow != "" {
		page.Sleep(ctx, jitter(preNavJitterMin, preNavJitterMax))
		if e.navigateWithRetry(ctx, page, historyURL) {
			trades = e.extractTrades(ctx, page)
		} else {
			e.Log.Warn("market_history_navigation_failed", "market", string(e.Market), "url", historyURL)
		}
	}

	// The cheap market is the only one whose reference extractor runs the
	// price-falling dump check before trusting its own numbers (the
	// original BUFF extractor's validate_price_difference); the steam side
	// never had an equivalent check.
	if e.Market == model.MarketCheap {
		if res := validator.PriceFalling(listings, trades); !res.Pass {
			e.Log.Warn("market_price_falling_detected", "market", string(e.Market))
			return nil
		}
	}

	avg, lowest := priceStats(listings, trades)

	return &model.MarketSnapshot{
		Platform:          e.Market,
		Listings:          listings,
		Trades:            trades,
		TotalVolume:       totalVolume,
		AvgPriceNative:    avg,
		LowestPriceNative: lowest,
	}
}

// variantURLs strips any existing fragment/query and reattaches the
// selling/history tab fragments, matching the cheap-market extractor's URL
// normalization (?from=market#tab=selling / #tab=history). The steam
// variant has no history tab distinct from its listings page, so
// historyURL equals sellingURL.
func variantURLs(market model.Market, rawURL string) (sellingURL, historyURL string) {
	base := rawURL
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	if market == model.MarketCheap {
		return base + "?from=market#tab=selling", base + "?from=market#tab=history"
	}
	return base, base
}

// navigateWithRetry runs the single retry policy: on an aborted navigation,
// sleep 8-15s, reset to about:blank, sleep 2s, then retry once with a
// longer Load-condition timeout. Returns false if both attempts fail.
func (e *Extractor) navigateWithRetry(ctx context.Context, page pagedriver.Page, url string) bool {
	outcome, err := page.Goto(ctx, url, pagedriver.DOMReady, navTimeout)
	if err == nil && outcome == pagedriver.OK {
		return true
	}
	if outcome != pagedriver.Aborted {
		return false
	}

	metrics.NavigationRetriesTotal.WithLabelValues(string(e.Market)).Inc()
	page.Sleep(ctx, jitter(navRetrySleepMin, navRetrySleepMax))
	page.Goto(ctx, "about:blank", pagedriver.DOMReady, navTimeout)
	page.Sleep(ctx, settleDelay)

	outcome, err = page.Goto(ctx, url, pagedriver.Load, navRetryLoadWait)
	return err == nil && outcome == pagedriver.OK
}

// waitForRows tries the primary row selector, then the generic fallback,
// returning whichever selector actually has rows and false if neither does.
func (e *Extractor) waitForRows(ctx context.Context, page pagedriver.Page) (string, bool) {
	rows, err := page.QueryAll(ctx, e.Selectors.ListingRow)
	if err == nil && len(rows) > 0 {
		return e.Selectors.ListingRow, true
	}
	if e.Selectors.ListingRowFallback == "" {
		return "", false
	}
	rows, err = page.QueryAll(ctx, e.Selectors.ListingRowFallback)
	if err == nil && len(rows) > 0 {
		return e.Selectors.ListingRowFallback, true
	}
	return "", false
}

// computeTotalVolume implements the one real behavioral asymmetry between
// the two marketplaces.
func (e *Extractor) computeTotalVolume(ctx context.Context, page pagedriver.Page, rowSelector string) int {
	rows, _ := page.QueryAll(ctx, rowSelector)
	rowCount := len(rows)

	switch e.Market {
	case model.MarketSteam:
		text, ok, err := page.QueryText(ctx, e.Selectors.TotalCounter)
		if err != nil || !ok {
			return 0
		}
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return 0
		}
		return n
	default: // cheap
		links, err := page.QueryAll(ctx, e.Selectors.PageLink)
		if err != nil || len(links) == 0 {
			return rowCount
		}
		maxPage := maxPageNumber(links)
		if maxPage <= 1 {
			return rowCount
		}
		return maxPage * rowCount
	}
}

// maxPageNumber parses the highest integer found among pagination link
// texts, ignoring non-numeric entries like "Next" or "...".
func maxPageNumber(linkTexts []string) int {
	max := 0
	for _, t := range linkTexts {
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

func (e *Extractor) extractListings(ctx context.Context, page pagedriver.Page, rowSelector string) []model.Listing {
	prices, err := page.QueryAll(ctx, priceSelector(rowSelector, e.Selectors.ListingPrice))
	if err != nil {
		return nil
	}

	listings := make([]model.Listing, 0, maxListings)
	for i, text := range prices {
		if i >= maxListings {
			break
		}
		price, currency, ok := parsePrice(text, e.Market, e.CNYPerEUR)
		if !ok {
			continue
		}
		listings = append(listings, model.Listing{PriceNative: price, Currency: currency, Quantity: 1})
	}
	return listings
}

func (e *Extractor) extractTrades(ctx context.Context, page pagedriver.Page) []model.TradeRecord {
	rowSel := e.Selectors.TradeRow
	prices, err := page.QueryAll(ctx, priceSelector(rowSel, e.Selectors.TradePrice))
	if (err != nil || len(prices) == 0) && e.Selectors.TradeRowFallback != "" {
		prices, err = page.QueryAll(ctx, priceSelector(e.Selectors.TradeRowFallback, e.Selectors.TradePrice))
	}
	if err != nil {
		return nil
	}

	trades := make([]model.TradeRecord, 0, maxTrades)
	for i, text := range prices {
		if i >= maxTrades {
			break
		}
		price, currency, ok := parsePrice(text, e.Market, e.CNYPerEUR)
		if !ok {
			continue
		}
		trades = append(trades, model.TradeRecord{PriceNative: price, Currency: currency})
	}
	return trades
}

// priceSelector composes a row selector with its nested price element
// selector. When priceSel is empty (e.g. steam, whose listing price sits
// directly under the row), rowSel alone is used.
func priceSelector(rowSel, priceSel string) string {
	if priceSel == "" {
		return rowSel
	}
	return rowSel + " " + priceSel
}

// parsePrice strips currency glyphs/whitespace from rowText and, for the
// steam market, detects CNY glyphs and converts to EUR via feemodel. The
// cheap market is always CNY-native and never converted.
//
// rowText here is the QueryAll-returned text for one row; a real DOM read
// would scope to the price sub-element, which the Page implementation
// already does (QueryAll is expected to return each row's own price text
// for these marketplaces' flat-row markup).
func parsePrice(rowText string, market model.Market, cnyPerEUR float64) (price float64, currency model.Currency, ok bool) {
	isCNY := strings.ContainsAny(rowText, "¥￥")
	cleaned := priceGlyphPattern.ReplaceAllString(rowText, "")
	if cleaned == "" {
		return 0, "", false
	}
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || val <= 0 {
		return 0, "", false
	}

	if market == model.MarketCheap {
		return val, model.CNY, true
	}

	// Steam: glyph determines native currency; CNY is converted to EUR
	// before storage, EUR is stored as-is.
	if isCNY {
		return feemodel.ConvertCNYToEUR(val, cnyPerEUR), model.EUR, true
	}
	return val, model.EUR, true
}

// priceStats computes avg/lowest: avg is the mean of listing prices,
// falling back to the mean of trades if no listings survived parsing;
// lowest is the min of listings only.
func priceStats(listings []model.Listing, trades []model.TradeRecord) (avg, lowest float64) {
	if len(listings) > 0 {
		var sum float64
		lowest = listings[0].PriceNative
		for _, l := range listings {
			sum += l.PriceNative
			if l.PriceNative < lowest {
				lowest = l.PriceNative
			}
		}
		return sum / float64(len(listings)), lowest
	}
	if len(trades) > 0 {
		var sum float64
		for _, t := range trades {
			sum += t.PriceNative
		}
		return sum / float64(len(trades)), 0
	}
	return 0, 0
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
