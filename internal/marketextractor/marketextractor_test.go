package marketextractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/internal/pagedriver/fake"
)

func TestExtract_Cheap_HappyPath(t *testing.T) {
	page := fake.NewPage()
	page.All["tr.selling"] = []string{"r1", "r2", "r3"}
	page.All["tr.selling strong.f_Strong"] = []string{"¥ 80", "¥ 82", "¥ 84"}
	page.All["table tbody tr strong.f_Strong"] = []string{"¥ 81", "¥ 81"}
	page.All["a.page-link"] = []string{"1", "2", "Next"}

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/123")

	require.NotNil(t, snap)
	assert.True(t, snap.Valid())
	assert.Equal(t, model.MarketCheap, snap.Platform)
	assert.Len(t, snap.Listings, 3)
	assert.Len(t, snap.Trades, 2)
	// max_page=2, rows-on-page=3 -> total_volume = 6.
	assert.Equal(t, 6, snap.TotalVolume)
	assert.InDelta(t, 82.0, snap.AvgPriceNative, 1e-9)
	assert.InDelta(t, 80.0, snap.LowestPriceNative, 1e-9)
	for _, l := range snap.Listings {
		assert.Equal(t, model.CNY, l.Currency)
	}
}

func TestExtract_Cheap_NoPaginationFallsBackToRowCount(t *testing.T) {
	page := fake.NewPage()
	page.All["tr.selling"] = []string{"r1", "r2"}
	page.All["tr.selling strong.f_Strong"] = []string{"¥ 10", "¥ 12"}

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/9")

	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.TotalVolume)
}

func TestExtract_Cheap_NoListingRowsIsNil(t *testing.T) {
	page := fake.NewPage() // no rows under either selector

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/404")

	assert.Nil(t, snap)
}

func TestExtract_Cheap_FallbackSelectorUsedOnTimeout(t *testing.T) {
	page := fake.NewPage()
	// "tr.selling" absent entirely; only the generic fallback has rows.
	page.All["table tbody tr"] = []string{"r1"}
	page.All["table tbody tr strong.f_Strong"] = []string{"¥ 50"}

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/5")

	require.NotNil(t, snap)
	assert.Len(t, snap.Listings, 1)
}

func TestExtract_Cheap_PriceFallingDumpDiscardsSnapshot(t *testing.T) {
	page := fake.NewPage()
	page.All["tr.selling"] = []string{"r1", "r2"}
	page.All["tr.selling strong.f_Strong"] = []string{"¥ 82", "¥ 82"}
	// Recent trades 70 <= 0.90*82=73.8 -> price-falling dump.
	page.All["table tbody tr strong.f_Strong"] = []string{"¥ 70", "¥ 70"}

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/1")

	assert.Nil(t, snap)
}

func TestExtract_Steam_HappyPath_ConvertsCNY(t *testing.T) {
	page := fake.NewPage()
	page.All["#searchResultsRows .market_listing_row"] = []string{"r1", "r2"}
	page.All["#searchResultsRows .market_listing_row .market_listing_price"] = []string{"€12.50", "¥ 82"}
	page.Text["#searchResults_total"] = "200"

	ext := New(model.MarketSteam, SteamSelectors, 8.2, nil)
	snap := ext.Extract(context.Background(), page, "https://steamcommunity.com/market/listings/730/X")

	require.NotNil(t, snap)
	assert.Equal(t, 200, snap.TotalVolume)
	require.Len(t, snap.Listings, 2)
	assert.Equal(t, model.EUR, snap.Listings[0].Currency)
	assert.InDelta(t, 12.50, snap.Listings[0].PriceNative, 1e-9)
	assert.Equal(t, model.EUR, snap.Listings[1].Currency)
	assert.InDelta(t, 82.0/8.2, snap.Listings[1].PriceNative, 1e-9)
	assert.Empty(t, snap.Trades) // steam has no trade-history tab
}

func TestExtract_Steam_TotalCounterParseFailureIsZero(t *testing.T) {
	page := fake.NewPage()
	page.All["#searchResultsRows .market_listing_row"] = []string{"r1"}
	page.All["#searchResultsRows .market_listing_row .market_listing_price"] = []string{"€5.00"}
	page.Text["#searchResults_total"] = "not-a-number"

	ext := New(model.MarketSteam, SteamSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://steamcommunity.com/market/listings/730/Y")

	require.NotNil(t, snap)
	assert.Equal(t, 0, snap.TotalVolume)
}

func TestExtract_NavigationAbortedBothAttemptsReturnsNil(t *testing.T) {
	page := fake.NewPage().WithGotoScript(fake.GotoScript{
		pagedriver.Aborted, pagedriver.Aborted,
	})

	ext := New(model.MarketCheap, CheapSelectors, 0, nil)
	snap := ext.Extract(context.Background(), page, "https://cheap.example/item/1")

	assert.Nil(t, snap)
	// 1 initial attempt + 1 about:blank reset + 1 retry attempt.
	assert.Equal(t, 3, page.GotoCalls())
}

func TestParsePrice_RejectsNonPositiveAndGarbage(t *testing.T) {
	_, _, ok := parsePrice("¥ 0", model.MarketCheap, 8.2)
	assert.False(t, ok)
	_, _, ok = parsePrice("free", model.MarketCheap, 8.2)
	assert.False(t, ok)
}

func TestVariantURLs_Cheap(t *testing.T) {
	selling, history := variantURLs(model.MarketCheap, "https://cheap.example/item/1?from=old#tab=selling")
	assert.Equal(t, "https://cheap.example/item/1?from=market#tab=selling", selling)
	assert.Equal(t, "https://cheap.example/item/1?from=market#tab=history", history)
}

func TestVariantURLs_Steam(t *testing.T) {
	selling, history := variantURLs(model.MarketSteam, "https://steamcommunity.com/market/listings/730/X")
	assert.Equal(t, selling, history)
}
