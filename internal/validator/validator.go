// Package validator implements two acceptance gates for a marketplace
// snapshot. PriceFalling is run by the cheap-market extractor; Liquidity is
// the volume-floor gate, which ItemProcessor applies with the same `<`
// comparison inline rather than by calling it.
package validator

import "github.com/stoskr/skinarb/internal/model"

// PriceFallingThreshold is the design constant fixing when recent trades are
// considered "price-falling" relative to current listings.
const PriceFallingThreshold = 0.90

// Result carries the outcome of a gate: whether it passed, and if not, why.
type Result struct {
	Pass   bool
	Reason string
}

func pass() Result { return Result{Pass: true} }

func fail(reason string) Result { return Result{Pass: false, Reason: reason} }

// PriceFalling reports whether recent trades are falling relative to
// current listings for one marketplace's snapshot. Insufficient data (an
// empty listings or trades set) is not a rejection — it passes.
//
// The boundary is inclusive: avgTrades <= 0.90 * avgListings fails.
func PriceFalling(listings []model.Listing, trades []model.TradeRecord) Result {
	if len(listings) == 0 || len(trades) == 0 {
		return pass()
	}

	avgListings := meanListingPrice(listings)
	avgTrades := meanTradePrice(trades)

	if avgTrades <= PriceFallingThreshold*avgListings {
		return fail("price-falling")
	}
	return pass()
}

// Liquidity reports whether totalVolume clears the floor V0. The gate is
// strict-less-than: a volume equal to the floor passes.
func Liquidity(totalVolume int, floorV0 int) Result {
	if totalVolume < floorV0 {
		return fail("low volume")
	}
	return pass()
}

func meanListingPrice(listings []model.Listing) float64 {
	var sum float64
	for _, l := range listings {
		sum += l.PriceNative
	}
	return sum / float64(len(listings))
}

func meanTradePrice(trades []model.TradeRecord) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.PriceNative
	}
	return sum / float64(len(trades))
}
