// Package feemodel provides pure, total functions for market fees, FX
// conversion, and profitability. None of these functions perform I/O or
// hold state; every value is deterministic given its inputs.
package feemodel

import (
	"fmt"

	"github.com/stoskr/skinarb/internal/model"
)

// Fee rates per marketplace, fixed by design.
const (
	SteamFeeRate = 0.13
	CheapFeeRate = 0.025

	// SellSideFeeFactor is (1 - SteamFeeRate), baked into Profit/ROI so the
	// sell-side fee is the only fee subtracted off the sell price. The
	// buy-side price is treated as already absorbing the cheap market's fee.
	SellSideFeeFactor = 1 - SteamFeeRate

	// DefaultCNYPerEUR is the default CNY-to-EUR conversion constant.
	DefaultCNYPerEUR = 8.2
)

// UnknownMarket is returned by Fee when asked about a market it doesn't
// recognize.
type UnknownMarket struct {
	Market string
}

func (e *UnknownMarket) Error() string {
	return fmt.Sprintf("feemodel: unknown market %q", e.Market)
}

// Fee returns the marketplace fee charged on price for the given market.
func Fee(price float64, market model.Market) (float64, error) {
	switch market {
	case model.MarketSteam:
		return price * SteamFeeRate, nil
	case model.MarketCheap:
		return price * CheapFeeRate, nil
	default:
		return 0, &UnknownMarket{Market: string(market)}
	}
}

// ConvertCNYToEUR converts a CNY-native price to EUR using rate (CNY per
// EUR). No rounding is applied; callers round only at presentation time.
func ConvertCNYToEUR(priceCNY, rate float64) float64 {
	return priceCNY / rate
}

// ProfitEUR computes the per-unit profit in EUR of buying at buyEUR and
// selling at sellEUR, after the steam-side sell fee.
func ProfitEUR(buyEUR, sellEUR float64) float64 {
	return sellEUR*SellSideFeeFactor - buyEUR
}

// ROIPercent computes the return on investment, as a percentage, of buying
// at buyEUR and selling at sellEUR. Returns 0 when buyEUR is zero — there is
// no meaningful ratio to report.
func ROIPercent(buyEUR, sellEUR float64) float64 {
	if buyEUR == 0 {
		return 0.0
	}
	return (sellEUR*SellSideFeeFactor/buyEUR - 1) * 100
}

// Analyze computes the full ProfitabilityAnalysis for a buy/sell pair
// already expressed in EUR.
func Analyze(buyEUR, sellEUR float64) model.ProfitabilityAnalysis {
	return model.ProfitabilityAnalysis{
		BuyAvgEUR:  buyEUR,
		SellAvgEUR: sellEUR,
		ProfitEUR:  ProfitEUR(buyEUR, sellEUR),
		ROIPercent: ROIPercent(buyEUR, sellEUR),
	}
}
