package risk

import (
	"math"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
)

// SizeByRisk returns the quantity that loses exactly riskUSD if the stop is
// hit. Zero when entry and stop coincide.
func SizeByRisk(riskUSD, entryPrice, stopPrice float64) float64 {
	dist := math.Abs(entryPrice - stopPrice)
	if dist == 0 {
		return 0
	}
	return riskUSD / dist
}

// LiquidityCap returns the largest quantity that takes no more than capPct
// of the visible depth on the thinner side of the book, summed over the top
// levels. Sizing against the thin side keeps both the entry and a later
// emergency exit fillable.
func LiquidityCap(depth *exchange.Depth, levels int, capPct float64) float64 {
	if depth == nil || levels <= 0 || capPct <= 0 {
		return 0
	}

	var bidVol, askVol float64
	for i, level := range depth.Bids {
		if i >= levels {
			break
		}
		bidVol += level.Quantity
	}
	for i, level := range depth.Asks {
		if i >= levels {
			break
		}
		askVol += level.Quantity
	}

	thin := math.Min(bidVol, askVol)
	return thin * capPct
}

// ClampQuantity applies the liquidity cap and the instrument's step and
// minimum to a proposed quantity. Returns zero when the clamped size falls
// below the instrument minimum, which callers must treat as untradeable.
func ClampQuantity(qty float64, cap float64, limits *exchange.InstrumentLimits) float64 {
	if cap > 0 && qty > cap {
		qty = cap
	}
	if limits != nil {
		qty = limits.RoundToStep(qty)
		if qty < limits.MinQty {
			return 0
		}
	}
	return qty
}
