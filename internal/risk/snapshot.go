package risk

import (
	"context"
	"time"

	sentinelerrors "github.com/tradesafe/perp-sentinel/internal/errors"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// MarketSnapshot is the live market state a trade proposal is judged
// against. Built fresh for every evaluation; never cached between calls.
type MarketSnapshot struct {
	Symbol         string
	LastPrice      float64
	BestBid        float64
	BestAsk        float64
	QuoteVolume24h float64
	FundingRate    float64
	Depth          *exchange.Depth
	Candles        []types.OHLCV
	Timestamp      time.Time
}

// BuildSnapshot fetches everything the validator needs in one pass. Any
// fetch failure surfaces as a StaleDataError: a proposal judged against
// missing data is rejected, never approved by default.
func BuildSnapshot(ctx context.Context, gw exchange.Gateway, symbol, trendInterval string, trendPeriod int) (*MarketSnapshot, error) {
	ticker, err := gw.GetTicker(ctx, symbol)
	if err != nil {
		return nil, &sentinelerrors.StaleDataError{Source: "ticker", Underlying: err}
	}

	depth, err := gw.GetOrderbookDepth(ctx, symbol)
	if err != nil {
		return nil, &sentinelerrors.StaleDataError{Source: "orderbook", Underlying: err}
	}

	funding, err := gw.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, &sentinelerrors.StaleDataError{Source: "funding", Underlying: err}
	}

	// Fetch enough candles for the trend EMA to settle.
	candles, err := gw.GetKlines(ctx, symbol, trendInterval, trendPeriod*3)
	if err != nil {
		return nil, &sentinelerrors.StaleDataError{Source: "klines", Underlying: err}
	}

	return &MarketSnapshot{
		Symbol:         ticker.Symbol,
		LastPrice:      ticker.LastPrice,
		BestBid:        ticker.BestBid,
		BestAsk:        ticker.BestAsk,
		QuoteVolume24h: ticker.QuoteVolume24h,
		FundingRate:    funding,
		Depth:          depth,
		Candles:        candles,
		Timestamp:      ticker.Timestamp,
	}, nil
}

// Valid reports whether the snapshot carries the minimum fields every rule
// depends on.
func (s *MarketSnapshot) Valid() bool {
	return s != nil && s.LastPrice > 0 && s.BestBid > 0 && s.BestAsk > 0 && s.Depth != nil
}

// Imbalance returns the order-book imbalance over the top levels of the
// snapshot's depth: (bidVolume - askVolume) / (bidVolume + askVolume),
// range -1 (sell pressure) to +1 (buy pressure).
func (s *MarketSnapshot) Imbalance(levels int) float64 {
	if s.Depth == nil || levels <= 0 {
		return 0
	}
	var bidVol, askVol float64
	for i, level := range s.Depth.Bids {
		if i >= levels {
			break
		}
		bidVol += level.Quantity
	}
	for i, level := range s.Depth.Asks {
		if i >= levels {
			break
		}
		askVol += level.Quantity
	}
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}
