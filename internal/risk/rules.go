package risk

import (
	"fmt"
	"math"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/indicators"
)

// tradePlan carries the numbers computed once before the chain runs, so
// every rule judges the same figures the executor would trade on.
type tradePlan struct {
	intent TradeIntent
	snap   *MarketSnapshot

	entryPrice float64
	stopPrice  float64
	quantity   float64
	riskUSD    float64
}

// Rule is one check in the ordered validation chain. Check returns ok=false
// with a reason naming the observed value; rules never mutate the plan.
type Rule interface {
	Name() string
	Check(p *tradePlan) (reason string, ok bool)
}

// liquidityRule rejects thin markets: 24h quote turnover below the floor.
type liquidityRule struct {
	minVolumeUSD float64
}

func (r liquidityRule) Name() string { return "liquidity" }

func (r liquidityRule) Check(p *tradePlan) (string, bool) {
	if p.snap.QuoteVolume24h < r.minVolumeUSD {
		return fmt.Sprintf("24h volume $%.0f below minimum $%.0f", p.snap.QuoteVolume24h, r.minVolumeUSD), false
	}
	return "", true
}

// spreadRule rejects wide markets where the entry would cross an expensive
// spread.
type spreadRule struct {
	maxSpreadPct float64
}

func (r spreadRule) Name() string { return "spread" }

func (r spreadRule) Check(p *tradePlan) (string, bool) {
	spread := (p.snap.BestAsk - p.snap.BestBid) / p.snap.BestBid
	if spread > r.maxSpreadPct {
		return fmt.Sprintf("spread %.4f%% above maximum %.4f%%", spread*100, r.maxSpreadPct*100), false
	}
	return "", true
}

// fundingRule rejects trades that pay an excessive crowding premium in the
// intended direction. Longs pay positive funding, shorts pay negative.
type fundingRule struct {
	maxFundingRate float64
}

func (r fundingRule) Name() string { return "funding" }

func (r fundingRule) Check(p *tradePlan) (string, bool) {
	rate := p.snap.FundingRate
	if p.intent.Side == exchange.SideBuy && rate > r.maxFundingRate {
		return fmt.Sprintf("funding rate %.5f exceeds %.5f against longs", rate, r.maxFundingRate), false
	}
	if p.intent.Side == exchange.SideSell && rate < -r.maxFundingRate {
		return fmt.Sprintf("funding rate %.5f exceeds %.5f against shorts", rate, r.maxFundingRate), false
	}
	return "", true
}

// imbalanceRule rejects trades into opposing order flow: the book must lean
// toward the intended side by at least the threshold.
type imbalanceRule struct {
	minImbalance float64
	levels       int
}

func (r imbalanceRule) Name() string { return "orderflow" }

func (r imbalanceRule) Check(p *tradePlan) (string, bool) {
	obi := p.snap.Imbalance(r.levels)
	directional := obi
	if p.intent.Side == exchange.SideSell {
		directional = -obi
	}
	if directional < r.minImbalance {
		return fmt.Sprintf("orderbook imbalance %.3f below required %.3f for %s", obi, r.minImbalance, p.intent.Side), false
	}
	return "", true
}

// TrendPredicate decides whether the market's trend agrees with the intended
// side. Pluggable so callers can swap the default EMA alignment for their
// own filter.
type TrendPredicate func(side exchange.Side, snap *MarketSnapshot) (observed string, ok bool)

// EMATrendPredicate returns the default trend filter: price above the EMA
// permits longs, below permits shorts. Too few candles is a rejection, not
// a pass.
func EMATrendPredicate(period int) TrendPredicate {
	return func(side exchange.Side, snap *MarketSnapshot) (string, bool) {
		ema := indicators.NewEMA(period)
		value, err := ema.Calculate(snap.Candles)
		if err != nil {
			return fmt.Sprintf("trend unavailable: %d candles, need %d", len(snap.Candles), period), false
		}
		if side == exchange.SideBuy && snap.LastPrice < value {
			return fmt.Sprintf("price %.2f below EMA%d %.2f, long misaligned", snap.LastPrice, period, value), false
		}
		if side == exchange.SideSell && snap.LastPrice > value {
			return fmt.Sprintf("price %.2f above EMA%d %.2f, short misaligned", snap.LastPrice, period, value), false
		}
		return "", true
	}
}

// trendRule applies the configured trend predicate.
type trendRule struct {
	predicate TrendPredicate
}

func (r trendRule) Name() string { return "trend" }

func (r trendRule) Check(p *tradePlan) (string, bool) {
	observed, ok := r.predicate(p.intent.Side, p.snap)
	if !ok {
		return observed, false
	}
	return "", true
}

// riskBudgetRule rejects trades whose worst-case loss at the stop exceeds
// the per-trade cap.
type riskBudgetRule struct {
	maxLossUSD float64
}

func (r riskBudgetRule) Name() string { return "risk-budget" }

func (r riskBudgetRule) Check(p *tradePlan) (string, bool) {
	if p.riskUSD > r.maxLossUSD {
		return fmt.Sprintf("risk $%.2f exceeds max loss per trade $%.2f", p.riskUSD, r.maxLossUSD), false
	}
	return "", true
}

// buildPlan computes the entry, stop, size and worst-case risk the rules
// judge. Entry comes from the live book on the crossing side, never from an
// assumed price.
func buildPlan(intent TradeIntent, snap *MarketSnapshot) *tradePlan {
	entry := snap.BestAsk
	if intent.Side == exchange.SideSell {
		entry = snap.BestBid
	}

	stop := entry * (1 - intent.StopDistancePct)
	if intent.Side == exchange.SideSell {
		stop = entry * (1 + intent.StopDistancePct)
	}

	qty := intent.Quantity
	if qty <= 0 && entry > 0 {
		qty = intent.NotionalUSD / entry
	}

	return &tradePlan{
		intent:     intent,
		snap:       snap,
		entryPrice: entry,
		stopPrice:  stop,
		quantity:   qty,
		riskUSD:    math.Abs(entry-stop) * qty,
	}
}
