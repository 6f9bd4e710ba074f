package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sentinelerrors "github.com/tradesafe/perp-sentinel/internal/errors"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
)

func testConfig() Config {
	return Config{
		MinVolumeUSD:    10_000_000,
		MaxSpreadPct:    0.0015,
		MaxFundingRate:  0.0004,
		MinImbalance:    0.10,
		OrderbookLevels: 10,
		TrendEMAPeriod:  50,
		MaxLeverage:     25,
		MaxLossUSD:      200,
		// Trend data is not the subject of most cases here.
		Trend: func(side exchange.Side, snap *MarketSnapshot) (string, bool) {
			return "", true
		},
	}
}

func testSnapshot() *MarketSnapshot {
	depth := &exchange.Depth{
		Symbol: "BTCUSDT",
		Bids:   make([]exchange.PriceLevel, 0, 10),
		Asks:   make([]exchange.PriceLevel, 0, 10),
	}
	// Book leaning toward the bid so longs pass the order-flow rule.
	for i := 0; i < 10; i++ {
		depth.Bids = append(depth.Bids, exchange.PriceLevel{Price: 49999 - float64(i), Quantity: 3})
		depth.Asks = append(depth.Asks, exchange.PriceLevel{Price: 50000 + float64(i), Quantity: 2})
	}

	return &MarketSnapshot{
		Symbol:         "BTCUSDT",
		LastPrice:      50000,
		BestBid:        49999,
		BestAsk:        50000,
		QuoteVolume24h: 500_000_000,
		FundingRate:    0.0001,
		Depth:          depth,
		Timestamp:      time.Now(),
	}
}

func buyIntent() TradeIntent {
	return TradeIntent{
		Symbol:          "BTCUSDT",
		Side:            exchange.SideBuy,
		Leverage:        10,
		NotionalUSD:     2000,
		StopDistancePct: 0.01,
	}
}

func TestEvaluateApprovesWithinRiskBudget(t *testing.T) {
	v := NewValidator(testConfig())

	approval, err := v.Evaluate(buyIntent(), testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, approval)

	d := approval.Decision()
	assert.True(t, d.Approved)
	assert.Equal(t, 50000.0, d.EntryPrice) // long entry crosses the ask
	assert.InDelta(t, 49500.0, d.StopPrice, 1e-6)
	assert.InDelta(t, 0.04, d.Quantity, 1e-9)
	assert.InDelta(t, 20.0, d.RiskUSD, 1e-6)
}

func TestEvaluateRejectsOverRiskBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLossUSD = 10
	v := NewValidator(cfg)

	approval, err := v.Evaluate(buyIntent(), testSnapshot())
	require.Error(t, err)
	assert.Nil(t, approval)

	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 6, blocked.Rule)
	assert.Contains(t, blocked.Reason, "risk-budget")
	assert.Contains(t, blocked.Reason, "20.00")
}

func TestEvaluateFailFastNamesOnlyFirstFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLossUSD = 10 // rule 6 would also fail
	v := NewValidator(cfg)

	snap := testSnapshot()
	snap.QuoteVolume24h = 1_000_000 // rule 1 fails first

	_, err := v.Evaluate(buyIntent(), snap)
	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 1, blocked.Rule)
	assert.Contains(t, blocked.Reason, "liquidity")
	assert.NotContains(t, blocked.Reason, "risk-budget")
}

func TestEvaluateRejectsWideSpread(t *testing.T) {
	v := NewValidator(testConfig())

	snap := testSnapshot()
	snap.BestBid = 49000
	snap.BestAsk = 50000

	_, err := v.Evaluate(buyIntent(), snap)
	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 2, blocked.Rule)
}

func TestEvaluateRejectsCrowdedFunding(t *testing.T) {
	v := NewValidator(testConfig())

	snap := testSnapshot()
	snap.FundingRate = 0.001 // longs pay heavily

	_, err := v.Evaluate(buyIntent(), snap)
	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 3, blocked.Rule)

	// The same funding is fine for a short.
	short := buyIntent()
	short.Side = exchange.SideSell
	snapShort := testSnapshot()
	snapShort.FundingRate = 0.001
	// Flip the book so the short passes order flow.
	snapShort.Depth.Bids, snapShort.Depth.Asks = snapShort.Depth.Asks, snapShort.Depth.Bids
	_, err = v.Evaluate(short, snapShort)
	assert.NoError(t, err)
}

func TestEvaluateRejectsOpposingOrderFlow(t *testing.T) {
	v := NewValidator(testConfig())

	snap := testSnapshot()
	// Heavy ask side opposes a long.
	snap.Depth.Bids, snap.Depth.Asks = snap.Depth.Asks, snap.Depth.Bids

	_, err := v.Evaluate(buyIntent(), snap)
	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 4, blocked.Rule)
}

func TestEvaluateRejectsMisalignedTrend(t *testing.T) {
	cfg := testConfig()
	cfg.Trend = func(side exchange.Side, snap *MarketSnapshot) (string, bool) {
		return "price below EMA", false
	}
	v := NewValidator(cfg)

	_, err := v.Evaluate(buyIntent(), testSnapshot())
	var blocked *sentinelerrors.RiskBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 5, blocked.Rule)
}

func TestEvaluateRejectsInvalidSnapshot(t *testing.T) {
	v := NewValidator(testConfig())

	_, err := v.Evaluate(buyIntent(), &MarketSnapshot{})
	assert.True(t, sentinelerrors.IsStaleData(err))

	_, err = v.Evaluate(buyIntent(), nil)
	assert.True(t, sentinelerrors.IsStaleData(err))
}

func TestEvaluateRejectsAgedSnapshot(t *testing.T) {
	v := NewValidator(testConfig())

	snap := testSnapshot()
	snap.Timestamp = time.Now().Add(-time.Hour)

	approval, err := v.Evaluate(buyIntent(), snap)
	assert.Nil(t, approval)

	var stale *sentinelerrors.StaleDataError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "snapshot", stale.Source)
	assert.Greater(t, stale.Age, 59*time.Minute)

	// A snapshot just inside the window is fine.
	snap.Timestamp = time.Now().Add(-time.Second)
	_, err = v.Evaluate(buyIntent(), snap)
	assert.NoError(t, err)
}

func TestEvaluateRejectsMalformedIntent(t *testing.T) {
	v := NewValidator(testConfig())

	intent := buyIntent()
	intent.Leverage = 0
	_, err := v.Evaluate(intent, testSnapshot())
	assert.True(t, sentinelerrors.IsRiskBlocked(err))

	intent = buyIntent()
	intent.Leverage = 100
	_, err = v.Evaluate(intent, testSnapshot())
	assert.True(t, sentinelerrors.IsRiskBlocked(err))
}

func TestEvaluateIsRepeatable(t *testing.T) {
	v := NewValidator(testConfig())
	snap := testSnapshot()

	first, err := v.Evaluate(buyIntent(), snap)
	require.NoError(t, err)
	second, err := v.Evaluate(buyIntent(), snap)
	require.NoError(t, err)

	assert.Equal(t, first.Decision(), second.Decision())
}

func TestImbalance(t *testing.T) {
	snap := testSnapshot() // 3 qty per bid level vs 2 per ask level
	obi := snap.Imbalance(10)
	assert.InDelta(t, 0.2, obi, 1e-9) // (30-20)/50

	assert.Equal(t, 0.0, snap.Imbalance(0))
}

func TestSizeByRisk(t *testing.T) {
	assert.InDelta(t, 0.04, SizeByRisk(20, 50000, 49500), 1e-9)
	assert.Equal(t, 0.0, SizeByRisk(20, 50000, 50000))
}

func TestLiquidityCap(t *testing.T) {
	depth := &exchange.Depth{
		Bids: []exchange.PriceLevel{{Price: 100, Quantity: 10}, {Price: 99, Quantity: 10}},
		Asks: []exchange.PriceLevel{{Price: 101, Quantity: 4}, {Price: 102, Quantity: 4}},
	}
	// Thin side is the asks: 8 total, 10% cap.
	assert.InDelta(t, 0.8, LiquidityCap(depth, 5, 0.10), 1e-9)
}

func TestClampQuantity(t *testing.T) {
	limits := &exchange.InstrumentLimits{QtyStep: 0.001, MinQty: 0.01}

	assert.InDelta(t, 0.5, ClampQuantity(0.7, 0.5, limits), 1e-9)
	assert.Equal(t, 0.0, ClampQuantity(0.005, 0, limits))
}
