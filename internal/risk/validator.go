package risk

import (
	"fmt"
	"time"

	sentinelerrors "github.com/tradesafe/perp-sentinel/internal/errors"
)

// Config holds the validation thresholds. One explicit value constructed at
// startup and passed in; rules never read globals.
type Config struct {
	MinVolumeUSD    float64
	MaxSpreadPct    float64
	MaxFundingRate  float64
	MinImbalance    float64
	OrderbookLevels int
	TrendEMAPeriod  int
	MaxLeverage     float64
	MaxLossUSD      float64 // per-trade worst-case loss cap
	LiquidityCapPct float64 // max share of visible depth a position may take

	// SnapshotMaxAge is the oldest snapshot Evaluate accepts. Anything
	// older is rejected as stale, never judged.
	SnapshotMaxAge time.Duration

	// Trend overrides the default EMA alignment filter when set.
	Trend TrendPredicate
}

// Validator decides whether a TradeIntent may be executed. Pure: evaluating
// never mutates exchange or session state, so it is safe to call any number
// of times.
type Validator struct {
	cfg   Config
	rules []Rule
}

// NewValidator builds the ordered rule chain from cfg.
func NewValidator(cfg Config) *Validator {
	trend := cfg.Trend
	if trend == nil {
		trend = EMATrendPredicate(cfg.TrendEMAPeriod)
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = 10 * time.Second
	}

	return &Validator{
		cfg: cfg,
		rules: []Rule{
			liquidityRule{minVolumeUSD: cfg.MinVolumeUSD},
			spreadRule{maxSpreadPct: cfg.MaxSpreadPct},
			fundingRule{maxFundingRate: cfg.MaxFundingRate},
			imbalanceRule{minImbalance: cfg.MinImbalance, levels: cfg.OrderbookLevels},
			trendRule{predicate: trend},
			riskBudgetRule{maxLossUSD: cfg.MaxLossUSD},
		},
	}
}

// Evaluate runs the intent through the ordered rule chain, fail-fast: the
// first failing rule aborts and names itself in the returned error; later
// rules are not evaluated. A non-nil Approval is the only way an intent can
// reach the executor.
func (v *Validator) Evaluate(intent TradeIntent, snap *MarketSnapshot) (*Approval, error) {
	if err := intent.Validate(); err != nil {
		return nil, &sentinelerrors.RiskBlockedError{Reason: err.Error()}
	}
	if v.cfg.MaxLeverage > 0 && intent.Leverage > v.cfg.MaxLeverage {
		return nil, &sentinelerrors.RiskBlockedError{
			Reason: fmt.Sprintf("leverage %.0fx exceeds maximum %.0fx", intent.Leverage, v.cfg.MaxLeverage),
		}
	}
	if !snap.Valid() {
		return nil, &sentinelerrors.StaleDataError{Source: "snapshot", Underlying: fmt.Errorf("snapshot missing required fields")}
	}
	if age := time.Since(snap.Timestamp); age > v.cfg.SnapshotMaxAge {
		return nil, &sentinelerrors.StaleDataError{Source: "snapshot", Age: age}
	}

	plan := buildPlan(intent, snap)

	for i, rule := range v.rules {
		reason, ok := rule.Check(plan)
		if !ok {
			return nil, &sentinelerrors.RiskBlockedError{
				Rule:   i + 1,
				Reason: fmt.Sprintf("%s: %s", rule.Name(), reason),
			}
		}
	}

	return &Approval{
		intent: intent,
		decision: Decision{
			Approved:   true,
			EntryPrice: plan.entryPrice,
			StopPrice:  plan.stopPrice,
			Quantity:   plan.quantity,
			RiskUSD:    plan.riskUSD,
		},
	}, nil
}
