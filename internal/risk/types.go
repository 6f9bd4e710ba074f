package risk

import (
	"fmt"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
)

// TradeIntent is a trade proposal from a strategy caller. Immutable;
// consumed once by the validator. Either Quantity or NotionalUSD must be
// set; when both are set Quantity wins.
type TradeIntent struct {
	Symbol          string
	Side            exchange.Side
	Leverage        float64
	Quantity        float64
	NotionalUSD     float64
	StopDistancePct float64 // requested stop distance as a fraction of entry
}

// Validate rejects structurally malformed intents before any market data
// is consulted.
func (t TradeIntent) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("intent symbol is empty")
	}
	if t.Side != exchange.SideBuy && t.Side != exchange.SideSell {
		return fmt.Errorf("intent side %q is invalid", t.Side)
	}
	if t.Leverage <= 0 {
		return fmt.Errorf("intent leverage must be positive, got %v", t.Leverage)
	}
	if t.Quantity <= 0 && t.NotionalUSD <= 0 {
		return fmt.Errorf("intent needs a positive quantity or notional")
	}
	if t.StopDistancePct <= 0 {
		return fmt.Errorf("intent stop distance must be positive, got %v", t.StopDistancePct)
	}
	return nil
}

// Direction returns the position direction the intent opens.
func (t TradeIntent) Direction() exchange.PositionSide {
	if t.Side == exchange.SideBuy {
		return exchange.PositionLong
	}
	return exchange.PositionShort
}

// Decision is the validator's verdict with the exact numbers the executor
// will use. Read-only downstream.
type Decision struct {
	Approved   bool
	Rule       int    // failing rule number, 0 when approved
	Reason     string // names the first failing rule and the observed value
	EntryPrice float64
	StopPrice  float64
	Quantity   float64
	RiskUSD    float64
}

// Approval is proof that a decision passed the full rule chain. It can only
// be constructed by Validator.Evaluate; the executor refuses to act without
// one, which makes submitting a rejected intent impossible rather than
// merely discouraged.
type Approval struct {
	intent   TradeIntent
	decision Decision
}

// Intent returns the approved intent.
func (a *Approval) Intent() TradeIntent { return a.intent }

// Decision returns the computed entry/stop/size numbers.
func (a *Approval) Decision() Decision { return a.decision }
