package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/tradesafe/perp-sentinel/internal/errors"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/journal"
	"github.com/tradesafe/perp-sentinel/internal/logger"
	"github.com/tradesafe/perp-sentinel/internal/risk"
)

// Config holds execution behavior settings.
type Config struct {
	ProtectionRetries int           // stop placement attempts before emergency close
	ProtectionBackoff time.Duration // delay between stop placement attempts
	UseCompoundOrders bool          // attach the stop to the entry atomically
	OrderTimeout      time.Duration // per-call deadline for order operations
}

// OrderReceipt is the proof of a protected entry.
type OrderReceipt struct {
	Symbol            string
	EntryOrderID      string
	ProtectiveOrderID string // empty when the stop rode on the entry itself
	EntryPrice        float64
	StopPrice         float64
	Quantity          float64
	Compound          bool
}

// Executor turns an approved decision into exchange state such that an
// entry is never observably open without protection for longer than one
// bounded recovery step.
type Executor struct {
	gw      exchange.Gateway
	cfg     Config
	log     *logger.Logger
	journal journal.Recorder
}

// New creates an executor.
func New(gw exchange.Gateway, cfg Config, log *logger.Logger, rec journal.Recorder) *Executor {
	if cfg.ProtectionRetries <= 0 {
		cfg.ProtectionRetries = 3
	}
	if cfg.ProtectionBackoff <= 0 {
		cfg.ProtectionBackoff = 500 * time.Millisecond
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if rec == nil {
		rec = journal.NopRecorder{}
	}
	return &Executor{gw: gw, cfg: cfg, log: log, journal: rec}
}

// Execute submits the approved trade. A nil approval means the intent never
// passed validation; it is refused here without touching the exchange. The
// Approval type cannot be constructed outside the risk package, so there is
// no code path that submits a rejected intent.
func (e *Executor) Execute(ctx context.Context, approval *risk.Approval) (*OrderReceipt, error) {
	if approval == nil {
		return nil, &errors.RiskBlockedError{Reason: "execute called without an approval"}
	}

	intent := approval.Intent()
	decision := approval.Decision()

	limits, err := e.gw.GetInstrumentLimits(ctx, intent.Symbol)
	if err != nil {
		return nil, &errors.StaleDataError{Source: "instrument", Underlying: err}
	}

	qty := limits.RoundToStep(decision.Quantity)
	stop := limits.RoundToTick(decision.StopPrice)
	if qty < limits.MinQty {
		return nil, &errors.RiskBlockedError{
			Reason: fmt.Sprintf("quantity %.8f below instrument minimum %.8f", qty, limits.MinQty),
		}
	}

	if e.cfg.UseCompoundOrders {
		return e.executeCompound(ctx, intent, decision, limits, qty, stop)
	}
	return e.executeFallback(ctx, intent, decision, limits, qty, stop)
}

// executeCompound submits a single order carrying both the entry and its
// protective trigger. No unprotected window exists on this path.
func (e *Executor) executeCompound(ctx context.Context, intent risk.TradeIntent, decision risk.Decision, limits *exchange.InstrumentLimits, qty, stop float64) (*OrderReceipt, error) {
	req := exchange.OrderRequest{
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Type:        exchange.OrderTypeMarket,
		Quantity:    qty,
		StopLoss:    stop,
		OrderLinkID: journal.NewID(),
	}

	ack, err := e.submitEntry(ctx, req, limits)
	if err != nil {
		return nil, err
	}

	e.log.LogExecution(intent.Symbol, string(intent.Side), ack.OrderID, "(attached)", qty, decision.EntryPrice, stop)
	e.journal.Record(journal.NewEvent(intent.Symbol, journal.KindEntry,
		fmt.Sprintf("compound entry %s qty=%.8f stop=%.4f order=%s", intent.Side, qty, stop, ack.OrderID)))

	return &OrderReceipt{
		Symbol:       intent.Symbol,
		EntryOrderID: ack.OrderID,
		EntryPrice:   decision.EntryPrice,
		StopPrice:    stop,
		Quantity:     qty,
		Compound:     true,
	}, nil
}

// executeFallback submits the entry, then immediately attaches the stop.
// A failed stop is retried a bounded number of times; if protection still
// cannot be attached the just-opened quantity is market-closed before this
// function returns. Success is never reported while the position is
// unprotected.
func (e *Executor) executeFallback(ctx context.Context, intent risk.TradeIntent, decision risk.Decision, limits *exchange.InstrumentLimits, qty, stop float64) (*OrderReceipt, error) {
	entryReq := exchange.OrderRequest{
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Type:        exchange.OrderTypeMarket,
		Quantity:    qty,
		OrderLinkID: journal.NewID(),
	}

	entryAck, err := e.submitEntry(ctx, entryReq, limits)
	if err != nil {
		return nil, err
	}

	e.journal.Record(journal.NewEvent(intent.Symbol, journal.KindEntry,
		fmt.Sprintf("entry %s qty=%.8f order=%s", intent.Side, qty, entryAck.OrderID)))

	stopReq := exchange.OrderRequest{
		Symbol:       intent.Symbol,
		Side:         intent.Side.Opposite(),
		Type:         exchange.OrderTypeMarket,
		Quantity:     qty,
		TriggerPrice: stop,
		ReduceOnly:   true,
		OrderLinkID:  journal.NewID(),
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.ProtectionRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		stopAck, err := e.gw.SubmitOrder(callCtx, stopReq)
		cancel()
		if err == nil {
			e.log.LogExecution(intent.Symbol, string(intent.Side), entryAck.OrderID, stopAck.OrderID, qty, decision.EntryPrice, stop)
			e.journal.Record(journal.NewEvent(intent.Symbol, journal.KindProtection,
				fmt.Sprintf("stop attached at %.4f order=%s", stop, stopAck.OrderID)))
			return &OrderReceipt{
				Symbol:            intent.Symbol,
				EntryOrderID:      entryAck.OrderID,
				ProtectiveOrderID: stopAck.OrderID,
				EntryPrice:        decision.EntryPrice,
				StopPrice:         stop,
				Quantity:          qty,
			}, nil
		}

		lastErr = err
		e.log.Warning("protective order attempt %d/%d for %s failed: %v", attempt, e.cfg.ProtectionRetries, intent.Symbol, err)

		if attempt < e.cfg.ProtectionRetries {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = e.cfg.ProtectionRetries
			case <-time.After(e.cfg.ProtectionBackoff):
			}
		}
	}

	// The position is open and unprotected. Close it now rather than
	// returning and hoping a caller notices.
	e.log.Critical("protection failed for %s, issuing emergency close", intent.Symbol)
	closed := e.emergencyClose(ctx, intent.Symbol, intent.Side, qty)

	e.journal.Record(journal.NewEvent(intent.Symbol, journal.KindEmergencyClose,
		fmt.Sprintf("protection failed after %d attempts, closed=%t", e.cfg.ProtectionRetries, closed)))

	return nil, &errors.ProtectionFailedError{
		Symbol:          intent.Symbol,
		EntryOrderID:    entryAck.OrderID,
		Attempts:        e.cfg.ProtectionRetries,
		EmergencyClosed: closed,
		Underlying:      lastErr,
	}
}

// submitEntry submits an entry order. Entries are never blindly retried; a
// rejection that is an obvious precision problem gets exactly one corrected
// re-submission after re-fetching the instrument limits.
func (e *Executor) submitEntry(ctx context.Context, req exchange.OrderRequest, limits *exchange.InstrumentLimits) (*exchange.OrderAck, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	ack, err := e.gw.SubmitOrder(callCtx, req)
	cancel()
	if err == nil {
		return ack, nil
	}

	if !exchange.IsPrecisionRejection(err) {
		return nil, &errors.ExchangeRejectedError{
			Code:       exchange.RejectionCode(err),
			Message:    err.Error(),
			Underlying: err,
		}
	}

	// Re-round against freshly fetched limits and resubmit once.
	fresh, limErr := e.gw.GetInstrumentLimits(ctx, req.Symbol)
	if limErr == nil {
		limits = fresh
	}
	req.Quantity = limits.RoundToStep(req.Quantity)
	if req.Price > 0 {
		req.Price = limits.RoundToTick(req.Price)
	}
	if req.StopLoss > 0 {
		req.StopLoss = limits.RoundToTick(req.StopLoss)
	}
	req.OrderLinkID = journal.NewID()

	e.log.Warning("entry for %s rejected on precision, resubmitting corrected order once", req.Symbol)

	callCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	ack, retryErr := e.gw.SubmitOrder(callCtx, req)
	cancel()
	if retryErr != nil {
		return nil, &errors.ExchangeRejectedError{
			Code:       exchange.RejectionCode(retryErr),
			Message:    retryErr.Error(),
			Corrected:  true,
			Underlying: retryErr,
		}
	}
	return ack, nil
}

// emergencyClose market-closes qty of the just-opened position. Returns
// whether the close order was accepted.
func (e *Executor) emergencyClose(ctx context.Context, symbol string, entrySide exchange.Side, qty float64) bool {
	// Independent deadline: the parent context may already be cancelled,
	// and the close must still be attempted.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
	defer cancel()

	_, err := e.gw.SubmitOrder(closeCtx, exchange.OrderRequest{
		Symbol:      symbol,
		Side:        entrySide.Opposite(),
		Type:        exchange.OrderTypeMarket,
		Quantity:    qty,
		ReduceOnly:  true,
		OrderLinkID: journal.NewID(),
	})
	if err != nil {
		e.log.Critical("emergency close for %s FAILED: %v", symbol, err)
		return false
	}
	return true
}
