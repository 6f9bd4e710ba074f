package guardian

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradesafe/perp-sentinel/internal/budget"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/indicators"
	"github.com/tradesafe/perp-sentinel/internal/journal"
	"github.com/tradesafe/perp-sentinel/internal/logger"
	"github.com/tradesafe/perp-sentinel/internal/monitoring"
)

// Config holds the supervision loop settings.
type Config struct {
	Interval    time.Duration // supervision cycle period
	StepTimeout time.Duration // per-step deadline within a cycle

	MaxProtectionFails int // consecutive stop insert failures before market close

	BreakevenTriggerPct float64 // unleveraged gain that moves the stop to breakeven
	TrailActivatePct    float64 // unleveraged gain that starts trailing
	FeeBufferPct        float64 // breakeven offset covering fees
	TrailDistancePct    float64 // distance kept below the high-water mark while trailing
	EmergencyStopPct    float64 // stop distance used when repairing protection

	TrendInterval  string // kline interval for the trend flag
	TrendEMAPeriod int
	TrendBreachPct float64 // breach below the EMA that flips defensive mode

	Symbols []string // symbols watched for the trend flag
}

// Guardian is the independent supervisor backstopping every open position,
// including ones opened by other tools. It runs one periodic loop; each
// cycle audits protection, checks trend integrity, ratchets profitable
// stops, and enforces the session loss budget.
type Guardian struct {
	gw      exchange.Gateway
	cfg     Config
	log     *logger.Logger
	journal journal.Recorder
	budget  *budget.Store
	metrics *monitoring.Metrics

	mu     sync.Mutex
	states map[string]*SymbolState

	// recovered holds stop prices from replacement intents found at start:
	// a crash mid cancel-then-place left these symbols possibly bare.
	recovered map[string]float64

	defensive atomic.Bool

	// onKill runs after panic-close-all completes. The cmd layer uses it to
	// terminate the process.
	onKill func()

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a guardian. onKill may be nil.
func New(gw exchange.Gateway, cfg Config, log *logger.Logger, rec journal.Recorder, bud *budget.Store, metrics *monitoring.Metrics, onKill func()) *Guardian {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.MaxProtectionFails <= 0 {
		cfg.MaxProtectionFails = 2
	}
	if rec == nil {
		rec = journal.NopRecorder{}
	}
	return &Guardian{
		gw:        gw,
		cfg:       cfg,
		log:       log,
		journal:   rec,
		budget:    bud,
		metrics:   metrics,
		states:    make(map[string]*SymbolState),
		recovered: make(map[string]float64),
		onKill:    onKill,
	}
}

// Defensive reports whether the trend-integrity check has flagged a severe
// breach. Other components may consult it to shrink new exposure; the
// guardian itself never touches existing protection because of it.
func (g *Guardian) Defensive() bool {
	return g.defensive.Load()
}

// Start launches the periodic loop. Dangling stop-replacement intents from
// a previous crash are loaded first so the opening audit treats those
// symbols as unprotected.
func (g *Guardian) Start(ctx context.Context) error {
	if g.started {
		return fmt.Errorf("guardian already started")
	}
	g.started = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})

	intents, err := g.journal.PendingStopReplaces()
	if err != nil {
		g.log.Error("failed to load pending stop replacements: %v", err)
	}
	for _, intent := range intents {
		g.log.Critical("found interrupted stop replacement for %s (intended stop %.4f), will re-protect", intent.Symbol, intent.NewStop)
		g.recovered[intent.Symbol] = intent.NewStop
	}

	go g.run(ctx)
	return nil
}

// Stop halts the loop and waits for the current cycle to finish.
func (g *Guardian) Stop() {
	if !g.started {
		return
	}
	close(g.stopCh)
	<-g.doneCh
	g.started = false
}

func (g *Guardian) run(ctx context.Context) {
	defer close(g.doneCh)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	// First cycle immediately: the initial state of every position must be
	// derived from a live query, never assumed safe.
	g.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Tick runs one supervision cycle. Exported so tests can advance the
// guardian deterministically instead of sleeping. Every step is separately
// time-bounded and its failure only logged: one slow or failed call never
// starves the budget check at the end of the cycle.
func (g *Guardian) Tick(ctx context.Context) {
	if g.budget != nil && g.budget.KillTriggered() {
		// Session is dead. Nothing left to supervise.
		return
	}

	if err := g.step(ctx, g.auditProtection); err != nil {
		g.log.Error("protection audit failed: %v", err)
		g.countStepError("audit")
	}
	if err := g.step(ctx, g.checkTrend); err != nil {
		g.log.Error("trend check failed: %v", err)
		g.countStepError("trend")
	}
	if err := g.step(ctx, g.ratchetStops); err != nil {
		g.log.Error("profit ratchet failed: %v", err)
		g.countStepError("ratchet")
	}
	if err := g.step(ctx, g.checkBudget); err != nil {
		g.log.Error("budget check failed: %v", err)
		g.countStepError("budget")
	}
}

func (g *Guardian) step(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, g.cfg.StepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (g *Guardian) countStepError(step string) {
	if g.metrics != nil {
		g.metrics.GuardianStepErrors.WithLabelValues(step).Inc()
	}
}

// auditProtection verifies every open position has a live opposite-side
// stop, inserting an emergency one where missing. Two consecutive failed
// insertions escalate to a market close: that is the only way an
// unprotected position is allowed to leave the book.
func (g *Guardian) auditProtection(ctx context.Context) error {
	positions, err := g.gw.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}

	active := make(map[string]bool, len(positions))
	for _, pos := range positions {
		active[pos.Symbol] = true
		if err := g.auditPosition(ctx, pos); err != nil {
			g.log.Error("audit of %s failed: %v", pos.Symbol, err)
		}
	}

	// Positions no longer on the exchange are closed; their state is
	// terminal and the monotonic baseline is dropped.
	g.mu.Lock()
	for symbol, st := range g.states {
		if !active[symbol] && st.State != StateClosed {
			st.State = StateClosed
			st.LastStopPrice = 0
			st.TrailHigh = 0
			st.InsertFailures = 0
			g.log.Guard("%s position closed", symbol)
		}
	}
	g.mu.Unlock()
	g.publishStates()

	return nil
}

func (g *Guardian) auditPosition(ctx context.Context, pos exchange.Position) error {
	orders, err := g.gw.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("order query: %w", err)
	}

	var live *exchange.Order
	protective := 0
	for i := range orders {
		if orders[i].ProtectsPosition(pos.Side) {
			protective++
			if live == nil {
				live = &orders[i]
			}
		}
	}
	if protective > 1 {
		// An external tool left extra stops behind. Not pruned: a
		// redundant stop is safe, but the anomaly is surfaced.
		g.log.Warning("%s has %d protective stops live, expected one; ratcheting against %s", pos.Symbol, protective, live.ID)
		g.journal.Record(journal.NewEvent(pos.Symbol, journal.KindProtection,
			fmt.Sprintf("%d protective stops live, expected one", protective)))
	}

	g.mu.Lock()
	st := g.state(pos.Symbol)
	if st.State == StateClosed {
		// A fresh position reusing a symbol that closed earlier.
		*st = SymbolState{State: StateUnprotected}
	}

	if live != nil {
		if st.State != StateRatcheting {
			st.State = StateProtected
		}
		if st.LastStopPrice == 0 {
			// Adopt the live stop as the ratchet baseline.
			st.LastStopPrice = live.TriggerPrice
		}
		st.InsertFailures = 0
		g.mu.Unlock()

		// An interrupted replacement resolved itself: the old stop is live.
		if _, ok := g.recovered[pos.Symbol]; ok {
			delete(g.recovered, pos.Symbol)
			g.journal.FinishStopReplace(pos.Symbol)
		}
		return nil
	}

	st.State = StateUnprotected
	g.mu.Unlock()

	return g.repairProtection(ctx, pos)
}

// repairProtection inserts an emergency stop for a bare position, or closes
// the position outright once insertions have failed too often.
func (g *Guardian) repairProtection(ctx context.Context, pos exchange.Position) error {
	stopPrice, hadIntent := g.recovered[pos.Symbol]
	if !hadIntent {
		if pos.Side == exchange.PositionLong {
			stopPrice = pos.MarkPrice * (1 - g.cfg.EmergencyStopPct)
		} else {
			stopPrice = pos.MarkPrice * (1 + g.cfg.EmergencyStopPct)
		}
	}

	g.mu.Lock()
	st := g.state(pos.Symbol)
	st.State = StateProtecting
	g.mu.Unlock()

	g.log.Critical("%s position (%s %.8f) has no protection, inserting stop at %.4f", pos.Symbol, pos.Side, pos.Quantity, stopPrice)

	_, err := g.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         pos.Side.CloseSide(),
		Type:         exchange.OrderTypeMarket,
		Quantity:     pos.Quantity,
		TriggerPrice: stopPrice,
		ReduceOnly:   true,
		OrderLinkID:  journal.NewID(),
	})
	if err == nil {
		g.mu.Lock()
		st.State = StateProtected
		st.LastStopPrice = stopPrice
		st.InsertFailures = 0
		g.mu.Unlock()

		if hadIntent {
			delete(g.recovered, pos.Symbol)
			g.journal.FinishStopReplace(pos.Symbol)
		}
		g.journal.Record(journal.NewEvent(pos.Symbol, journal.KindProtection,
			fmt.Sprintf("emergency stop inserted at %.4f", stopPrice)))
		return nil
	}

	g.mu.Lock()
	st.InsertFailures++
	failures := st.InsertFailures
	g.mu.Unlock()

	g.log.Critical("emergency stop insertion for %s failed (%d/%d): %v", pos.Symbol, failures, g.cfg.MaxProtectionFails, err)

	if failures < g.cfg.MaxProtectionFails {
		return nil
	}

	return g.closeUnprotected(ctx, pos)
}

// closeUnprotected market-closes a position that could not be protected.
func (g *Guardian) closeUnprotected(ctx context.Context, pos exchange.Position) error {
	g.mu.Lock()
	g.state(pos.Symbol).State = StateClosing
	g.mu.Unlock()

	g.log.Critical("closing unprotected %s position after repeated insertion failures", pos.Symbol)

	_, err := g.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        pos.Side.CloseSide(),
		Type:        exchange.OrderTypeMarket,
		Quantity:    pos.Quantity,
		ReduceOnly:  true,
		OrderLinkID: journal.NewID(),
	})
	if err != nil {
		return fmt.Errorf("market close of unprotected %s failed: %w", pos.Symbol, err)
	}

	if g.metrics != nil {
		g.metrics.EmergencyCloses.Inc()
	}
	g.journal.Record(journal.NewEvent(pos.Symbol, journal.KindEmergencyClose,
		"unprotected position closed after failed stop insertions"))
	return nil
}

// checkTrend compares each watched symbol's price against its long EMA and
// flips the defensive flag on a severe breach. Existing positions'
// protection is untouched; the flag only advises components opening new
// exposure.
func (g *Guardian) checkTrend(ctx context.Context) error {
	breached := false
	var firstErr error

	for _, symbol := range g.cfg.Symbols {
		candles, err := g.gw.GetKlines(ctx, symbol, g.cfg.TrendInterval, g.cfg.TrendEMAPeriod*3)
		if err != nil {
			// One symbol's failed fetch must not mask a breach in the
			// others; check the rest and report the failure afterwards.
			g.log.Error("trend klines for %s failed: %v", symbol, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("klines for %s: %w", symbol, err)
			}
			continue
		}
		if len(candles) == 0 {
			continue
		}

		ema := indicators.NewEMA(g.cfg.TrendEMAPeriod)
		value, err := ema.Calculate(candles)
		if err != nil {
			continue
		}

		last := candles[len(candles)-1].Close
		if last < value*(1-g.cfg.TrendBreachPct) {
			g.log.Guard("%s trading %.2f%% below EMA%d, defensive mode on", symbol, (1-last/value)*100, g.cfg.TrendEMAPeriod)
			breached = true
		}
	}

	g.defensive.Store(breached)
	if g.metrics != nil {
		g.metrics.SetDefensive(breached)
	}
	return firstErr
}

// ratchetStops tightens stops on profitable positions. Replacements are
// monotonic against the guardian's own cached baseline: a candidate that is
// not strictly more favorable than the last known stop is discarded, so
// races between queries can never loosen protection.
func (g *Guardian) ratchetStops(ctx context.Context) error {
	positions, err := g.gw.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}

	for _, pos := range positions {
		if err := g.ratchetPosition(ctx, pos); err != nil {
			g.log.Error("ratchet of %s failed: %v", pos.Symbol, err)
		}
	}
	return nil
}

func (g *Guardian) ratchetPosition(ctx context.Context, pos exchange.Position) error {
	roe := pos.ROE()

	g.mu.Lock()
	st := g.state(pos.Symbol)
	if st.State != StateProtected && st.State != StateRatcheting {
		g.mu.Unlock()
		return nil
	}
	if roe > st.TrailHigh {
		st.TrailHigh = roe
	}
	baseline := st.LastStopPrice
	trailHigh := st.TrailHigh
	g.mu.Unlock()

	if baseline == 0 {
		// No adopted stop yet; the audit step owns first protection.
		return nil
	}

	candidate := g.candidateStop(pos, roe, trailHigh)
	if candidate == 0 || !moreFavorable(pos.Side, candidate, baseline) {
		return nil
	}

	return g.replaceStop(ctx, pos, candidate)
}

// candidateStop computes the tightest stop the current profit justifies:
// breakeven plus fees once past the breakeven trigger, then a trail below
// the high-water mark once trailing activates.
func (g *Guardian) candidateStop(pos exchange.Position, roe, trailHigh float64) float64 {
	long := pos.Side == exchange.PositionLong

	if trailHigh >= g.cfg.TrailActivatePct {
		offset := trailHigh - g.cfg.TrailDistancePct
		if long {
			return pos.EntryPrice * (1 + offset)
		}
		return pos.EntryPrice * (1 - offset)
	}

	if roe >= g.cfg.BreakevenTriggerPct {
		if long {
			return pos.EntryPrice * (1 + g.cfg.FeeBufferPct)
		}
		return pos.EntryPrice * (1 - g.cfg.FeeBufferPct)
	}

	return 0
}

// moreFavorable reports whether candidate is strictly tighter than current
// for the given direction: higher for longs, lower for shorts.
func moreFavorable(side exchange.PositionSide, candidate, current float64) bool {
	if side == exchange.PositionLong {
		return candidate > current
	}
	return candidate < current
}

// replaceStop performs the cancel-then-place replacement. The replacement
// intent is journalled before the cancel so a crash inside the window is
// detected and repaired on restart; the intent clears only after the new
// stop is confirmed accepted.
func (g *Guardian) replaceStop(ctx context.Context, pos exchange.Position, newStop float64) error {
	orders, err := g.gw.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("order query: %w", err)
	}

	var current *exchange.Order
	for i := range orders {
		if orders[i].ProtectsPosition(pos.Side) {
			current = &orders[i]
			break
		}
	}
	if current == nil {
		// The stop vanished between audit and ratchet; the next audit
		// re-protects. Nothing to tighten.
		return nil
	}

	intent := journal.ReplaceIntent{
		Symbol:     pos.Symbol,
		OldOrderID: current.ID,
		NewStop:    newStop,
		Created:    time.Now(),
	}
	if err := g.journal.BeginStopReplace(intent); err != nil {
		// Without the durable record a crash mid-replacement would be
		// invisible. Skip the tightening rather than open the gap.
		return fmt.Errorf("journal replace intent: %w", err)
	}

	if err := g.gw.CancelOrder(ctx, pos.Symbol, current.ID); err != nil {
		g.journal.FinishStopReplace(pos.Symbol)
		return fmt.Errorf("cancel stop %s: %w", current.ID, err)
	}

	_, err = g.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         pos.Side.CloseSide(),
		Type:         exchange.OrderTypeMarket,
		Quantity:     pos.Quantity,
		TriggerPrice: newStop,
		ReduceOnly:   true,
		OrderLinkID:  journal.NewID(),
	})
	if err != nil {
		// Old stop cancelled, new one refused: the position is bare. Flag
		// it so the next audit repairs at the intended price, and keep the
		// journal intent for crash recovery.
		g.mu.Lock()
		g.state(pos.Symbol).State = StateUnprotected
		g.mu.Unlock()
		g.recovered[pos.Symbol] = newStop

		g.log.Critical("stop replacement for %s failed after cancel, position bare until next audit: %v", pos.Symbol, err)
		return fmt.Errorf("place replacement stop: %w", err)
	}

	g.journal.FinishStopReplace(pos.Symbol)

	g.mu.Lock()
	st := g.state(pos.Symbol)
	st.LastStopPrice = newStop
	st.State = StateRatcheting
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.StopRatchets.Inc()
	}
	g.journal.Record(journal.NewEvent(pos.Symbol, journal.KindRatchet,
		fmt.Sprintf("stop tightened to %.4f", newStop)))
	g.log.Guard("%s stop ratcheted to %.4f", pos.Symbol, newStop)
	g.publishStates()

	return nil
}

// checkBudget updates the session loss from live equity and fires the
// kill-switch when the cap is breached. The kill fires exactly once per
// session; a later breach check finds killTriggered set and does nothing.
func (g *Guardian) checkBudget(ctx context.Context) error {
	if g.budget == nil {
		return nil
	}

	equity, err := g.gw.GetAccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("equity query: %w", err)
	}

	if err := g.budget.SetStartEquity(equity); err != nil {
		return fmt.Errorf("persist start equity: %w", err)
	}

	loss, err := g.budget.UpdateLoss(equity)
	if err != nil {
		return fmt.Errorf("persist session loss: %w", err)
	}
	if g.metrics != nil {
		g.metrics.SessionLoss.Set(loss)
	}

	if !g.budget.Exceeded() || g.budget.KillTriggered() {
		return nil
	}

	snap := g.budget.Snapshot()
	g.log.Critical("session loss $%.2f breached limit $%.2f, firing kill-switch", loss, snap.LossLimit())

	g.panicCloseAll(ctx)

	if err := g.budget.TriggerKill(); err != nil {
		return fmt.Errorf("persist kill: %w", err)
	}
	if g.metrics != nil {
		g.metrics.SetKilled(true)
	}
	g.journal.Record(journal.NewEvent("", journal.KindKillSwitch,
		fmt.Sprintf("loss $%.2f > limit $%.2f, all positions closed", loss, snap.LossLimit())))

	if g.onKill != nil {
		g.onKill()
	}
	return nil
}

// panicCloseAll cancels every open order and market-closes every position.
// Runs on its own deadline: the kill path must complete even if the cycle's
// step budget is spent.
func (g *Guardian) panicCloseAll(ctx context.Context) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*g.cfg.StepTimeout)
	defer cancel()

	positions, err := g.gw.GetPositions(killCtx)
	if err != nil {
		g.log.Critical("kill-switch position query failed, cancelling watched symbols blind: %v", err)
	}

	symbols := make(map[string]bool)
	for _, s := range g.cfg.Symbols {
		symbols[s] = true
	}
	for _, p := range positions {
		symbols[p.Symbol] = true
	}

	for symbol := range symbols {
		if err := g.gw.CancelAllOrders(killCtx, symbol); err != nil {
			g.log.Critical("kill-switch cancel for %s failed: %v", symbol, err)
		}
	}

	for _, pos := range positions {
		_, err := g.gw.SubmitOrder(killCtx, exchange.OrderRequest{
			Symbol:      pos.Symbol,
			Side:        pos.Side.CloseSide(),
			Type:        exchange.OrderTypeMarket,
			Quantity:    pos.Quantity,
			ReduceOnly:  true,
			OrderLinkID: journal.NewID(),
		})
		if err != nil {
			g.log.Critical("kill-switch close of %s failed: %v", pos.Symbol, err)
			continue
		}
		g.mu.Lock()
		g.state(pos.Symbol).State = StateClosing
		g.mu.Unlock()
	}
	g.publishStates()
}

func (g *Guardian) publishStates() {
	if g.metrics == nil {
		return
	}
	for symbol, st := range g.snapshotStates() {
		g.metrics.SetProtectionState(symbol, string(st.State))
	}
}
