package safety

import (
	"context"
	"time"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// GuardedGateway decorates an exchange.Gateway with rate limiting and API
// health tracking. Market-data reads respect the health cooldown (a broken
// API means stale data, and stale data is fail-closed anyway); order
// submission and cancellation always go through — the worst time to refuse
// a protective order is while the exchange is flapping.
type GuardedGateway struct {
	inner   exchange.Gateway
	limiter *RateLimiter
	health  *APIHealth
}

var _ exchange.Gateway = (*GuardedGateway)(nil)

// NewGuardedGateway wraps gw. Pass zero values to use defaults
// (120 req burst, 10 req/s refill, 5 failures, 30s cooldown).
func NewGuardedGateway(gw exchange.Gateway) *GuardedGateway {
	return &GuardedGateway{
		inner:   gw,
		limiter: NewRateLimiter(120, 10),
		health:  NewAPIHealth(5, 30*time.Second),
	}
}

// Health exposes the tracker for status reporting.
func (g *GuardedGateway) Health() *APIHealth { return g.health }

func (g *GuardedGateway) GetName() string { return g.inner.GetName() }

// read wraps a market-data call with the limiter and health tracker.
func (g *GuardedGateway) read(ctx context.Context, fn func() error) error {
	if err := g.health.Ready(); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		g.health.RecordFailure()
		return err
	}
	g.health.RecordSuccess()
	return nil
}

// critical wraps an order-path call: rate limited, health recorded, never
// refused by the breaker.
func (g *GuardedGateway) critical(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		g.health.RecordFailure()
	} else {
		g.health.RecordSuccess()
	}
	return err
}

func (g *GuardedGateway) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	var out *exchange.Ticker
	err := g.read(ctx, func() error {
		var err error
		out, err = g.inner.GetTicker(ctx, symbol)
		return err
	})
	return out, err
}

func (g *GuardedGateway) GetOrderbookDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	var out *exchange.Depth
	err := g.read(ctx, func() error {
		var err error
		out, err = g.inner.GetOrderbookDepth(ctx, symbol)
		return err
	})
	return out, err
}

func (g *GuardedGateway) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	var out float64
	err := g.read(ctx, func() error {
		var err error
		out, err = g.inner.GetFundingRate(ctx, symbol)
		return err
	})
	return out, err
}

func (g *GuardedGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	var out []types.OHLCV
	err := g.read(ctx, func() error {
		var err error
		out, err = g.inner.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return out, err
}

// Position, order and equity queries feed safety decisions; they are
// critical-path reads and skip the cooldown.
func (g *GuardedGateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	var out []exchange.Position
	err := g.critical(ctx, func() error {
		var err error
		out, err = g.inner.GetPositions(ctx)
		return err
	})
	return out, err
}

func (g *GuardedGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var out []exchange.Order
	err := g.critical(ctx, func() error {
		var err error
		out, err = g.inner.GetOpenOrders(ctx, symbol)
		return err
	})
	return out, err
}

func (g *GuardedGateway) GetAccountEquity(ctx context.Context) (float64, error) {
	var out float64
	err := g.critical(ctx, func() error {
		var err error
		out, err = g.inner.GetAccountEquity(ctx)
		return err
	})
	return out, err
}

func (g *GuardedGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	var out *exchange.OrderAck
	err := g.critical(ctx, func() error {
		var err error
		out, err = g.inner.SubmitOrder(ctx, req)
		return err
	})
	return out, err
}

func (g *GuardedGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.critical(ctx, func() error {
		return g.inner.CancelOrder(ctx, symbol, orderID)
	})
}

func (g *GuardedGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return g.critical(ctx, func() error {
		return g.inner.CancelAllOrders(ctx, symbol)
	})
}

func (g *GuardedGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	var out *exchange.InstrumentLimits
	err := g.critical(ctx, func() error {
		var err error
		out, err = g.inner.GetInstrumentLimits(ctx, symbol)
		return err
	})
	return out, err
}
