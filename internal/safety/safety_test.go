package safety

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/pkg/types"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(3, 1)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst spent, no refill yet")
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAPIHealthOpensAfterThreshold(t *testing.T) {
	h := NewAPIHealth(3, time.Minute)

	h.RecordFailure()
	h.RecordFailure()
	assert.NoError(t, h.Ready(), "below the threshold calls proceed")

	h.RecordFailure()
	assert.Equal(t, HealthCooling, h.State())
	assert.Error(t, h.Ready())
}

func TestAPIHealthProbesAfterCooldown(t *testing.T) {
	h := NewAPIHealth(1, 10*time.Millisecond)
	h.RecordFailure()
	require.Error(t, h.Ready())

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, h.Ready(), "cooldown elapsed, one probe allowed")
	assert.Equal(t, HealthProbing, h.State())

	// A failed probe re-opens the cooldown immediately.
	h.RecordFailure()
	assert.Equal(t, HealthCooling, h.State())
	assert.Error(t, h.Ready())
}

func TestAPIHealthSuccessClearsStreak(t *testing.T) {
	h := NewAPIHealth(3, time.Minute)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordSuccess()
	h.RecordFailure()
	h.RecordFailure()
	assert.Equal(t, HealthOK, h.State(), "the streak is consecutive, not cumulative")
}

// flakyGateway fails every call until healed.
type flakyGateway struct {
	healthy bool
	calls   int
}

func (f *flakyGateway) result() error {
	f.calls++
	if !f.healthy {
		return fmt.Errorf("exchange down")
	}
	return nil
}

func (f *flakyGateway) GetName() string { return "flaky" }

func (f *flakyGateway) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol}, f.result()
}

func (f *flakyGateway) GetOrderbookDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	return nil, f.result()
}

func (f *flakyGateway) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, f.result()
}

func (f *flakyGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	return nil, f.result()
}

func (f *flakyGateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return nil, f.result()
}

func (f *flakyGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return nil, f.result()
}

func (f *flakyGateway) GetAccountEquity(ctx context.Context) (float64, error) {
	return 0, f.result()
}

func (f *flakyGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	return &exchange.OrderAck{OrderID: "ord-1"}, f.result()
}

func (f *flakyGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return f.result()
}

func (f *flakyGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return f.result()
}

func (f *flakyGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	return nil, f.result()
}

func TestGuardedGatewayCoolsMarketDataReads(t *testing.T) {
	inner := &flakyGateway{}
	g := &GuardedGateway{
		inner:   inner,
		limiter: NewRateLimiter(1000, 1000),
		health:  NewAPIHealth(2, time.Minute),
	}
	ctx := context.Background()

	_, err := g.GetTicker(ctx, "BTCUSDT")
	require.Error(t, err)
	_, err = g.GetTicker(ctx, "BTCUSDT")
	require.Error(t, err)
	require.Equal(t, HealthCooling, g.Health().State())

	// Cooling: market-data reads are refused without touching the exchange.
	calls := inner.calls
	_, err = g.GetTicker(ctx, "BTCUSDT")
	assert.Error(t, err)
	assert.Equal(t, calls, inner.calls, "a cooling breaker short-circuits the read")
}

func TestGuardedGatewayNeverRefusesOrderPath(t *testing.T) {
	inner := &flakyGateway{}
	g := &GuardedGateway{
		inner:   inner,
		limiter: NewRateLimiter(1000, 1000),
		health:  NewAPIHealth(1, time.Minute),
	}
	ctx := context.Background()

	_, err := g.GetTicker(ctx, "BTCUSDT")
	require.Error(t, err)
	require.Equal(t, HealthCooling, g.Health().State())

	// The breaker is open, yet protective calls still reach the exchange.
	calls := inner.calls
	g.SubmitOrder(ctx, exchange.OrderRequest{Symbol: "BTCUSDT"})
	g.CancelOrder(ctx, "BTCUSDT", "ord-1")
	g.GetPositions(ctx)
	assert.Equal(t, calls+3, inner.calls, "order-path calls are never refused by the breaker")
}

func TestGuardedGatewayRecovers(t *testing.T) {
	inner := &flakyGateway{}
	g := &GuardedGateway{
		inner:   inner,
		limiter: NewRateLimiter(1000, 1000),
		health:  NewAPIHealth(1, 5*time.Millisecond),
	}
	ctx := context.Background()

	_, err := g.GetTicker(ctx, "BTCUSDT")
	require.Error(t, err)

	inner.healthy = true
	time.Sleep(10 * time.Millisecond)

	_, err = g.GetTicker(ctx, "BTCUSDT")
	assert.NoError(t, err, "the probe succeeds and the breaker closes")
	assert.Equal(t, HealthOK, g.Health().State())
}
