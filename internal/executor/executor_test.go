package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sentinelerrors "github.com/tradesafe/perp-sentinel/internal/errors"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/logger"
	"github.com/tradesafe/perp-sentinel/internal/risk"
	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// fakeGateway scripts order outcomes per request shape and records every
// submission.
type fakeGateway struct {
	limits     exchange.InstrumentLimits
	submitted  []exchange.OrderRequest
	submitErrs []error // consumed in order; nil means accept
	nextID     int
}

func (f *fakeGateway) GetName() string { return "fake" }

func (f *fakeGateway) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeGateway) GetOrderbookDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeGateway) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not scripted")
}

func (f *fakeGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeGateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return nil, nil
}

func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return nil, nil
}

func (f *fakeGateway) GetAccountEquity(ctx context.Context) (float64, error) { return 0, nil }

func (f *fakeGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	f.submitted = append(f.submitted, req)
	var err error
	if len(f.submitErrs) > 0 {
		err = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	f.nextID++
	return &exchange.OrderAck{OrderID: fmt.Sprintf("ord-%d", f.nextID), OrderLinkID: req.OrderLinkID}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (f *fakeGateway) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (f *fakeGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	limits := f.limits
	return &limits, nil
}

// precisionErr mimics a gateway precision rejection.
type precisionErr struct{}

func (precisionErr) Error() string            { return "qty invalid" }
func (precisionErr) PrecisionRejection() bool { return true }
func (precisionErr) ErrorCode() int           { return 110020 }

func newFake() *fakeGateway {
	return &fakeGateway{
		limits: exchange.InstrumentLimits{Symbol: "BTCUSDT", TickSize: 0.5, QtyStep: 0.001, MinQty: 0.001},
	}
}

func approvedIntent(t *testing.T) *risk.Approval {
	t.Helper()

	depth := &exchange.Depth{Symbol: "BTCUSDT"}
	for i := 0; i < 10; i++ {
		depth.Bids = append(depth.Bids, exchange.PriceLevel{Price: 49999, Quantity: 5})
		depth.Asks = append(depth.Asks, exchange.PriceLevel{Price: 50000, Quantity: 4})
	}
	snap := &risk.MarketSnapshot{
		Symbol:         "BTCUSDT",
		LastPrice:      50000,
		BestBid:        49999,
		BestAsk:        50000,
		QuoteVolume24h: 500_000_000,
		Depth:          depth,
		Timestamp:      time.Now(),
	}

	v := risk.NewValidator(risk.Config{
		MinVolumeUSD:    10_000_000,
		MaxSpreadPct:    0.0015,
		MaxFundingRate:  0.0004,
		MinImbalance:    0.05,
		OrderbookLevels: 10,
		MaxLossUSD:      200,
		Trend: func(side exchange.Side, s *risk.MarketSnapshot) (string, bool) {
			return "", true
		},
	})

	approval, err := v.Evaluate(risk.TradeIntent{
		Symbol:          "BTCUSDT",
		Side:            exchange.SideBuy,
		Leverage:        10,
		NotionalUSD:     2000,
		StopDistancePct: 0.01,
	}, snap)
	require.NoError(t, err)
	return approval
}

func newExecutor(gw exchange.Gateway, compound bool) *Executor {
	return New(gw, Config{
		ProtectionRetries: 2,
		ProtectionBackoff: time.Millisecond,
		UseCompoundOrders: compound,
		OrderTimeout:      time.Second,
	}, logger.NewNopLogger(), nil)
}

func TestExecuteRefusesWithoutApproval(t *testing.T) {
	gw := newFake()
	ex := newExecutor(gw, true)

	receipt, err := ex.Execute(context.Background(), nil)
	assert.Nil(t, receipt)
	assert.True(t, sentinelerrors.IsRiskBlocked(err))
	assert.Empty(t, gw.submitted, "a blocked intent must never reach the exchange")
}

func TestExecuteCompoundAttachesStopAtomically(t *testing.T) {
	gw := newFake()
	ex := newExecutor(gw, true)

	receipt, err := ex.Execute(context.Background(), approvedIntent(t))
	require.NoError(t, err)
	require.Len(t, gw.submitted, 1)

	req := gw.submitted[0]
	assert.Equal(t, exchange.SideBuy, req.Side)
	assert.Greater(t, req.StopLoss, 0.0, "compound entry must carry its stop")
	assert.True(t, receipt.Compound)
	assert.NotEmpty(t, receipt.EntryOrderID)
	assert.Empty(t, receipt.ProtectiveOrderID)
}

func TestExecuteFallbackPlacesEntryThenStop(t *testing.T) {
	gw := newFake()
	ex := newExecutor(gw, false)

	receipt, err := ex.Execute(context.Background(), approvedIntent(t))
	require.NoError(t, err)
	require.Len(t, gw.submitted, 2)

	entry, stop := gw.submitted[0], gw.submitted[1]
	assert.Equal(t, exchange.SideBuy, entry.Side)
	assert.Zero(t, entry.StopLoss)
	assert.Equal(t, exchange.SideSell, stop.Side)
	assert.True(t, stop.ReduceOnly)
	assert.Greater(t, stop.TriggerPrice, 0.0)
	assert.Equal(t, entry.Quantity, stop.Quantity)
	assert.NotEmpty(t, receipt.ProtectiveOrderID)
}

func TestExecuteFallbackRetriesProtectionThenRecovers(t *testing.T) {
	gw := newFake()
	// Entry ok, first stop attempt fails, second succeeds.
	gw.submitErrs = []error{nil, fmt.Errorf("exchange hiccup"), nil}
	ex := newExecutor(gw, false)

	receipt, err := ex.Execute(context.Background(), approvedIntent(t))
	require.NoError(t, err)
	assert.Len(t, gw.submitted, 3)
	assert.NotEmpty(t, receipt.ProtectiveOrderID)
}

func TestExecuteFallbackEmergencyClosesWhenProtectionFails(t *testing.T) {
	gw := newFake()
	// Entry ok, both stop attempts fail, emergency close succeeds.
	gw.submitErrs = []error{nil, fmt.Errorf("down"), fmt.Errorf("down"), nil}
	ex := newExecutor(gw, false)

	receipt, err := ex.Execute(context.Background(), approvedIntent(t))
	assert.Nil(t, receipt)

	var pf *sentinelerrors.ProtectionFailedError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.EmergencyClosed)
	assert.Equal(t, 2, pf.Attempts)
	assert.Equal(t, sentinelerrors.SeverityCritical, sentinelerrors.SeverityOf(err))

	// Last submission is the reduce-only market close on the opposite side.
	last := gw.submitted[len(gw.submitted)-1]
	assert.Equal(t, exchange.SideSell, last.Side)
	assert.True(t, last.ReduceOnly)
	assert.Zero(t, last.TriggerPrice)
}

func TestExecuteFallbackReportsFailedEmergencyClose(t *testing.T) {
	gw := newFake()
	gw.submitErrs = []error{nil, fmt.Errorf("down"), fmt.Errorf("down"), fmt.Errorf("down")}
	ex := newExecutor(gw, false)

	_, err := ex.Execute(context.Background(), approvedIntent(t))

	var pf *sentinelerrors.ProtectionFailedError
	require.ErrorAs(t, err, &pf)
	assert.False(t, pf.EmergencyClosed)
}

func TestExecuteEntryRejectionIsNotRetriedBlindly(t *testing.T) {
	gw := newFake()
	gw.submitErrs = []error{fmt.Errorf("insufficient balance")}
	ex := newExecutor(gw, true)

	_, err := ex.Execute(context.Background(), approvedIntent(t))
	assert.True(t, sentinelerrors.IsExchangeRejected(err))
	assert.Len(t, gw.submitted, 1, "a non-precision rejection gets no retry")
}

func TestExecuteEntryPrecisionRejectionRetriedOnce(t *testing.T) {
	gw := newFake()
	gw.submitErrs = []error{precisionErr{}, nil}
	ex := newExecutor(gw, true)

	receipt, err := ex.Execute(context.Background(), approvedIntent(t))
	require.NoError(t, err)
	assert.Len(t, gw.submitted, 2)
	assert.NotEmpty(t, receipt.EntryOrderID)

	// A second precision failure is final.
	gw2 := newFake()
	gw2.submitErrs = []error{precisionErr{}, precisionErr{}}
	ex2 := newExecutor(gw2, true)

	_, err = ex2.Execute(context.Background(), approvedIntent(t))
	var rejected *sentinelerrors.ExchangeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, rejected.Corrected)
	assert.Len(t, gw2.submitted, 2)
}

func TestExecuteRejectsDustQuantity(t *testing.T) {
	gw := newFake()
	gw.limits.MinQty = 1 // far above the 0.04 BTC the approval carries
	ex := newExecutor(gw, true)

	_, err := ex.Execute(context.Background(), approvedIntent(t))
	assert.True(t, sentinelerrors.IsRiskBlocked(err))
	assert.Empty(t, gw.submitted)
}
