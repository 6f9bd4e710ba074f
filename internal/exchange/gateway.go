package exchange

import (
	"context"
	"time"

	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// Gateway is the only surface through which the safety core talks to the
// exchange. Every read is a live query; nothing returned here is cached as
// authoritative state by callers.
type Gateway interface {
	GetName() string

	// Market data
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderbookDepth(ctx context.Context, symbol string) (*Depth, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)

	// Account state
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetAccountEquity(ctx context.Context) (float64, error)

	// Trading
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetInstrumentLimits(ctx context.Context, symbol string) (*InstrumentLimits, error)
}

// Side is an order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the canonical direction of a position. Exchange responses
// vary (signed quantity vs side string); the bybit package normalizes to this
// form at the boundary so ambiguity never leaks into risk or guardian logic.
type PositionSide string

const (
	PositionLong  PositionSide = "Long"
	PositionShort PositionSide = "Short"
)

// CloseSide returns the order side that reduces a position of this direction.
func (p PositionSide) CloseSide() Side {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// EntrySide returns the order side that opens a position of this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionLong {
		return SideBuy
	}
	return SideSell
}

// OrderType mirrors the exchange's order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "New"
	OrderStatusFilled    OrderStatus = "Filled"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusRejected  OrderStatus = "Rejected"
	OrderStatusUntriggered OrderStatus = "Untriggered"
)

// Ticker is a live top-of-market snapshot.
type Ticker struct {
	Symbol         string
	LastPrice      float64
	BestBid        float64
	BestAsk        float64
	QuoteVolume24h float64
	Timestamp      time.Time
}

// PriceLevel is one level of the order book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// Depth is the top of the order book, best levels first.
type Depth struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// Position is the canonical position representation. Quantity is always
// positive; direction is carried by Side.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	Leverage      float64
}

// ROE returns the unleveraged return of the position at its mark price.
func (p Position) ROE() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == PositionLong {
		return (p.MarkPrice - p.EntryPrice) / p.EntryPrice
	}
	return (p.EntryPrice - p.MarkPrice) / p.EntryPrice
}

// Order is an open order as reported by the exchange.
type Order struct {
	ID           string
	LinkID       string
	Symbol       string
	Side         Side
	Type         OrderType
	Quantity     float64
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	Status       OrderStatus
	CreatedTime  time.Time
}

// IsStop reports whether the order is a stop-style trigger order. Some
// exchanges report stop markets as Market orders with a trigger price.
func (o Order) IsStop() bool {
	return o.TriggerPrice > 0
}

// ProtectsPosition reports whether this order is a live protective stop for a
// position of the given side: opposite side, trigger set, not yet filled.
func (o Order) ProtectsPosition(side PositionSide) bool {
	if !o.IsStop() {
		return false
	}
	if o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled || o.Status == OrderStatusRejected {
		return false
	}
	return o.Side == side.CloseSide()
}

// OrderRequest is a submission request. StopLoss, when set on a market or
// limit entry, asks the exchange to attach the protective trigger atomically
// (compound order); exchanges without support ignore it and the caller must
// place the protection itself.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Quantity     float64
	Price        float64 // limit orders only
	TriggerPrice float64 // stop orders: trigger for the market/limit leg
	StopLoss     float64 // compound orders: attached protective stop
	ReduceOnly   bool
	PostOnly     bool
	OrderLinkID  string
}

// OrderAck is the exchange's acknowledgement of a submission.
type OrderAck struct {
	OrderID     string
	OrderLinkID string
}

// InstrumentLimits carries the precision constraints needed to correct a
// rejected entry before the single permitted re-submission.
type InstrumentLimits struct {
	Symbol      string
	TickSize    float64
	QtyStep     float64
	MinQty      float64
	MaxLeverage float64
}

// RoundToTick rounds price down to the instrument's tick size.
func (l InstrumentLimits) RoundToTick(price float64) float64 {
	if l.TickSize <= 0 {
		return price
	}
	ticks := int64(price / l.TickSize)
	return float64(ticks) * l.TickSize
}

// RoundToStep rounds quantity down to the instrument's quantity step.
func (l InstrumentLimits) RoundToStep(qty float64) float64 {
	if l.QtyStep <= 0 {
		return qty
	}
	steps := int64(qty / l.QtyStep)
	return float64(steps) * l.QtyStep
}
