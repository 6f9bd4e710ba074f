package bybit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
)

// formatFloat renders a float the way the API expects: shortest exact
// decimal representation, no exponent.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SubmitOrder submits an order. Entry orders are sent exactly once with no
// retry; correcting and re-submitting a rejected entry is the caller's
// decision, never this layer's.
func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if req.Type == exchange.OrderTypeLimit && req.Price <= 0 {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	params := map[string]interface{}{
		"category":  g.category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"qty":       formatFloat(req.Quantity),
	}

	if req.Price > 0 {
		params["price"] = formatFloat(req.Price)
	}
	if req.TriggerPrice > 0 {
		params["triggerPrice"] = formatFloat(req.TriggerPrice)
		// 1 = trigger when price rises to triggerPrice, 2 = falls to it.
		// A stop that sells triggers on the way down, one that buys on the
		// way up.
		if req.Side == exchange.SideSell {
			params["triggerDirection"] = 2
		} else {
			params["triggerDirection"] = 1
		}
		params["triggerBy"] = "MarkPrice"
	}
	if req.StopLoss > 0 {
		params["stopLoss"] = formatFloat(req.StopLoss)
		params["slTriggerBy"] = "MarkPrice"
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.PostOnly {
		params["timeInForce"] = "PostOnly"
	}
	if req.OrderLinkID != "" {
		params["orderLinkId"] = req.OrderLinkID
	}

	resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var result orderAckResult
	if err := parseResult(resp, &result); err != nil {
		return nil, err
	}

	return &exchange.OrderAck{
		OrderID:     result.OrderID,
		OrderLinkID: result.OrderLinkID,
	}, nil
}

// CancelOrder cancels an order. An order that is already filled or cancelled
// is treated as success: the caller wanted it gone and it is.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		var result orderAckResult
		return parseResult(resp, &result)
	})
	if IsOrderNotFoundError(err) {
		return nil
	}
	return err
}

// CancelAllOrders cancels every open order for symbol.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	return g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel all orders: %w", err)
		}
		return ParseAPIError(resp.RetCode, resp.RetMsg)
	})
}

// GetOpenOrders returns the open and untriggered orders for symbol.
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"openOnly": 0,
	}

	var result orderListResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to get open orders: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(result.List))
	for _, o := range result.List {
		orders = append(orders, exchange.Order{
			ID:           o.OrderID,
			LinkID:       o.OrderLinkID,
			Symbol:       o.Symbol,
			Side:         exchange.Side(o.Side),
			Type:         exchange.OrderType(o.OrderType),
			Quantity:     parseFloat64(o.Qty),
			Price:        parseFloat64(o.Price),
			TriggerPrice: parseFloat64(o.TriggerPrice),
			ReduceOnly:   o.ReduceOnly,
			Status:       exchange.OrderStatus(o.OrderStatus),
			CreatedTime:  parseTimestamp(o.CreatedTime),
		})
	}

	return orders, nil
}

// GetPositions returns all non-flat linear positions in canonical form:
// quantity always positive, direction carried by Side.
func (g *Gateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	params := map[string]interface{}{
		"category":   g.category,
		"settleCoin": "USDT",
	}

	var result positionResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return fmt.Errorf("failed to get positions: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(result.List))
	for _, p := range result.List {
		size := parseFloat64(p.Size)
		if size == 0 || p.Side == "" {
			continue
		}
		side := exchange.PositionLong
		if p.Side == "Sell" {
			side = exchange.PositionShort
		}
		positions = append(positions, exchange.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      size,
			EntryPrice:    parseFloat64(p.AvgPrice),
			MarkPrice:     parseFloat64(p.MarkPrice),
			UnrealizedPnl: parseFloat64(p.UnrealisedPnl),
			Leverage:      parseFloat64(p.Leverage),
		})
	}

	return positions, nil
}
