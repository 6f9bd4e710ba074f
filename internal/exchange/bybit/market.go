package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// parseResult checks the API retCode and decodes the result payload into out.
func parseResult(resp *bybit_api.ServerResponse, out interface{}) error {
	if err := ParseAPIError(resp.RetCode, resp.RetMsg); err != nil {
		return err
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// GetTicker returns a live top-of-market snapshot for symbol.
func (g *Gateway) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	var result tickerResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return fmt.Errorf("failed to get ticker: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, fmt.Errorf("no ticker data for %s", symbol)
	}

	t := result.List[0]
	return &exchange.Ticker{
		Symbol:         t.Symbol,
		LastPrice:      parseFloat64(t.LastPrice),
		BestBid:        parseFloat64(t.Bid1Price),
		BestAsk:        parseFloat64(t.Ask1Price),
		QuoteVolume24h: parseFloat64(t.Turnover24h),
		Timestamp:      time.Now(),
	}, nil
}

// GetOrderbookDepth returns the top of the order book, best levels first.
func (g *Gateway) GetOrderbookDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"limit":    25,
	}

	var result orderbookResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to get orderbook: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	depth := &exchange.Depth{Symbol: symbol}
	for _, level := range result.Bids {
		if len(level) < 2 {
			continue
		}
		depth.Bids = append(depth.Bids, exchange.PriceLevel{
			Price:    parseFloat64(level[0]),
			Quantity: parseFloat64(level[1]),
		})
	}
	for _, level := range result.Asks {
		if len(level) < 2 {
			continue
		}
		depth.Asks = append(depth.Asks, exchange.PriceLevel{
			Price:    parseFloat64(level[0]),
			Quantity: parseFloat64(level[1]),
		})
	}

	return depth, nil
}

// GetFundingRate returns the current funding rate for symbol. The linear
// ticker carries the rate, so this is a single call rather than a separate
// funding history query.
func (g *Gateway) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	var result tickerResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return fmt.Errorf("failed to get funding rate: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return 0, err
	}

	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}

	return parseFloat64(result.List[0].FundingRate), nil
}

// GetKlines fetches candles for symbol, oldest first. interval uses Bybit's
// notation ("1", "5", "60", "240", "D").
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}

	var result klineResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return fmt.Errorf("failed to get klines: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	// Bybit returns newest first; flip to chronological order.
	klines := make([]types.OHLCV, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		klines = append(klines, types.OHLCV{
			Timestamp: parseTimestamp(row[0]),
			Open:      parseFloat64(row[1]),
			High:      parseFloat64(row[2]),
			Low:       parseFloat64(row[3]),
			Close:     parseFloat64(row[4]),
			Volume:    parseFloat64(row[5]),
		})
	}

	return klines, nil
}

// GetInstrumentLimits returns the precision constraints for symbol.
func (g *Gateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	var result instrumentResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to get instrument info: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}

	inst := result.List[0]
	return &exchange.InstrumentLimits{
		Symbol:      inst.Symbol,
		TickSize:    parseFloat64(inst.PriceFilter.TickSize),
		QtyStep:     parseFloat64(inst.LotSizeFilter.QtyStep),
		MinQty:      parseFloat64(inst.LotSizeFilter.MinOrderQty),
		MaxLeverage: parseFloat64(inst.LeverageFilter.MaxLeverage),
	}, nil
}
