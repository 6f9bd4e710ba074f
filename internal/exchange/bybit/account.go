package bybit

import (
	"context"
	"fmt"
)

// GetAccountEquity returns the unified account's total equity in USD.
func (g *Gateway) GetAccountEquity(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	var result walletResult
	err := g.retry(ctx, func() error {
		resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return fmt.Errorf("failed to get wallet balance: %w", err)
		}
		return parseResult(resp, &result)
	})
	if err != nil {
		return 0, err
	}

	if len(result.List) == 0 {
		return 0, fmt.Errorf("no wallet data returned")
	}

	return parseFloat64(result.List[0].TotalEquity), nil
}

// SetLeverage sets both buy and sell leverage for symbol. Bybit rejects a
// set to the value already in effect; that rejection is treated as success.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	params := map[string]interface{}{
		"category":     g.category,
		"symbol":       symbol,
		"buyLeverage":  formatFloat(leverage),
		"sellLeverage": formatFloat(leverage),
	}

	resp, err := g.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}

	if resp.RetCode == ErrCodeLeverageNotModified {
		return nil
	}
	return ParseAPIError(resp.RetCode, resp.RetMsg)
}
