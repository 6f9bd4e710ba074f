package bybit

import (
	"strconv"
	"time"
)

// klineResult holds kline data as returned by the v5 market endpoint.
// Each list entry is [startTime, open, high, low, close, volume, turnover].
type klineResult struct {
	Symbol   string     `json:"symbol"`
	Category string     `json:"category"`
	List     [][]string `json:"list"`
}

// tickerResult holds the linear ticker list. All numeric fields arrive as
// strings.
type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol      string `json:"symbol"`
		Bid1Price   string `json:"bid1Price"`
		Bid1Size    string `json:"bid1Size"`
		Ask1Price   string `json:"ask1Price"`
		Ask1Size    string `json:"ask1Size"`
		LastPrice   string `json:"lastPrice"`
		MarkPrice   string `json:"markPrice"`
		Turnover24h string `json:"turnover24h"`
		Volume24h   string `json:"volume24h"`
		FundingRate string `json:"fundingRate"`
	} `json:"list"`
}

// orderbookResult holds a depth snapshot. Levels are [price, size] pairs,
// best level first.
type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

// positionResult holds the position list for the linear category.
type positionResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"` // "Buy", "Sell", or "" when flat
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		Leverage      string `json:"leverage"`
		StopLoss      string `json:"stopLoss"`
		PositionIdx   int    `json:"positionIdx"`
	} `json:"list"`
}

// orderListResult holds open orders.
type orderListResult struct {
	Category string `json:"category"`
	List     []struct {
		OrderID       string `json:"orderId"`
		OrderLinkID   string `json:"orderLinkId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		OrderType     string `json:"orderType"`
		Qty           string `json:"qty"`
		Price         string `json:"price"`
		TriggerPrice  string `json:"triggerPrice"`
		StopOrderType string `json:"stopOrderType"`
		OrderStatus   string `json:"orderStatus"`
		ReduceOnly    bool   `json:"reduceOnly"`
		CreatedTime   string `json:"createdTime"`
	} `json:"list"`
}

// orderAckResult holds the order id pair returned by create/cancel calls.
type orderAckResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// walletResult holds the unified account wallet.
type walletResult struct {
	List []struct {
		AccountType   string `json:"accountType"`
		TotalEquity   string `json:"totalEquity"`
		TotalPerpUPL  string `json:"totalPerpUPL"`
		WalletBalance string `json:"totalWalletBalance"`
	} `json:"list"`
}

// instrumentResult holds instrument metadata for the linear category.
type instrumentResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol      string `json:"symbol"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep     string `json:"qtyStep"`
			MinOrderQty string `json:"minOrderQty"`
			MaxOrderQty string `json:"maxOrderQty"`
		} `json:"lotSizeFilter"`
		LeverageFilter struct {
			MaxLeverage string `json:"maxLeverage"`
		} `json:"leverageFilter"`
	} `json:"list"`
}

// Helper functions for parsing string numbers
func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTimestamp converts a milliseconds timestamp string to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec)
}
