package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/tradesafe/perp-sentinel/internal/exchange"
)

// Gateway implements exchange.Gateway against Bybit's v5 unified trading API.
// All derivatives traffic uses the linear category.
type Gateway struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
	retryCfg   RetryConfig
}

var _ exchange.Gateway = (*Gateway)(nil)

// Config holds the connection settings for the Bybit gateway.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // demo trading environment (paper trading)
}

// NewGateway creates a gateway for Bybit linear perpetuals.
func NewGateway(config Config) *Gateway {
	var baseURL string
	if config.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Gateway{
		httpClient: httpClient,
		category:   "linear",
		testnet:    config.Testnet,
		demo:       config.Demo,
		retryCfg:   DefaultRetryConfig(),
	}
}

// GetName returns the exchange name.
func (g *Gateway) GetName() string {
	return "Bybit"
}

// Environment returns a string describing the trading environment.
func (g *Gateway) Environment() string {
	if g.demo {
		return "demo"
	}
	if g.testnet {
		return "testnet"
	}
	return "mainnet"
}
