package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete configuration for the sentinel.
type Config struct {
	Exchange ExchangeConfig `json:"exchange"`
	Risk     RiskConfig     `json:"risk"`
	Executor ExecutorConfig `json:"executor"`
	Guardian GuardianConfig `json:"guardian"`
	Budget   BudgetConfig   `json:"budget"`
	Journal  JournalConfig  `json:"journal"`

	// Monitoring and notifications are optional
	Monitoring    *MonitoringConfig   `json:"monitoring,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`

	// Symbols the guardian supervises
	Symbols []string `json:"symbols"`
}

// ExchangeConfig holds exchange connection settings. Credentials come from
// the environment (BYBIT_API_KEY, BYBIT_API_SECRET), never from the file.
type ExchangeConfig struct {
	Name    string `json:"name"`    // "bybit"
	Testnet bool   `json:"testnet"` // testnet environment
	Demo    bool   `json:"demo"`    // demo trading (paper)
}

// RiskConfig holds the pre-trade validation thresholds.
type RiskConfig struct {
	MaxLossPerTradeUSD float64 `json:"max_loss_per_trade_usd"` // worst-case loss cap per trade
	MaxLeverage        float64 `json:"max_leverage"`
	MinVolumeUSD       float64 `json:"min_volume_usd"`    // 24h quote turnover floor
	MaxSpreadPct       float64 `json:"max_spread_pct"`    // bid/ask spread ceiling
	MinOrderbookImbalance float64 `json:"min_orderbook_imbalance"` // directional OBI floor
	MaxFundingRate     float64 `json:"max_funding_rate"`  // absolute funding ceiling against the trade
	TrendInterval      string  `json:"trend_interval"`    // kline interval for trend alignment
	TrendEMAPeriod     int     `json:"trend_ema_period"`
	OrderbookLevels    int     `json:"orderbook_levels"`  // depth levels used for OBI
	LiquidityCapPct    float64 `json:"liquidity_cap_pct"` // max share of visible depth a position may take
	DefaultStopDistancePct float64 `json:"default_stop_distance_pct"` // stop distance used when the caller gives none
	SnapshotMaxAge     Duration `json:"snapshot_max_age"` // oldest market snapshot a proposal may be judged against
}

// ExecutorConfig holds the order execution settings.
type ExecutorConfig struct {
	ProtectionRetries int      `json:"protection_retries"`  // stop placement attempts before emergency close
	ProtectionBackoff Duration `json:"protection_backoff"`  // delay between stop placement attempts
	UseCompoundOrders bool     `json:"use_compound_orders"` // attach stop to entry atomically when supported
	OrderTimeout      Duration `json:"order_timeout"`       // per-call deadline for order operations
}

// GuardianConfig holds the supervision loop settings.
type GuardianConfig struct {
	Interval            Duration `json:"interval"`              // supervision cycle period
	StepTimeout         Duration `json:"step_timeout"`          // per-step deadline within a cycle
	MaxProtectionFails  int      `json:"max_protection_fails"`  // consecutive stop insert failures before market close
	BreakevenTriggerPct float64  `json:"breakeven_trigger_pct"` // unleveraged gain that moves the stop to breakeven
	TrailActivatePct    float64  `json:"trail_activate_pct"`    // unleveraged gain that starts trailing
	FeeBufferPct        float64  `json:"fee_buffer_pct"`        // breakeven offset covering fees
	TrailDistancePct    float64  `json:"trail_distance_pct"`    // trailing stop distance once ratcheting
	EmergencyStopPct    float64  `json:"emergency_stop_pct"`    // stop distance used when repairing protection
	TrendInterval       string   `json:"trend_interval"`        // kline interval for the trend flag
	TrendEMAPeriod      int      `json:"trend_ema_period"`
	TrendBreachPct      float64  `json:"trend_breach_pct"` // EMA breach that flips defensive mode
}

// BudgetConfig holds the session loss cap settings.
type BudgetConfig struct {
	DailyBudgetUSD float64 `json:"daily_budget_usd"` // session bankroll reference
	MaxLossPct     float64 `json:"max_loss_pct"`     // fraction of the budget that may be lost
	StateFile      string  `json:"state_file"`       // persisted session state
}

// JournalConfig holds the trade journal settings.
type JournalConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"db_path"`
	ReportDir  string `json:"report_dir"` // session report output directory
}

// MonitoringConfig holds metrics endpoint settings.
type MonitoringConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // prometheus listen address
}

// NotificationConfig holds notification settings.
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// Load reads configuration from file, applies defaults and validates.
func Load(configFile string) (*Config, error) {
	// Bare names resolve into configs/
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults fills in missing values with conservative defaults.
func (c *Config) setDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}

	if c.Risk.MaxLossPerTradeUSD == 0 {
		c.Risk.MaxLossPerTradeUSD = 200
	}
	if c.Risk.MaxLeverage == 0 {
		c.Risk.MaxLeverage = 10
	}
	if c.Risk.MinVolumeUSD == 0 {
		c.Risk.MinVolumeUSD = 10_000_000
	}
	if c.Risk.MaxSpreadPct == 0 {
		c.Risk.MaxSpreadPct = 0.0015
	}
	if c.Risk.MinOrderbookImbalance == 0 {
		c.Risk.MinOrderbookImbalance = 0.10
	}
	if c.Risk.MaxFundingRate == 0 {
		c.Risk.MaxFundingRate = 0.0004
	}
	if c.Risk.TrendInterval == "" {
		c.Risk.TrendInterval = "60"
	}
	if c.Risk.TrendEMAPeriod == 0 {
		c.Risk.TrendEMAPeriod = 50
	}
	if c.Risk.OrderbookLevels == 0 {
		c.Risk.OrderbookLevels = 10
	}
	if c.Risk.LiquidityCapPct == 0 {
		c.Risk.LiquidityCapPct = 0.10
	}
	if c.Risk.DefaultStopDistancePct == 0 {
		c.Risk.DefaultStopDistancePct = 0.01
	}
	if c.Risk.SnapshotMaxAge == 0 {
		c.Risk.SnapshotMaxAge = Duration(10 * time.Second)
	}

	if c.Executor.ProtectionRetries == 0 {
		c.Executor.ProtectionRetries = 3
	}
	if c.Executor.ProtectionBackoff == 0 {
		c.Executor.ProtectionBackoff = Duration(500 * time.Millisecond)
	}
	if c.Executor.OrderTimeout == 0 {
		c.Executor.OrderTimeout = Duration(10 * time.Second)
	}

	if c.Guardian.Interval == 0 {
		c.Guardian.Interval = Duration(30 * time.Second)
	}
	if c.Guardian.StepTimeout == 0 {
		c.Guardian.StepTimeout = Duration(10 * time.Second)
	}
	if c.Guardian.MaxProtectionFails == 0 {
		c.Guardian.MaxProtectionFails = 2
	}
	if c.Guardian.BreakevenTriggerPct == 0 {
		c.Guardian.BreakevenTriggerPct = 0.015
	}
	if c.Guardian.TrailActivatePct == 0 {
		c.Guardian.TrailActivatePct = 0.02
	}
	if c.Guardian.TrendBreachPct == 0 {
		c.Guardian.TrendBreachPct = 0.02
	}
	if c.Guardian.FeeBufferPct == 0 {
		c.Guardian.FeeBufferPct = 0.002
	}
	if c.Guardian.TrailDistancePct == 0 {
		c.Guardian.TrailDistancePct = 0.005
	}
	if c.Guardian.EmergencyStopPct == 0 {
		c.Guardian.EmergencyStopPct = 0.025
	}
	if c.Guardian.TrendInterval == "" {
		c.Guardian.TrendInterval = "60"
	}
	if c.Guardian.TrendEMAPeriod == 0 {
		c.Guardian.TrendEMAPeriod = 50
	}

	if c.Budget.MaxLossPct == 0 {
		c.Budget.MaxLossPct = 0.05
	}
	if c.Budget.StateFile == "" {
		c.Budget.StateFile = "data/session_budget.json"
	}

	if c.Journal.DBPath == "" {
		c.Journal.DBPath = "data/journal.db"
	}
	if c.Journal.ReportDir == "" {
		c.Journal.ReportDir = "reports"
	}
}

// Validate rejects configurations the safety core cannot run with.
func (c *Config) Validate() error {
	if c.Exchange.Name != "bybit" {
		return fmt.Errorf("unsupported exchange: %s", c.Exchange.Name)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Risk.MaxLossPerTradeUSD <= 0 {
		return fmt.Errorf("max_loss_per_trade_usd must be positive, got %v", c.Risk.MaxLossPerTradeUSD)
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be >= 1, got %v", c.Risk.MaxLeverage)
	}
	if c.Budget.DailyBudgetUSD <= 0 {
		return fmt.Errorf("daily_budget_usd must be positive, got %v", c.Budget.DailyBudgetUSD)
	}
	if c.Budget.MaxLossPct <= 0 || c.Budget.MaxLossPct > 1 {
		return fmt.Errorf("max_loss_pct must be in (0, 1], got %v", c.Budget.MaxLossPct)
	}
	if c.Guardian.Interval.Std() < time.Second {
		return fmt.Errorf("guardian interval must be at least 1s, got %v", c.Guardian.Interval)
	}
	if c.Guardian.StepTimeout >= c.Guardian.Interval {
		return fmt.Errorf("guardian step_timeout must be shorter than the interval")
	}
	if c.Guardian.TrailDistancePct <= 0 {
		return fmt.Errorf("trail_distance_pct must be positive")
	}
	return nil
}

// Credentials returns the API key pair from the environment.
func Credentials() (key, secret string, err error) {
	key = os.Getenv("BYBIT_API_KEY")
	secret = os.Getenv("BYBIT_API_SECRET")
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET must be set")
	}
	return key, secret, nil
}
