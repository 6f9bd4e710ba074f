package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalConfig = `{
	"exchange": {"testnet": true},
	"budget": {"daily_budget_usd": 1000},
	"symbols": ["BTCUSDT"]
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Exchange.Name)
	assert.Equal(t, 200.0, cfg.Risk.MaxLossPerTradeUSD)
	assert.Equal(t, 10.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 10_000_000.0, cfg.Risk.MinVolumeUSD)
	assert.Equal(t, 0.0015, cfg.Risk.MaxSpreadPct)
	assert.Equal(t, 0.10, cfg.Risk.MinOrderbookImbalance)
	assert.Equal(t, 10*time.Second, cfg.Risk.SnapshotMaxAge.Std())
	assert.Equal(t, 3, cfg.Executor.ProtectionRetries)
	assert.Equal(t, 30*time.Second, cfg.Guardian.Interval.Std())
	assert.Equal(t, 10*time.Second, cfg.Guardian.StepTimeout.Std())
	assert.Equal(t, 2, cfg.Guardian.MaxProtectionFails)
	assert.Equal(t, 0.05, cfg.Budget.MaxLossPct)
	assert.Equal(t, "data/session_budget.json", cfg.Budget.StateFile)
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"exchange": {},
		"budget": {"daily_budget_usd": 500},
		"guardian": {"interval": "45s", "step_timeout": "5s"},
		"executor": {"order_timeout": "3s", "protection_backoff": 250000000},
		"symbols": ["BTCUSDT"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Guardian.Interval.Std())
	assert.Equal(t, 5*time.Second, cfg.Guardian.StepTimeout.Std())
	assert.Equal(t, 3*time.Second, cfg.Executor.OrderTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.ProtectionBackoff.Std())
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestLoadResolvesBareNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "sentinel.json"), []byte(minimalConfig), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	// Bare name, no extension: resolves to configs/sentinel.json.
	cfg, err := Load("sentinel")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no symbols", `{
			"exchange": {},
			"budget": {"daily_budget_usd": 1000},
			"symbols": []
		}`},
		{"unsupported exchange", `{
			"exchange": {"name": "ftx"},
			"budget": {"daily_budget_usd": 1000},
			"symbols": ["BTCUSDT"]
		}`},
		{"no budget", `{
			"exchange": {},
			"budget": {},
			"symbols": ["BTCUSDT"]
		}`},
		{"loss pct over one", `{
			"exchange": {},
			"budget": {"daily_budget_usd": 1000, "max_loss_pct": 1.5},
			"symbols": ["BTCUSDT"]
		}`},
		{"step timeout not shorter than interval", `{
			"exchange": {},
			"budget": {"daily_budget_usd": 1000},
			"guardian": {"interval": "10s", "step_timeout": "10s"},
			"symbols": ["BTCUSDT"]
		}`},
		{"negative per-trade loss", `{
			"exchange": {},
			"risk": {"max_loss_per_trade_usd": -5},
			"budget": {"daily_budget_usd": 1000},
			"symbols": ["BTCUSDT"]
		}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestCredentialsComeFromEnvironment(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")
	_, _, err := Credentials()
	assert.Error(t, err)

	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	key, secret, err := Credentials()
	require.NoError(t, err)
	assert.Equal(t, "key", key)
	assert.Equal(t, "secret", secret)
}
