package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesafe/perp-sentinel/pkg/types"
)

func candles(closes ...float64) []types.OHLCV {
	out := make([]types.OHLCV, len(closes))
	ts := time.Now().Add(-time.Duration(len(closes)) * time.Hour)
	for i, c := range closes {
		out[i] = types.OHLCV{
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestEMA_Calculate_InsufficientData(t *testing.T) {
	ema := NewEMA(20)

	_, err := ema.Calculate(candles(1, 2, 3))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data")
}

func TestEMA_Calculate_SeedsWithSMA(t *testing.T) {
	ema := NewEMA(3)

	// Exactly one period: the EMA is the plain SMA of the window.
	value, err := ema.Calculate(candles(10, 20, 30))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, value, 1e-9)
}

func TestEMA_Calculate_WeighsRecentCloses(t *testing.T) {
	ema := NewEMA(3)

	// alpha = 0.5: seed 20, then 0.5*40 + 0.5*20 = 30.
	value, err := ema.Calculate(candles(10, 20, 30, 40))
	require.NoError(t, err)
	assert.InDelta(t, 30.0, value, 1e-9)
}

func TestEMA_Calculate_FlatSeriesConverges(t *testing.T) {
	ema := NewEMA(5)

	value, err := ema.Calculate(candles(100, 100, 100, 100, 100, 100, 100, 100))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, value, 1e-9)
}

func TestEMA_Calculate_IsReproducible(t *testing.T) {
	ema := NewEMA(3)
	data := candles(10, 20, 30, 40, 50)

	first, err := ema.Calculate(data)
	require.NoError(t, err)
	second, err := ema.Calculate(data)
	require.NoError(t, err)
	assert.Equal(t, first, second, "full-window walk does not depend on receiver state")
}

func TestEMA_UpdateSingle(t *testing.T) {
	ema := NewEMA(3) // alpha = 0.5

	assert.Equal(t, 10.0, ema.UpdateSingle(10))
	assert.Equal(t, 15.0, ema.UpdateSingle(20))
	assert.Equal(t, 15.0, ema.GetLastValue())
}

func TestEMA_GetRequiredPeriods(t *testing.T) {
	assert.Equal(t, 50, NewEMA(50).GetRequiredPeriods())
}
