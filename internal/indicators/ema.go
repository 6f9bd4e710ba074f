package indicators

import (
	"errors"

	"github.com/tradesafe/perp-sentinel/pkg/types"
)

// EMA is an exponential moving average over candle closes. Used for the
// trend alignment check and the guardian's trend flag.
type EMA struct {
	period      int
	alpha       float64
	lastValue   float64
	initialized bool
}

// NewEMA creates a new EMA indicator
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Calculate computes the EMA over the full candle window, seeding with the
// SMA of the first period values. The receiver's incremental state is not
// used; every call walks the window so results are reproducible from a
// fresh fetch.
func (e *EMA) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < e.period {
		return 0, errors.New("insufficient data for EMA calculation")
	}

	sum := 0.0
	for i := 0; i < e.period; i++ {
		sum += data[i].Close
	}
	value := sum / float64(e.period)

	for i := e.period; i < len(data); i++ {
		value = (data[i].Close * e.alpha) + (value * (1 - e.alpha))
	}

	return value, nil
}

// UpdateSingle feeds one value into the incremental EMA state.
func (e *EMA) UpdateSingle(value float64) float64 {
	if !e.initialized {
		e.lastValue = value
		e.initialized = true
	} else {
		e.lastValue = (value * e.alpha) + (e.lastValue * (1 - e.alpha))
	}
	return e.lastValue
}

// GetRequiredPeriods returns the minimum number of candles needed
func (e *EMA) GetRequiredPeriods() int {
	return e.period
}

// GetLastValue returns the last incremental EMA value
func (e *EMA) GetLastValue() float64 {
	return e.lastValue
}
