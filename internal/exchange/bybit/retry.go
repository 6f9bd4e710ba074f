package bybit

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retrying transient API failures.
// Only read-side and protective calls go through retry; entry orders are
// submitted once and handled by the executor's own correction logic.
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	InitialDelay  time.Duration `json:"initialDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterEnabled bool          `json:"jitterEnabled"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// retry executes fn, retrying transient errors with exponential backoff.
func (g *Gateway) retry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= g.retryCfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == g.retryCfg.MaxRetries || !IsRetryableError(err) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.backoffDelay(attempt)):
		}
	}

	return lastErr
}

// backoffDelay calculates the delay before the next attempt.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(g.retryCfg.InitialDelay) * math.Pow(g.retryCfg.BackoffFactor, float64(attempt)))
	if delay > g.retryCfg.MaxDelay {
		delay = g.retryCfg.MaxDelay
	}
	if g.retryCfg.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	return delay
}
