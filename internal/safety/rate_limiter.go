package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket keeping the sentinel under the exchange's
// request ceiling. Shared by every gateway call.
type RateLimiter struct {
	capacity   int
	tokens     int
	refillRate int // tokens added per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter starting at full capacity.
func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	return &RateLimiter{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether one request may proceed now.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a request may proceed or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second / time.Duration(rl.refillRate)):
		}
	}
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed < time.Second {
		return
	}

	add := int(elapsed.Seconds()) * rl.refillRate
	rl.tokens += add
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}
