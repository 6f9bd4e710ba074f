package safety

import (
	"fmt"
	"sync"
	"time"
)

// HealthState is the API health breaker state.
type HealthState int

const (
	HealthOK HealthState = iota
	HealthCooling
	HealthProbing
)

func (s HealthState) String() string {
	switch s {
	case HealthOK:
		return "OK"
	case HealthCooling:
		return "COOLING"
	case HealthProbing:
		return "PROBING"
	default:
		return "UNKNOWN"
	}
}

// APIHealth tracks consecutive exchange failures and imposes a cooldown
// once the API looks broken, so a flapping exchange doesn't get hammered.
// Only non-critical reads consult it; protective and kill-path calls always
// go through regardless.
type APIHealth struct {
	failureThreshold int
	cooldown         time.Duration

	mu          sync.Mutex
	state       HealthState
	failures    int
	nextAttempt time.Time
}

// NewAPIHealth creates a health tracker.
func NewAPIHealth(failureThreshold int, cooldown time.Duration) *APIHealth {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &APIHealth{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            HealthOK,
	}
}

// Ready reports whether a non-critical call may be attempted. During a
// cooldown it returns an error callers must treat as a failed fetch, never
// as permission to proceed without data.
func (h *APIHealth) Ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HealthOK, HealthProbing:
		return nil
	case HealthCooling:
		if time.Now().After(h.nextAttempt) {
			h.state = HealthProbing
			return nil
		}
		return fmt.Errorf("exchange API cooling down until %s", h.nextAttempt.Format(time.RFC3339))
	default:
		return fmt.Errorf("exchange API health unknown")
	}
}

// RecordSuccess clears the failure streak.
func (h *APIHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.state = HealthOK
}

// RecordFailure counts a failure and opens the cooldown when the streak
// crosses the threshold.
func (h *APIHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	if h.state == HealthProbing || h.failures >= h.failureThreshold {
		h.state = HealthCooling
		h.nextAttempt = time.Now().Add(h.cooldown)
	}
}

// State returns the current health state.
func (h *APIHealth) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
