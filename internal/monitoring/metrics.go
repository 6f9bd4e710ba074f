package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// protection states exported as a labelled gauge, one hot at a time
var protectionStates = []string{
	"UNPROTECTED", "PROTECTING", "PROTECTED", "RATCHETING", "CLOSING", "CLOSED",
}

// Metrics holds the sentinel's Prometheus instruments. Constructed once and
// shared; a fresh registry per instance keeps tests free of duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	EmergencyCloses    prometheus.Counter
	StopRatchets       prometheus.Counter
	GuardianStepErrors *prometheus.CounterVec
	SessionLoss        prometheus.Gauge

	protectionState *prometheus.GaugeVec
	defensiveMode   prometheus.Gauge
	killTriggered   prometheus.Gauge
}

// NewMetrics creates and registers the sentinel's metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EmergencyCloses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_emergency_closes_total",
				Help: "Positions market-closed because protection could not be attached",
			},
		),
		StopRatchets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_stop_ratchets_total",
				Help: "Successful monotonic stop tightenings",
			},
		),
		GuardianStepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_guardian_step_errors_total",
				Help: "Guardian supervision steps that failed and were skipped",
			},
			[]string{"step"},
		),
		SessionLoss: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_session_loss_usd",
				Help: "Session loss against the starting equity",
			},
		),
		protectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_protection_state",
				Help: "Per-symbol protection state (1 for the active state)",
			},
			[]string{"symbol", "state"},
		),
		defensiveMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_defensive_mode",
				Help: "1 while the trend-integrity check flags a severe breach",
			},
		),
		killTriggered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_kill_triggered",
				Help: "1 once the session kill-switch has fired",
			},
		),
	}

	m.registry.MustRegister(
		m.EmergencyCloses,
		m.StopRatchets,
		m.GuardianStepErrors,
		m.SessionLoss,
		m.protectionState,
		m.defensiveMode,
		m.killTriggered,
	)

	return m
}

// SetProtectionState marks state as the active protection state for symbol.
func (m *Metrics) SetProtectionState(symbol, state string) {
	for _, s := range protectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.protectionState.WithLabelValues(symbol, s).Set(value)
	}
}

// SetDefensive sets the defensive-mode flag gauge.
func (m *Metrics) SetDefensive(on bool) {
	if on {
		m.defensiveMode.Set(1)
	} else {
		m.defensiveMode.Set(0)
	}
}

// SetKilled sets the kill-switch gauge.
func (m *Metrics) SetKilled(on bool) {
	if on {
		m.killTriggered.Set(1)
	} else {
		m.killTriggered.Set(0)
	}
}

// Handler returns the HTTP handler exposing this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
