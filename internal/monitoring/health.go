package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the payload served on /healthz.
type HealthStatus struct {
	Status        string    `json:"status"` // "ok" or "killed"
	DefensiveMode bool      `json:"defensive_mode"`
	KillTriggered bool      `json:"kill_triggered"`
	Timestamp     time.Time `json:"timestamp"`
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the monitoring endpoint. status is polled on every
// health request.
func NewServer(addr string, metrics *Metrics, status func() HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s := status()
		s.Timestamp = time.Now()

		code := http.StatusOK
		if s.KillTriggered {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(s)
	})

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The monitoring endpoint is best-effort; trading continues.
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
