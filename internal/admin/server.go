// Package admin serves the local metrics and health endpoints of a running
// beam-remote.
package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go2tv.app/beam-remote/internal/domain"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HeartbeatSource exposes the last heartbeat seen by the dispatcher.
type HeartbeatSource interface {
	LastHeartbeat() (time.Time, bool)
}

// Status tracks the connection state as reported by the stream loop.
type Status struct {
	now func() time.Time

	mu    sync.RWMutex
	state domain.ConnectionState
	since time.Time
}

func NewStatus() *Status {
	return &Status{
		now:   time.Now,
		state: domain.ConnectionState{Phase: domain.PhaseDisconnected},
		since: time.Now(),
	}
}

// SetState is shaped to be passed as a stream OnState hook.
func (s *Status) SetState(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != state.Phase {
		s.since = s.now()
	}
	s.state = state
}

func (s *Status) Snapshot() (domain.ConnectionState, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.since
}

type HealthReport struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	Connection    string     `json:"connection"`
	Since         time.Time  `json:"since"`
	BackoffMS     int64      `json:"backoff_ms,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

type Config struct {
	Version    string
	Status     *Status
	Heartbeats HeartbeatSource
	Metrics    http.Handler
}

// NewHandler routes /metrics, /healthz and /readyz. /healthz answers 200 while
// the process runs; /readyz answers 503 unless the stream is open.
func NewHandler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, report(cfg))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		rep := report(cfg)
		code := http.StatusOK
		if rep.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})
	return r
}

func report(cfg Config) HealthReport {
	rep := HealthReport{Status: StatusDegraded, Version: cfg.Version, Connection: domain.PhaseDisconnected.String()}
	if cfg.Status != nil {
		state, since := cfg.Status.Snapshot()
		rep.Connection = state.Phase.String()
		rep.Since = since.UTC()
		if state.Phase == domain.PhaseBackoff {
			rep.BackoffMS = state.Remaining.Milliseconds()
		}
		if state.Phase == domain.PhaseStreaming {
			rep.Status = StatusHealthy
		}
	}
	if cfg.Heartbeats != nil {
		if at, ok := cfg.Heartbeats.LastHeartbeat(); ok {
			at = at.UTC()
			rep.LastHeartbeat = &at
		}
	}
	return rep
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
