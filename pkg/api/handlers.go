// Package api provides HTTP handlers for the trading bot monitoring API.
//
// Endpoints:
//
//	GET /api/v1/status     - Service health check
//	GET /api/v1/stats      - Session statistics (win rate, profit factor, drawdown)
//	GET /api/v1/positions  - Closed positions plus the open one, if any
//	GET /api/v1/state      - Current engine state (active box, bar count)
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradeforge/boxbot/pkg/stats"
	"github.com/tradeforge/boxbot/pkg/types"
)

// EngineState is a point-in-time snapshot of the strategy engine exposed to
// the API. Built by the owner of the engine loop so handlers never touch the
// engine directly.
type EngineState struct {
	Box          *types.ConsolidationBox `json:"box"`
	OpenPosition *types.Position         `json:"open_position"`
	BarCount     int                     `json:"bar_count"`
}

// StateFn returns the latest engine snapshot. Must be safe to call from any
// goroutine.
type StateFn func() EngineState

// Server holds dependencies for the API handlers.
type Server struct {
	Collector     *stats.Collector
	State         StateFn
	FeedConnected bool
	Logger        *slog.Logger
}

// NewServer creates a new API server. state may be nil for backtest-only
// deployments; the state endpoint then reports an empty snapshot.
func NewServer(collector *stats.Collector, state StateFn, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Collector: collector,
		State:     state,
		Logger:    logger,
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.HandleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.HandleStats)
	mux.HandleFunc("GET /api/v1/positions", s.HandlePositions)
	mux.HandleFunc("GET /api/v1/state", s.HandleState)
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version"`
	FeedConnected bool    `json:"feed_connected"`
}

type positionsResponse struct {
	Open      *types.Position  `json:"open"`
	Closed    []types.Position `json:"closed"`
	TotalOpen int              `json:"total_open"`
	TotalDone int              `json:"total_closed"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// HandleStatus returns overall service health and readiness.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "healthy",
		UptimeSeconds: s.Collector.UptimeSeconds(),
		Version:       s.Collector.Version(),
		FeedConnected: s.FeedConnected,
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStats returns the session statistics snapshot.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Collector.Snapshot())
}

// HandlePositions returns closed positions and the currently open one.
func (s *Server) HandlePositions(w http.ResponseWriter, r *http.Request) {
	closed := s.Collector.Positions()

	var open *types.Position
	if s.State != nil {
		open = s.State().OpenPosition
	}

	totalOpen := 0
	if open != nil {
		totalOpen = 1
	}

	writeJSON(w, http.StatusOK, positionsResponse{
		Open:      open,
		Closed:    closed,
		TotalOpen: totalOpen,
		TotalDone: len(closed),
	})
}

// HandleState returns the engine's current box and bar count.
func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	var state EngineState
	if s.State != nil {
		state = s.State()
	}
	writeJSON(w, http.StatusOK, state)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}
