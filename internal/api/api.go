// Package api exposes the HTTP surface: historical bars, health, and the
// websocket mount point for live analytics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/analytics"
	"pairstream-go/internal/market"
	"pairstream-go/internal/store"
)

const (
	defaultLimit     = 500
	maxLimit         = 5000
	storeReadTimeout = 10 * time.Second
)

// Server routes the REST endpoints. The websocket hub is mounted as an
// opaque handler so this package stays ignorant of the broadcast internals.
type Server struct {
	store  store.BarStore
	engine *analytics.Engine
	log    zerolog.Logger
	mux    *http.ServeMux
}

// New wires the routes. live may be nil when the websocket surface is
// disabled.
func New(barStore store.BarStore, engine *analytics.Engine, live http.Handler, log zerolog.Logger) *Server {
	s := &Server{store: barStore, engine: engine, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /api/historical-data", s.handleHistorical)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if live != nil {
		s.mux.Handle("GET /ws/live-analytics", live)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHistorical returns up to limit bars for (symbol, timeframe) in
// chronological order. Symbol matching is case-insensitive on the wire.
func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	label := strings.ToLower(strings.TrimSpace(q.Get("timeframe")))
	if label == "" {
		s.writeError(w, http.StatusBadRequest, "timeframe is required")
		return
	}
	tf, err := market.ParseTimeframe(label)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unrecognized timeframe "+strconv.Quote(label))
		return
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeReadTimeout)
	defer cancel()
	bars, err := s.store.Latest(ctx, symbol, tf, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("historical read failed")
		s.writeError(w, http.StatusServiceUnavailable, "database connection not available")
		return
	}

	// The store hands back newest-first; charts want chronological.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	if bars == nil {
		bars = []market.Bar{}
	}
	s.writeJSON(w, http.StatusOK, bars)
}

// handleHealth reports liveness plus store reachability and the analytics
// phase, so an operator can tell a priming instance from a degraded one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status         string `json:"status"`
		DBConnection   string `json:"db_connection"`
		AnalyticsPhase string `json:"analytics_phase,omitempty"`
	}{Status: "ok", DBConnection: "connected"}

	if pinger, ok := s.store.(store.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			status.DBConnection = "unavailable"
		}
	}
	if s.engine != nil {
		status.AnalyticsPhase = s.engine.Phase().String()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}
