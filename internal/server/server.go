// Package server exposes the operational HTTP endpoints: health and metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger checks the record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BotStatus reports gateway and voice tracking state.
type BotStatus interface {
	Connected() bool
	VoiceSessions() int
}

// Server is the ops HTTP server.
type Server struct {
	db      Pinger
	bot     BotStatus
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server. bot may be nil when the gateway is not running.
func New(db Pinger, bot BotStatus, version string) *Server {
	s := &Server{
		db:      db,
		bot:     bot,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := s.db.Ping(ctx) == nil
	connected := false
	sessions := 0
	if s.bot != nil {
		connected = s.bot.Connected()
		sessions = s.bot.VoiceSessions()
	}

	status, code := "ok", http.StatusOK
	if !dbOK {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime":         time.Since(s.started).Seconds(),
		"db":             dbOK,
		"gateway":        connected,
		"voice_sessions": sessions,
	})
}
