package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/g6-platform/g6/internal/events"
	"github.com/g6-platform/g6/internal/metrics"
)

// Config configures the HTTP server (spec §4.J, §6).
type Config struct {
	BasicUser            string
	BasicPass            string
	CatalogHTTPEnabled   bool
	SnapshotCacheEnabled bool
}

// SnapshotProvider supplies the data behind GET /snapshots. Implemented
// by the orchestrator's snapshot cache.
type SnapshotProvider interface {
	Snapshots(index string) (count int, snapshots []interface{}, overview map[string]interface{})
}

// Server bundles the chi router serving SSE, stats, snapshots, and
// Prometheus exposition (spec §4.J).
type Server struct {
	Router  chi.Router
	cfg     Config
	bus     *events.Bus
	metrics *metrics.Registry
	snaps   SnapshotProvider
	log     zerolog.Logger
}

// New builds a Server wired to bus/metrics/snaps, following the
// teacher's server.New(cfg) chi-router constructor shape.
func New(cfg Config, bus *events.Bus, reg *metrics.Registry, snaps SnapshotProvider, log zerolog.Logger) *Server {
	s := &Server{cfg: cfg, bus: bus, metrics: reg, snaps: snaps, log: log.With().Str("component", "http_server").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	if cfg.BasicUser != "" {
		r.Use(s.basicAuth)
	}

	r.Get("/events", NewSSEHandler(bus, reg, log).ServeHTTP)
	r.Get("/events/stats", s.handleStats)
	r.Get("/snapshots", s.handleSnapshots)
	if reg != nil {
		r.Handle("/metrics", reg.Handler())
	}

	s.Router = r
	return s
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.BasicUser || pass != s.cfg.BasicPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="g6"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.bus.GetStats()
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.CatalogHTTPEnabled {
		http.Error(w, "catalog http disabled", http.StatusGone)
		return
	}
	if !s.cfg.SnapshotCacheEnabled {
		http.Error(w, "snapshot cache disabled", http.StatusBadRequest)
		return
	}
	if s.snaps == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": 0, "snapshots": []interface{}{}, "overview": map[string]interface{}{}})
		return
	}
	index := r.URL.Query().Get("index")
	count, snaps, overview := s.snaps.Snapshots(index)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     count,
		"snapshots": snaps,
		"overview":  overview,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
