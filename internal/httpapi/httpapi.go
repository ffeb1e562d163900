// Package httpapi exposes the health/stats/metrics HTTP surface and
// mounts the websocket broadcast endpoint, grounded on the pack's
// chi-router service pattern (recoverer middleware, one handler per
// concern, promhttp for Prometheus scraping).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/coordinator"
	"orderflow/internal/egress"
	"orderflow/internal/model"
	"orderflow/internal/zoneengine"
)

// HealthSource reports the composite service health string, satisfied
// by *pipeline.Pipeline without importing it (avoids an import cycle:
// pipeline wires the HTTP server, the server must not wire pipeline).
type HealthSource interface {
	Health() string
}

// Server is the health/stats/metrics/websocket HTTP surface.
type Server struct {
	cfg    config.HTTPConfig
	log    *zap.Logger
	health HealthSource
	zones  *zoneengine.Engine
	coord  *coordinator.Coordinator
	bc     *egress.Broadcaster

	httpSrv *http.Server
}

// New builds the router and binds it to cfg.ListenAddr. Call Start to
// accept connections.
func New(cfg config.HTTPConfig, log *zap.Logger, health HealthSource, zones *zoneengine.Engine, coord *coordinator.Coordinator, bc *egress.Broadcaster) *Server {
	s := &Server{cfg: cfg, log: log, health: health, zones: zones, coord: coord, bc: bc}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())
	if bc != nil {
		r.Get("/ws", bc.Handler())
	}

	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: r}
	return s
}

// Start runs the HTTP server, blocking until it stops. Intended to be
// launched in its own goroutine; returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP server immediately: it closes the listener and
// all open connections without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.httpSrv.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Health()
	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

type statsResponse struct {
	Zones   model.ZoneStats                `json:"zones"`
	Rollups map[string]map[string]float64 `json:"rollups"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Zones:   s.zones.Stats(),
		Rollups: make(map[string]map[string]float64),
	}
	for _, pt := range []model.PatternType{
		model.PatternAbsorption, model.PatternExhaustion,
		model.PatternAccumulation, model.PatternDistribution,
		model.PatternCVDDivergence,
	} {
		if snap := s.coord.Rollup().Snapshot(pt); snap != nil {
			resp.Rollups[string(pt)] = snap
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
