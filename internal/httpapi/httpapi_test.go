package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/coordinator"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/zoneengine"
)

type fixedHealth struct{ status string }

func (h fixedHealth) Health() string { return h.status }

type alwaysHealthy struct{}

func (alwaysHealthy) MarketHealth() model.MarketHealth {
	return model.MarketHealth{IsHealthy: true}
}

func newTestServer(t *testing.T) *Server {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	tickSize, err := fixedpoint.ParseTicks("0.01")
	require.NoError(t, err)

	ze := zoneengine.New(config.ZoneEngineConfig{MaxActiveZones: 10, MergeToleranceTicks: 5}, tickSize, zap.NewNop(), met)
	coord := coordinator.New(config.CoordinatorConfig{MinConfidenceFloor: 0.5}, zap.NewNop(), met, alwaysHealthy{}, func(model.Event) {})

	return New(config.HTTPConfig{ListenAddr: ":0"}, zap.NewNop(), fixedHealth{status: "ok"}, ze, coord, nil)
}

func TestHealthHandlerReportsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStatsHandlerReturnsZoneAndRollupData(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "zones")
	require.Contains(t, rec.Body.String(), "rollups")
}
