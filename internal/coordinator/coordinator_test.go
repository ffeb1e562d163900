package coordinator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

type fixedHealth struct {
	healthy bool
}

func (h fixedHealth) MarketHealth() model.MarketHealth {
	return model.MarketHealth{IsHealthy: h.healthy}
}

func testConfig() config.CoordinatorConfig {
	return config.CoordinatorConfig{
		DefaultCooldownMs:    10000,
		PerTypeCooldownMs:    map[string]int64{"absorption": 15000},
		MinConfidenceFloor:   0.5,
		DedupWindowMs:        2000,
		RequireHealthyMarket: true,
	}
}

func mustTicks(t *testing.T, s string) fixedpoint.Ticks {
	v, err := fixedpoint.ParseTicks(s)
	require.NoError(t, err)
	return v
}

func TestSubmitEmitsAboveFloor(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var events []model.Event
	c := New(testConfig(), zap.NewNop(), met, fixedHealth{healthy: true}, func(e model.Event) { events = append(events, e) })

	reason := c.Submit(model.SignalCandidate{Type: model.PatternAbsorption, Side: model.SideBuy, PriceTicks: mustTicks(t, "100.00"), Confidence: 0.8, TsMs: 1000})
	require.Equal(t, model.RejectNone, reason)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventKindSignal, events[0].Kind)
	assert.NotEmpty(t, events[0].Signal.ID)
}

func TestSubmitRejectsBelowConfidenceFloor(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	c := New(testConfig(), zap.NewNop(), met, fixedHealth{healthy: true}, func(model.Event) {})

	reason := c.Submit(model.SignalCandidate{Type: model.PatternAbsorption, Side: model.SideBuy, PriceTicks: mustTicks(t, "100.00"), Confidence: 0.1, TsMs: 1000})
	assert.Equal(t, model.RejectLowConfidence, reason)
}

func TestSubmitRejectsWhenMarketUnhealthy(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	c := New(testConfig(), zap.NewNop(), met, fixedHealth{healthy: false}, func(model.Event) {})

	reason := c.Submit(model.SignalCandidate{Type: model.PatternAbsorption, Side: model.SideBuy, PriceTicks: mustTicks(t, "100.00"), Confidence: 0.9, TsMs: 1000})
	assert.Equal(t, model.RejectMarketUnhealthy, reason)
}

func TestSubmitAppliesPerTypeCooldown(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var events []model.Event
	c := New(testConfig(), zap.NewNop(), met, fixedHealth{healthy: true}, func(e model.Event) { events = append(events, e) })

	cand := model.SignalCandidate{Type: model.PatternAbsorption, Side: model.SideBuy, PriceTicks: mustTicks(t, "100.00"), Confidence: 0.8, TsMs: 1000}
	require.Equal(t, model.RejectNone, c.Submit(cand))

	cand2 := cand
	cand2.TsMs = 2000
	cand2.PriceTicks = mustTicks(t, "101.00") // different price, still same type cooldown
	assert.Equal(t, model.RejectCooldown, c.Submit(cand2))

	cand3 := cand2
	cand3.TsMs = 1000 + testConfig().PerTypeCooldownMs["absorption"] + 1
	assert.Equal(t, model.RejectNone, c.Submit(cand3))
	require.Len(t, events, 2)
}

func TestSubmitDedupesSameTypeSidePrice(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var events []model.Event
	cfg := testConfig()
	cfg.DefaultCooldownMs = 0
	cfg.PerTypeCooldownMs = map[string]int64{"cvd_divergence": 0}
	c := New(cfg, zap.NewNop(), met, fixedHealth{healthy: true}, func(e model.Event) { events = append(events, e) })

	cand := model.SignalCandidate{Type: model.PatternCVDDivergence, Side: model.SideSell, PriceTicks: mustTicks(t, "100.00"), Confidence: 0.8, TsMs: 1000}
	require.Equal(t, model.RejectNone, c.Submit(cand))

	cand2 := cand
	cand2.TsMs = 1500 // within DedupWindowMs of 2000
	assert.Equal(t, model.RejectDuplicate, c.Submit(cand2))
	require.Len(t, events, 1)
}
