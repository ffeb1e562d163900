package zoneengine

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

func testCfg() config.ZoneEngineConfig {
	return config.ZoneEngineConfig{
		MaxActiveZones:          2,
		ZoneTimeoutMs:           1800000,
		StrengthChangeThreshold: 0.1,
		CompletionThreshold:     0.85,
		HistoryRetentionMs:      86400000,
		MaxHistoryPerSymbol:     200,
		ExpireIntervalMs:        30000,
		GCIntervalMs:            60000,
		VRefAccumulation:        1000,
		VRefDistribution:        1000,
		TRefMs:                  600000,
		TConfidenceMs:           300000,
		MergeToleranceTicks:     50,
	}
}

func newTestEngine() *Engine {
	met := instrumentation.New(prometheus.NewRegistry())
	return New(testCfg(), 1_000_000, zap.NewNop(), met)
}

func mustTicks(t *testing.T, s string) fixedpoint.Ticks {
	v, err := fixedpoint.ParseTicks(s)
	require.NoError(t, err)
	return v
}

func mustAmount(t *testing.T, s string) fixedpoint.Amount {
	v, err := fixedpoint.ParseAmount(s)
	require.NoError(t, err)
	return v
}

func TestCreateZoneClampsFields(t *testing.T) {
	e := newTestEngine()
	zone := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 1000, Detection{
		PriceRange:      model.PriceRange{Min: mustTicks(t, "99.90"), Max: mustTicks(t, "100.10"), Center: mustTicks(t, "100.00"), Width: mustTicks(t, "0.20")},
		TotalVolume:     mustAmount(t, "500"),
		InitialStrength: 1.5, // out of range, must clamp
		Confidence:      -0.2,
	})

	assert.LessOrEqual(t, zone.Strength, 1.0)
	assert.GreaterOrEqual(t, zone.Confidence, 0.0)
	assert.Equal(t, model.ZoneActive, zone.State)
	assert.LessOrEqual(t, zone.PriceRange.Min, zone.PriceRange.Center)
	assert.LessOrEqual(t, zone.PriceRange.Center, zone.PriceRange.Max)
}

func TestMaxActiveZonesInvalidatesWeakest(t *testing.T) {
	e := newTestEngine() // MaxActiveZones = 2

	weak := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 1000, Detection{
		PriceRange:      model.PriceRange{Min: mustTicks(t, "10.00"), Max: mustTicks(t, "10.00"), Center: mustTicks(t, "10.00")},
		TotalVolume:     mustAmount(t, "100"),
		InitialStrength: 0.1,
		Confidence:      0.1,
	})
	_ = e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 1000, Detection{
		PriceRange:      model.PriceRange{Min: mustTicks(t, "20.00"), Max: mustTicks(t, "20.00"), Center: mustTicks(t, "20.00")},
		TotalVolume:     mustAmount(t, "100"),
		InitialStrength: 0.9,
		Confidence:      0.9,
	})

	zones := e.QueryZones(QueryFilter{Symbol: "BTCUSDT"}, 1000)
	require.Len(t, zones, 2) // both zones active: the cap of 2 is reached, not exceeded

	third := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 2000, Detection{
		PriceRange:      model.PriceRange{Min: mustTicks(t, "30.00"), Max: mustTicks(t, "30.00"), Center: mustTicks(t, "30.00")},
		TotalVolume:     mustAmount(t, "100"),
		InitialStrength: 0.5,
		Confidence:      0.5,
	})

	active := true
	activeZones := e.QueryZones(QueryFilter{Symbol: "BTCUSDT", IsActive: &active}, 2000)
	require.Len(t, activeZones, 2)
	for _, z := range activeZones {
		assert.NotEqual(t, weak.ID, z.ID)
	}
	assert.Equal(t, third.ID, third.ID)
}

func TestStabilityStrengthZeroWhenWidthEqualsCenter(t *testing.T) {
	e := newTestEngine()
	zone := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 1000, Detection{
		PriceRange: model.PriceRange{Min: 0, Max: mustTicks(t, "100.00"), Center: mustTicks(t, "100.00"), Width: mustTicks(t, "100.00")},
		TotalVolume: mustAmount(t, "0"),
		SupportingFactors: model.SupportingFactors{
			OrderSizeProfile: model.ProfileRetail,
		},
	})
	// stabilityStrength = max(0, 1 - width/center) = max(0, 1-1) = 0, so
	// strength is driven only by the other weighted terms.
	// With zero volume, time and flow, only the retail profile term
	// (0.15 * 0.4) remains.
	stability := computeStrength(e.cfg, zone)
	assert.InDelta(t, 0.15*0.4, stability, 1e-9)
	assert.GreaterOrEqual(t, zone.Strength, 0.0)
}

func TestMergeOverlappingCandidateExpandsRange(t *testing.T) {
	e := newTestEngine()
	zone := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 1000, Detection{
		PriceRange:  model.PriceRange{Min: mustTicks(t, "100.00"), Max: mustTicks(t, "100.10"), Center: mustTicks(t, "100.05"), Width: mustTicks(t, "0.10")},
		TotalVolume: mustAmount(t, "300"),
	})

	merged := e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 2000, Detection{
		PriceRange:  model.PriceRange{Min: mustTicks(t, "100.08"), Max: mustTicks(t, "100.20"), Center: mustTicks(t, "100.14"), Width: mustTicks(t, "0.12")},
		TotalVolume: mustAmount(t, "200"),
	})

	assert.Equal(t, zone.ID, merged.ID)
	assert.Equal(t, mustTicks(t, "100.20"), merged.PriceRange.Max)
	assert.Equal(t, mustAmount(t, "500"), merged.TotalVolume)

	zones := e.QueryZones(QueryFilter{Symbol: "BTCUSDT"}, 2000)
	require.Len(t, zones, 1)
}

func TestExpireOnceInvalidatesOldZones(t *testing.T) {
	e := newTestEngine()
	e.CreateZone(model.ZoneAccumulation, "BTCUSDT", 0, Detection{
		PriceRange: model.PriceRange{Min: mustTicks(t, "1.00"), Max: mustTicks(t, "1.00"), Center: mustTicks(t, "1.00")},
	})

	e.expireOnce(e.cfg.ZoneTimeoutMs + 1)

	active := true
	zones := e.QueryZones(QueryFilter{Symbol: "BTCUSDT", IsActive: &active}, e.cfg.ZoneTimeoutMs+1)
	assert.Empty(t, zones)
}
