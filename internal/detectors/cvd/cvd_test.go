package cvd

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

func testConfig() config.CVDConfig {
	return config.CVDConfig{
		WindowsSec:                    []int64{10, 60},
		MinZ:                          1.5,
		BaseConfidenceRequired:        0.3,
		DivergenceVolumeThreshold:     50,
		DivergenceStrengthThreshold:   0.01,
		SignificantImbalanceThreshold: 0.3,
		DivergenceScoreMultiplier:     1.0,
		MomentumScoreMultiplier:       1.0,
		AlignmentMinimumThreshold:     0.5,
		EnhancementMode:               config.EnhancementProduction,
		HistorySize:                   50,
	}
}

func testUZConfig() config.UniversalZoneConfig {
	return config.UniversalZoneConfig{
		MinZoneConfluenceCount:         1,
		MaxZoneConfluenceDistanceTicks: 30,
		ConfluenceConfidenceBoost:      0.1,
		EnableZoneConfluenceFilter:     true,
		EnableCrossTimeframeAnalysis:   true,
		CrossTimeframeBoost:            0.1,
	}
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

func buyDominantZoneData(t *testing.T, price fixedpoint.Ticks) model.ZoneData {
	snap := model.ZoneSnapshot{
		PriceLevel:           price,
		AggressiveVolume:     mustAmount(t, "100"),
		AggressiveBuyVolume:  mustAmount(t, "85"),
		AggressiveSellVolume: mustAmount(t, "15"),
	}
	return model.ZoneData{
		Zones5Tick:  []model.ZoneSnapshot{snap, snap, snap},
		Zones10Tick: []model.ZoneSnapshot{snap, snap, snap},
		Zones20Tick: []model.ZoneSnapshot{snap, snap, snap},
	}
}

// TestCVDDivergenceBuySignal builds a balanced baseline (small alternating
// signed volume, near-zero slope) to seed the historical slope
// distribution, then feeds a sustained one-sided buy burst that should
// spike the shortest window's slope far outside that distribution.
func TestCVDDivergenceBuySignal(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var got []model.SignalCandidate
	d := New(testConfig(), testUZConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "100.00")
	tsMs := int64(0)
	for i := 0; i < 40; i++ {
		maker := i%2 == 0 // alternate buy/sell aggressor, ~net-zero slope
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade:    model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, "5"), TsMs: tsMs, BuyerIsMaker: maker},
			ZoneData: buyDominantZoneData(t, price),
		})
		tsMs += 300
	}

	for i := 0; i < 15; i++ {
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade:    model.AggressiveTrade{TradeID: int64(100 + i), PriceTicks: price, Qty: mustAmount(t, "20"), TsMs: tsMs, BuyerIsMaker: false},
			ZoneData: buyDominantZoneData(t, price),
		})
		tsMs += 300
	}

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, model.PatternCVDDivergence, last.Type)
	assert.Equal(t, model.SideBuy, last.Side)
	assert.GreaterOrEqual(t, last.Confidence, testConfig().BaseConfidenceRequired)
}

func TestCVDNoHistoryNoSignal(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var got []model.SignalCandidate
	d := New(testConfig(), testUZConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "100.00")
	d.OnEnrichedTrade(model.EnrichedTrade{
		Trade:    model.AggressiveTrade{TradeID: 1, PriceTicks: price, Qty: mustAmount(t, "20"), TsMs: 0, BuyerIsMaker: false},
		ZoneData: buyDominantZoneData(t, price),
	})

	assert.Empty(t, got)
}
