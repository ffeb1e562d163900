package anomaly

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

func testConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		WindowSize:                       500,
		NormalSpreadBps:                  2.0,
		MinHistory:                       30,
		AnomalyCooldownMs:                30000,
		VolumeImbalanceThreshold:         0.6,
		AbsorptionRatioThreshold:         1.5,
		IcebergDetectionWindowMs:         15000,
		OrderSizeAnomalyThresholdSigma:   3.0,
		FlowWindowMs:                     30000,
		OrderSizeWindowMs:                120000,
		FlashCrashZThreshold:             3.0,
		LiquidityVoidMultiplier:          4.0,
		APIGapMs:                         5000,
		ExtremeVolatilityMultiplier:      2.5,
		MomentumIgnitionVolumeMultiplier: 4.0,
		CleanupIntervalMs:                60000,
		PositioningValueThresholdFrac:    0.0001,
		PositioningPriceThresholdAbs:     1.0,
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

// TestFlashCrashAnomaly reproduces S3: a stable baseline around price=100
// with a small spread of noise, then one trade at price=94. Expects a
// flash_crash anomaly with severity high or critical.
func TestFlashCrashAnomaly(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var got []model.AnomalyEvent
	d := New(testConfig(), "BTCUSDT", mustTicks(t, "0.01"), zap.NewNop(), met, nil, func(a model.AnomalyEvent) { got = append(got, a) })

	tsMs := int64(0)
	noise := []string{"100.00", "100.02", "99.98", "100.01", "99.99", "100.03", "99.97"}
	for i := 0; i < 200; i++ {
		price := mustTicks(t, noise[i%len(noise)])
		d.OnEnrichedTrade(model.EnrichedTrade{Trade: model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, "1"), TsMs: tsMs, BuyerIsMaker: i%2 == 0}})
		tsMs += 100
	}

	d.OnEnrichedTrade(model.EnrichedTrade{Trade: model.AggressiveTrade{TradeID: 9999, PriceTicks: mustTicks(t, "94.00"), Qty: mustAmount(t, "1"), TsMs: tsMs, BuyerIsMaker: true}})

	require.NotEmpty(t, got)
	var flashCrash *model.AnomalyEvent
	for i := range got {
		if got[i].Type == model.AnomalyFlashCrash {
			flashCrash = &got[i]
		}
	}
	require.NotNil(t, flashCrash)
	assert.Contains(t, []model.AnomalySeverity{model.SeverityHigh, model.SeverityCritical}, flashCrash.Severity)
}

// TestIcebergAnomaly reproduces S4: 7 trades at a constant price whose
// passive-ask quantity is refilled before each subsequent trade, with
// refill intervals {1200,1100,1300,1150,1250,1200,1100}ms. Expects an
// iceberg_order anomaly with refillConsistency >= 0.7.
func TestIcebergAnomaly(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var got []model.AnomalyEvent
	d := New(testConfig(), "BTCUSDT", mustTicks(t, "0.01"), zap.NewNop(), met, nil, func(a model.AnomalyEvent) { got = append(got, a) })

	price := mustTicks(t, "100.00")
	intervals := []int64{1200, 1100, 1300, 1150, 1250, 1200, 1100}
	tsMs := int64(0)
	for i := 0; i < 7; i++ {
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade:             model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, "2"), TsMs: tsMs, BuyerIsMaker: false},
			ZonePassiveAskQty: mustAmount(t, "50"), // refilled to the same visible size each time
		})
		tsMs += intervals[i]
	}

	require.NotEmpty(t, got)
	var iceberg *model.AnomalyEvent
	for i := range got {
		if got[i].Type == model.AnomalyIcebergOrder {
			iceberg = &got[i]
		}
	}
	require.NotNil(t, iceberg)
	consistency, _ := iceberg.Details["refillConsistency"].(float64)
	assert.GreaterOrEqual(t, consistency, 0.7)
}

func TestMarketHealthReflectsCriticalAnomaly(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	d := New(testConfig(), "BTCUSDT", mustTicks(t, "0.01"), zap.NewNop(), met, nil, func(model.AnomalyEvent) {})

	tsMs := int64(0)
	noise := []string{"100.00", "100.02", "99.98", "100.01", "99.99"}
	for i := 0; i < 100; i++ {
		price := mustTicks(t, noise[i%len(noise)])
		d.OnEnrichedTrade(model.EnrichedTrade{Trade: model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, "1"), TsMs: tsMs, BuyerIsMaker: i%2 == 0}})
		tsMs += 100
	}
	d.OnEnrichedTrade(model.EnrichedTrade{Trade: model.AggressiveTrade{TradeID: 9999, PriceTicks: mustTicks(t, "80.00"), Qty: mustAmount(t, "1"), TsMs: tsMs, BuyerIsMaker: true}})

	health := d.MarketHealth()
	assert.False(t, health.IsHealthy)
	assert.Equal(t, model.ActionHalt, health.Recommendation)
}

func TestLiquidityVoidFromWideSpread(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	var got []model.AnomalyEvent
	d := New(testConfig(), "BTCUSDT", mustTicks(t, "0.01"), zap.NewNop(), met, nil, func(a model.AnomalyEvent) { got = append(got, a) })

	d.UpdateBestQuotes(mustTicks(t, "99.99"), mustTicks(t, "100.01"), 0)
	d.UpdateBestQuotes(mustTicks(t, "99.50"), mustTicks(t, "100.50"), 1000)

	require.NotEmpty(t, got)
	assert.Equal(t, model.AnomalyLiquidityVoid, got[len(got)-1].Type)
}

func TestPositioningGateNudgesRecommendationAndIsInertUntouched(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	d := New(testConfig(), "BTCUSDT", mustTicks(t, "0.01"), zap.NewNop(), met, nil, func(model.AnomalyEvent) {})

	untouched := d.MarketHealth()
	assert.Equal(t, model.PositioningNeutral, untouched.Metrics.Positioning)

	d.UpdatePositioning(1_000_000, 100.0)
	behavior := d.UpdatePositioning(1_005_000, 99.0)
	assert.Equal(t, model.PositioningShortBuildup, behavior)

	health := d.MarketHealth()
	assert.Equal(t, model.PositioningShortBuildup, health.Metrics.Positioning)
	assert.Equal(t, model.ActionReduceExposure, health.Recommendation)
}
