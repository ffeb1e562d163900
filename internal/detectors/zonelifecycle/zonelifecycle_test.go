package zonelifecycle

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
	"orderflow/internal/zoneengine"
)

func testZLConfig() config.ZoneLifecycleConfig {
	return config.ZoneLifecycleConfig{
		WindowMs:                300000,
		MinDurationMs:           120000,
		ZoneSizeTicks:           10,
		MinRatio:                1.5,
		MinAggVolume:            300,
		MinSellRatio:            0.65,
		MinBuyRatio:             0.65,
		MinZoneVolume:           600,
		MinTradeCount:           8,
		MinZoneStrength:         0.45,
		MaxPriceDeviationTicks:  30,
		StrengthenEmitThreshold: 0.15,
	}
}

func testZEConfig() config.ZoneEngineConfig {
	return config.ZoneEngineConfig{
		MaxActiveZones:          25,
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

// TestAccumulationZoneCreated reproduces the S5 seed scenario: 12 trades
// over 2.5 minutes within a narrow band, sellRatio 0.83, aggregate qty
// 900 — enough to promote a candidate into an active accumulation zone.
func TestAccumulationZoneCreated(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	engine := zoneengine.New(testZEConfig(), mustTicks(t, "0.01"), zap.NewNop(), met)

	var got []model.SignalCandidate
	d := New(model.ZoneAccumulation, "BTCUSDT", testZLConfig(), mustTicks(t, "0.01"), engine, zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "100.00")
	tsMs := int64(0)
	// 10 sell trades, 2 buy trades -> sellRatio = 10/12 = 0.833.
	for i := 0; i < 12; i++ {
		side := true // buyerIsMaker => aggressor sell
		if i == 5 || i == 6 {
			side = false
		}
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade: model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, "75"), TsMs: tsMs, BuyerIsMaker: side},
		})
		tsMs += 13000 // ~2.5 minutes across 12 trades
	}

	zones := engine.QueryZones(zoneengine.QueryFilter{Symbol: "BTCUSDT", Type: model.ZoneAccumulation}, tsMs)
	require.Len(t, zones, 1)
	assert.GreaterOrEqual(t, zones[0].Strength, 0.0)
	assert.NotEmpty(t, got)
}

// TestOverlappingCandidateMerges verifies that a second candidate buffer
// whose price zone overlaps an already-promoted zone merges into it
// instead of creating a second TradingZone.
func TestOverlappingCandidateMerges(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	engine := zoneengine.New(testZEConfig(), mustTicks(t, "0.01"), zap.NewNop(), met)

	var got []model.SignalCandidate
	emit := func(s model.SignalCandidate) { got = append(got, s) }

	d1 := New(model.ZoneAccumulation, "BTCUSDT", testZLConfig(), mustTicks(t, "0.01"), engine, zap.NewNop(), met, emit)
	tsMs := int64(0)
	price1 := mustTicks(t, "100.00")
	for i := 0; i < 12; i++ {
		d1.OnEnrichedTrade(model.EnrichedTrade{
			Trade: model.AggressiveTrade{TradeID: int64(i), PriceTicks: price1, Qty: mustAmount(t, "75"), TsMs: tsMs, BuyerIsMaker: true},
		})
		tsMs += 13000
	}

	d2 := New(model.ZoneAccumulation, "BTCUSDT", testZLConfig(), mustTicks(t, "0.01"), engine, zap.NewNop(), met, emit)
	price2 := mustTicks(t, "100.02") // within MergeToleranceTicks of zone 1
	for i := 0; i < 12; i++ {
		d2.OnEnrichedTrade(model.EnrichedTrade{
			Trade: model.AggressiveTrade{TradeID: int64(100 + i), PriceTicks: price2, Qty: mustAmount(t, "75"), TsMs: tsMs, BuyerIsMaker: true},
		})
		tsMs += 13000
	}

	zones := engine.QueryZones(zoneengine.QueryFilter{Symbol: "BTCUSDT", Type: model.ZoneAccumulation}, tsMs)
	assert.Len(t, zones, 1)
}
