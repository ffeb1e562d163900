package exhaustion

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

func testConfig() config.ExhaustionConfig {
	return config.ExhaustionConfig{
		WindowMs:                       60000,
		MinAggVolume:                   400,
		ExhaustionThreshold:            0.4,
		PassiveVolumeExhaustionRatio:   0.5,
		MinEnhancedConfidenceThreshold: 0.55,
		AlignmentNormalizationFactor:   0.6,
		NFlowTrades:                    20,
		MinZoneConfluenceCount:         2,
		MaxZoneConfluenceDistanceTicks: 30,
	}
}

func testUZConfig() config.UniversalZoneConfig {
	return config.UniversalZoneConfig{
		MinZoneConfluenceCount:         2,
		MaxZoneConfluenceDistanceTicks: 30,
		ConfluenceConfidenceBoost:      0.1,
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

func confluentZoneData(t *testing.T, price fixedpoint.Ticks, buyVol, sellVol string) model.ZoneData {
	snap := model.ZoneSnapshot{
		PriceLevel:           price,
		AggressiveVolume:     mustAmount(t, buyVol) + mustAmount(t, sellVol),
		AggressiveBuyVolume:  mustAmount(t, buyVol),
		AggressiveSellVolume: mustAmount(t, sellVol),
	}
	return model.ZoneData{
		Zones5Tick:  []model.ZoneSnapshot{snap},
		Zones10Tick: []model.ZoneSnapshot{snap},
		Zones20Tick: []model.ZoneSnapshot{snap},
	}
}

// TestExhaustionSellSignal reproduces the S2 seed scenario: a run of
// aggressive buys whose volume collapses in the second half, against
// thin same-side passive liquidity.
func TestExhaustionSellSignal(t *testing.T) {
	met := instrumentation.New(prometheus.NewRegistry())
	var got []model.SignalCandidate
	d := New(testConfig(), testUZConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "86.30")
	zd := confluentZoneData(t, price, "1035", "115") // 0.9 buy share at every resolution

	qty1 := mustAmount(t, "90") // 10 trades of 90 = 900
	qty2 := mustAmount(t, "25") // 10 trades of 25 = 250
	tsMs := int64(1000)
	for i := 0; i < 10; i++ {
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade:                model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: qty1, TsMs: tsMs, BuyerIsMaker: false},
			HasBook:              true,
			PassiveBidQtyAtPrice: mustAmount(t, "50"),
			ZonePassiveBidQty:    mustAmount(t, "50"),
			ZoneData:             zd,
		})
		tsMs += 100
	}
	for i := 0; i < 10; i++ {
		d.OnEnrichedTrade(model.EnrichedTrade{
			Trade:                model.AggressiveTrade{TradeID: int64(10 + i), PriceTicks: price, Qty: qty2, TsMs: tsMs, BuyerIsMaker: false},
			HasBook:              true,
			PassiveBidQtyAtPrice: mustAmount(t, "50"),
			ZonePassiveBidQty:    mustAmount(t, "50"),
			ZoneData:             zd,
		})
		tsMs += 100
	}

	require.NotEmpty(t, got)
	sig := got[0]
	assert.Equal(t, model.PatternExhaustion, sig.Type)
	assert.Equal(t, model.SideSell, sig.Side)
	assert.GreaterOrEqual(t, sig.Confidence, testConfig().MinEnhancedConfidenceThreshold)
}

func TestExhaustionBelowMinVolumeDoesNotEmit(t *testing.T) {
	met := instrumentation.New(prometheus.NewRegistry())
	var got []model.SignalCandidate
	d := New(testConfig(), testUZConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "86.30")
	d.OnEnrichedTrade(model.EnrichedTrade{
		Trade:             model.AggressiveTrade{TradeID: 1, PriceTicks: price, Qty: mustAmount(t, "10"), TsMs: 1000, BuyerIsMaker: false},
		HasBook:           true,
		ZonePassiveBidQty: mustAmount(t, "50"),
	})

	assert.Empty(t, got)
}
