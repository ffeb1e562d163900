package absorption

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

func testConfig() config.AbsorptionConfig {
	return config.AbsorptionConfig{
		WindowMs:                 60000,
		MinAggVolume:             500,
		AbsorptionThreshold:      1.5,
		MaxAbsorptionRatio:       20,
		MinPassiveMultiplier:     1.2,
		PriceEfficiencyThreshold: 0.01,
		ZoneTicks:                10,
		EventCooldownMs:          15000,
		NRecentSnapshots:         5,
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

// TestAbsorptionBuySignal reproduces the S1 seed scenario: a run of
// aggressive buys at a pinned price against deep ask liquidity that
// builds up as the run continues (the passive wall reinforcing under
// pressure, which is what drives passiveVolumeMultiplier above 1).
func TestAbsorptionBuySignal(t *testing.T) {
	met := instrumentation.New(prometheus.NewRegistry())
	var got []model.SignalCandidate
	d := New(testConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "86.28")
	qtys := []string{"60", "75", "90", "105", "120", "135", "150", "165"}
	passiveAsk := []string{"1200", "1200", "1200", "1200", "1200", "1200", "1200", "1500"}
	tsMs := int64(1000)
	for i, q := range qtys {
		e := model.EnrichedTrade{
			Trade:             model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, q), TsMs: tsMs, BuyerIsMaker: false},
			HasBook:           true,
			ZonePassiveAskQty: mustAmount(t, passiveAsk[i]),
			ZonePassiveBidQty: mustAmount(t, "1500"),
		}
		d.OnEnrichedTrade(e)
		tsMs += 100
	}

	require.NotEmpty(t, got)
	sig := got[0]
	assert.Equal(t, model.PatternAbsorption, sig.Type)
	assert.Equal(t, model.SideBuy, sig.Side)
	assert.GreaterOrEqual(t, sig.Confidence, 0.6)
}

func TestAbsorptionBelowMinVolumeDoesNotEmit(t *testing.T) {
	met := instrumentation.New(prometheus.NewRegistry())
	var got []model.SignalCandidate
	d := New(testConfig(), mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "86.28")
	d.OnEnrichedTrade(model.EnrichedTrade{
		Trade:             model.AggressiveTrade{TradeID: 1, PriceTicks: price, Qty: mustAmount(t, "10"), TsMs: 1000, BuyerIsMaker: false},
		HasBook:           true,
		ZonePassiveAskQty: mustAmount(t, "1500"),
	})

	assert.Empty(t, got)
}

func TestAbsorptionCooldownSuppressesRepeat(t *testing.T) {
	met := instrumentation.New(prometheus.NewRegistry())
	var got []model.SignalCandidate
	cfg := testConfig()
	d := New(cfg, mustTicks(t, "0.01"), zap.NewNop(), met, func(s model.SignalCandidate) { got = append(got, s) })

	price := mustTicks(t, "50.00")
	qtys := []string{"60", "75", "90", "105", "120", "135", "150", "165"}
	passiveAsk := []string{"1200", "1200", "1200", "1200", "1200", "1200", "1200", "1500"}
	feed := func(tsMs int64) {
		for i, q := range qtys {
			d.OnEnrichedTrade(model.EnrichedTrade{
				Trade:             model.AggressiveTrade{TradeID: int64(i), PriceTicks: price, Qty: mustAmount(t, q), TsMs: tsMs + int64(i)*10, BuyerIsMaker: false},
				HasBook:           true,
				ZonePassiveAskQty: mustAmount(t, passiveAsk[i]),
			})
		}
	}
	feed(1000)
	require.Len(t, got, 1)
	feed(2000) // within cooldown window
	assert.Len(t, got, 1)
}
