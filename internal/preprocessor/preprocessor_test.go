package preprocessor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/book"
	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/xerrors"
)

func newTestPreprocessor(t *testing.T) (*Preprocessor, *book.Book) {
	t.Helper()
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	errc := xerrors.NewCounters(reg)
	bk := book.New(config.BookConfig{Symbol: "BTCUSDT", MaxLevels: 2000, PruneIntervalMs: 1000, StaleLevelMs: 60000, MaxErrorRateWindowed: 50, CircuitOpenMs: 5000}, zap.NewNop(), met, errc)

	cfg := config.PreprocessorConfig{
		TickSizeStr:                      "0.01",
		BandTicksForZonePassive:          50,
		Resolutions:                      []int64{5, 10, 20},
		SnapshotRetentionMsPerResolution: []int64{60000, 120000, 300000},
		SnapshotSpanTicks:                500,
	}
	p, err := New(cfg, bk, zap.NewNop(), met)
	require.NoError(t, err)
	return p, bk
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

func TestOnAggTradeMissingBookSetsFlag(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	var got model.EnrichedTrade
	p.Subscribe(func(e model.EnrichedTrade) { got = e })

	p.OnAggTrade(model.AggressiveTrade{TradeID: 1, PriceTicks: mustTicks(t, "100.00"), Qty: mustAmount(t, "1"), TsMs: 1000}, "corr-1")

	assert.True(t, got.BookDataMissing)
	assert.False(t, got.HasBook)
	assert.Equal(t, fixedpoint.Amount(0), got.ZonePassiveBidQty)
}

func TestOnAggTradeEnrichesFromBook(t *testing.T) {
	p, bk := newTestPreprocessor(t)
	require.NoError(t, bk.ApplyDepthDiff(model.DepthDiff{
		FinalUpdateID: 1,
		Levels: []model.DepthLevelUpdate{
			{PriceTicks: mustTicks(t, "99.99"), BidQty: mustAmount(t, "5")},
			{PriceTicks: mustTicks(t, "100.01"), AskQty: mustAmount(t, "7")},
		},
	}))

	var got model.EnrichedTrade
	p.Subscribe(func(e model.EnrichedTrade) { got = e })
	p.OnAggTrade(model.AggressiveTrade{TradeID: 1, PriceTicks: mustTicks(t, "100.00"), Qty: mustAmount(t, "1"), TsMs: 1000}, "corr-1")

	assert.True(t, got.HasBook)
	assert.Equal(t, mustTicks(t, "99.99"), got.BestBid)
	assert.Equal(t, mustTicks(t, "100.01"), got.BestAsk)
}

func TestZoneSnapshotsAccumulate(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	var last model.EnrichedTrade
	p.Subscribe(func(e model.EnrichedTrade) { last = e })

	for i := 0; i < 3; i++ {
		p.OnAggTrade(model.AggressiveTrade{TradeID: int64(i), PriceTicks: mustTicks(t, "86.28"), Qty: mustAmount(t, "10"), TsMs: int64(1000 + i), BuyerIsMaker: false}, "corr")
	}

	zones5 := last.ZoneData.Zones5Tick
	require.NotEmpty(t, zones5)
	var found bool
	for _, z := range zones5 {
		if z.TradeCount == 3 {
			found = true
			assert.Equal(t, mustAmount(t, "30"), z.AggressiveVolume)
			assert.Equal(t, mustAmount(t, "30"), z.AggressiveBuyVolume)
		}
	}
	assert.True(t, found)
}

func TestAggressiveBuySellSumsMatchTotal(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	var last model.EnrichedTrade
	p.Subscribe(func(e model.EnrichedTrade) { last = e })
	p.OnAggTrade(model.AggressiveTrade{TradeID: 1, PriceTicks: mustTicks(t, "50.00"), Qty: mustAmount(t, "4"), TsMs: 1, BuyerIsMaker: true}, "c")
	p.OnAggTrade(model.AggressiveTrade{TradeID: 2, PriceTicks: mustTicks(t, "50.00"), Qty: mustAmount(t, "6"), TsMs: 2, BuyerIsMaker: false}, "c")

	for _, z := range last.ZoneData.Zones5Tick {
		assert.Equal(t, z.AggressiveVolume, z.AggressiveBuyVolume+z.AggressiveSellVolume)
	}
}
