package model

import "orderflow/internal/fixedpoint"

// ZoneSnapshot is a rolling accumulator for one price zone at one tick
// resolution (spec §3 ZoneSnapshot). Owned by the preprocessor.
type ZoneSnapshot struct {
	PriceLevel           fixedpoint.Ticks
	TickSize             int64 // resolution: 5, 10, or 20 ticks
	AggressiveVolume     fixedpoint.Amount
	PassiveVolume        fixedpoint.Amount
	AggressiveBuyVolume  fixedpoint.Amount
	AggressiveSellVolume fixedpoint.Amount
	PassiveBidVolume     fixedpoint.Amount
	PassiveAskVolume     fixedpoint.Amount
	TradeCount           int
	TimespanMs           int64
	BoundaryMin          fixedpoint.Ticks
	BoundaryMax          fixedpoint.Ticks
	LastUpdateMs         int64
	FirstUpdateMs        int64
	VolumeWeightedPrice  float64 // running volume-weighted mean, presentation only
}

// ZoneData is the subset of active multi-resolution snapshots near the
// current price, handed to every detector on every trade.
type ZoneData struct {
	Zones5Tick  []ZoneSnapshot
	Zones10Tick []ZoneSnapshot
	Zones20Tick []ZoneSnapshot
}

// ByResolution returns the snapshot slice for the given tick resolution.
func (z ZoneData) ByResolution(k int64) []ZoneSnapshot {
	switch k {
	case 5:
		return z.Zones5Tick
	case 10:
		return z.Zones10Tick
	case 20:
		return z.Zones20Tick
	default:
		return nil
	}
}

// AllResolutions returns the three resolutions tracked, in order.
func AllResolutions() []int64 { return []int64{5, 10, 20} }

// EnrichedTrade is what the preprocessor emits to detectors: the raw trade
// plus book/zone context. Immutable once emitted.
type EnrichedTrade struct {
	Trade AggressiveTrade

	BestBid fixedpoint.Ticks
	BestAsk fixedpoint.Ticks
	HasBook bool // false when the book had no best bid/ask at enrichment time

	PassiveBidQtyAtPrice fixedpoint.Amount
	PassiveAskQtyAtPrice fixedpoint.Amount
	ZonePassiveBidQty    fixedpoint.Amount
	ZonePassiveAskQty    fixedpoint.Amount
	BookDataMissing      bool // true when the book had no level at the traded price or no best bid/ask; in the latter case zonePassive volumes are a zero-fill

	ZoneData ZoneData

	CorrelationID string
}

// Spread returns bestAsk - bestBid if both sides of the book were present
// at enrichment time.
func (e EnrichedTrade) Spread() (fixedpoint.Ticks, bool) {
	if !e.HasBook {
		return 0, false
	}
	return e.BestAsk - e.BestBid, true
}

// MidPrice returns the book mid price if both sides were present.
func (e EnrichedTrade) MidPrice() (fixedpoint.Ticks, bool) {
	if !e.HasBook {
		return 0, false
	}
	return (e.BestBid + e.BestAsk) / 2, true
}
