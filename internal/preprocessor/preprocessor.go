// Package preprocessor converts each AggressiveTrade plus current book
// state into an EnrichedTrade, maintaining multi-resolution
// ZoneSnapshots along the way. It is the single owner of those rolling
// accumulators; the book is consulted read-only.
//
// The rolling-snapshot update loop is adapted from the teacher's
// time-bucket candle aggregator (internal/engine): "locate bucket by
// key, reset on first touch, otherwise accumulate in place" — here the
// bucket key is a price zone instead of a time window, and there can be
// many live buckets per resolution instead of one.
package preprocessor

import (
	"sort"

	"go.uber.org/zap"

	"orderflow/internal/book"
	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// Preprocessor enriches trades with passive liquidity context and
// multi-resolution zone snapshots.
type Preprocessor struct {
	cfg      config.PreprocessorConfig
	tickSize fixedpoint.Ticks
	bandTicks fixedpoint.Ticks
	spanTicks fixedpoint.Ticks
	gridByResolution map[int64]int64
	retentionByResolution map[int64]int64

	book *book.Book
	log  *zap.Logger
	met  *instrumentation.Metrics

	zones map[int64]map[fixedpoint.Ticks]*model.ZoneSnapshot

	subscribers []func(model.EnrichedTrade)
}

// New constructs a Preprocessor reading from bk.
func New(cfg config.PreprocessorConfig, bk *book.Book, log *zap.Logger, met *instrumentation.Metrics) (*Preprocessor, error) {
	tickSize, err := fixedpoint.ParseTicks(cfg.TickSizeStr)
	if err != nil {
		return nil, err
	}
	p := &Preprocessor{
		cfg:                   cfg,
		tickSize:              tickSize,
		bandTicks:             fixedpoint.Ticks(cfg.BandTicksForZonePassive) * tickSize,
		spanTicks:             fixedpoint.Ticks(cfg.SnapshotSpanTicks) * tickSize,
		gridByResolution:      make(map[int64]int64, len(cfg.Resolutions)),
		retentionByResolution: make(map[int64]int64, len(cfg.Resolutions)),
		book:                  bk,
		log:                   log.With(zap.String("component", "preprocessor")),
		met:                   met,
		zones:                 make(map[int64]map[fixedpoint.Ticks]*model.ZoneSnapshot, len(cfg.Resolutions)),
	}
	for i, k := range cfg.Resolutions {
		p.gridByResolution[k] = k * int64(tickSize)
		p.retentionByResolution[k] = cfg.SnapshotRetentionMsPerResolution[i]
		p.zones[k] = make(map[fixedpoint.Ticks]*model.ZoneSnapshot)
	}
	return p, nil
}

// Subscribe registers a detector/anomaly callback invoked for every
// EnrichedTrade, in strict arrival order.
func (p *Preprocessor) Subscribe(fn func(model.EnrichedTrade)) {
	p.subscribers = append(p.subscribers, fn)
}

// OnAggTrade enriches trade and publishes it to every subscriber. It
// never drops a trade, even when the book has no data at the traded
// price (the resulting EnrichedTrade carries BookDataMissing=true).
func (p *Preprocessor) OnAggTrade(trade model.AggressiveTrade, correlationID string) {
	priceTicks := fixedpoint.SnapDown(trade.PriceTicks, int64(p.tickSize))
	if p.tickSize == 0 {
		priceTicks = trade.PriceTicks
	}

	enriched := model.EnrichedTrade{
		Trade:         trade,
		CorrelationID: correlationID,
	}

	if bid, ok := p.book.BestBid(); ok {
		if ask, ok2 := p.book.BestAsk(); ok2 {
			enriched.BestBid = bid
			enriched.BestAsk = ask
			enriched.HasBook = true
		}
	}

	if lvl, ok := p.book.LevelAt(priceTicks); ok {
		enriched.PassiveBidQtyAtPrice = lvl.BidQty
		enriched.PassiveAskQtyAtPrice = lvl.AskQty
	} else {
		enriched.BookDataMissing = true
	}

	if enriched.HasBook {
		bidQty, askQty, _ := p.book.BandSum(priceTicks, p.bandTicks)
		enriched.ZonePassiveBidQty = bidQty
		enriched.ZonePassiveAskQty = askQty
	} else {
		enriched.BookDataMissing = true
	}

	for _, k := range p.cfg.Resolutions {
		p.updateSnapshot(k, priceTicks, trade)
	}
	p.ageOutSnapshots(trade.TsMs)

	enriched.ZoneData = p.buildZoneData(priceTicks)

	if p.met != nil {
		p.met.TradesProcessedTotal.Inc()
	}

	for _, fn := range p.subscribers {
		fn(enriched)
	}
}

func (p *Preprocessor) updateSnapshot(resolution int64, priceTicks fixedpoint.Ticks, trade model.AggressiveTrade) {
	grid := p.gridByResolution[resolution]
	zoneKey := fixedpoint.SnapDown(priceTicks, grid)
	bucket := p.zones[resolution]
	snap, ok := bucket[zoneKey]
	if !ok {
		snap = &model.ZoneSnapshot{
			PriceLevel:    zoneKey,
			TickSize:      resolution,
			BoundaryMin:   zoneKey,
			BoundaryMax:   zoneKey + fixedpoint.Ticks(grid),
			FirstUpdateMs: trade.TsMs,
		}
		bucket[zoneKey] = snap
	}

	qtyFloat := fixedpoint.ToFloat(int64(trade.Qty))
	priceFloat := fixedpoint.ToFloat(int64(priceTicks))
	prevVolume := fixedpoint.ToFloat(int64(snap.AggressiveVolume))
	newVolume := prevVolume + qtyFloat
	if newVolume > 0 {
		snap.VolumeWeightedPrice = (snap.VolumeWeightedPrice*prevVolume + priceFloat*qtyFloat) / newVolume
	} else {
		snap.VolumeWeightedPrice = priceFloat
	}

	snap.AggressiveVolume += trade.Qty
	if trade.AggressorSide() == model.SideBuy {
		snap.AggressiveBuyVolume += trade.Qty
	} else {
		snap.AggressiveSellVolume += trade.Qty
	}
	snap.TradeCount++
	if snap.FirstUpdateMs == 0 || trade.TsMs < snap.FirstUpdateMs {
		snap.FirstUpdateMs = trade.TsMs
	}
	snap.LastUpdateMs = trade.TsMs
	snap.TimespanMs = snap.LastUpdateMs - snap.FirstUpdateMs
}

func (p *Preprocessor) ageOutSnapshots(nowMs int64) {
	for _, k := range p.cfg.Resolutions {
		retention := p.retentionByResolution[k]
		bucket := p.zones[k]
		for key, snap := range bucket {
			if nowMs-snap.LastUpdateMs > retention {
				delete(bucket, key)
			}
		}
	}
}

// buildZoneData returns the snapshots at all resolutions whose zoneKey is
// within ±spanTicks of priceTicks, sorted by zoneKey for determinism.
func (p *Preprocessor) buildZoneData(priceTicks fixedpoint.Ticks) model.ZoneData {
	var data model.ZoneData
	for _, k := range p.cfg.Resolutions {
		snaps := p.snapshotsNear(k, priceTicks)
		switch k {
		case 5:
			data.Zones5Tick = snaps
		case 10:
			data.Zones10Tick = snaps
		case 20:
			data.Zones20Tick = snaps
		}
	}
	return data
}

func (p *Preprocessor) snapshotsNear(resolution int64, priceTicks fixedpoint.Ticks) []model.ZoneSnapshot {
	bucket := p.zones[resolution]
	out := make([]model.ZoneSnapshot, 0, len(bucket))
	for key, snap := range bucket {
		if fixedpoint.Abs(key-priceTicks) <= p.spanTicks {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceLevel < out[j].PriceLevel })
	return out
}

// FindZonesNearPrice is a pure helper exposed to detectors: filters zones
// within maxDistanceTicks of priceTicks.
func FindZonesNearPrice(zones []model.ZoneSnapshot, priceTicks fixedpoint.Ticks, maxDistanceTicks fixedpoint.Ticks) []model.ZoneSnapshot {
	out := make([]model.ZoneSnapshot, 0, len(zones))
	for _, z := range zones {
		if fixedpoint.Abs(z.PriceLevel-priceTicks) <= maxDistanceTicks {
			out = append(out, z)
		}
	}
	return out
}
