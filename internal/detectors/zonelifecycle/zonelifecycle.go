// Package zonelifecycle implements the shared accumulation/distribution
// state machine: a candidate buffer per price zone that is promoted into
// a long-lived TradingZone once duration/volume/side-ratio thresholds
// are met, then kept alive against the ZoneEngine for the rest of its
// life.
//
// The accumulation and distribution detectors are two configurations of
// this same machine (mirrored side), not two separate code paths — this
// collapses the source's base/enhanced-wrapper duplication (design notes
// §9) into one state machine selected by type at construction.
package zonelifecycle

import (
	"fmt"

	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/zoneengine"
)

type tradeSample struct {
	tsMs  int64
	qty   fixedpoint.Amount
	side  model.Side
	price fixedpoint.Ticks
}

type candidateBuffer struct {
	trades          []tradeSample
	zoneID          string // empty until promoted
	lastEmitStrength float64
	emittedCreated   bool
	emittedCompleted bool
}

// Detector is the shared accumulation/distribution state machine.
type Detector struct {
	zoneType model.ZoneType
	symbol   string
	cfg      config.ZoneLifecycleConfig
	tickSize fixedpoint.Ticks
	engine   *zoneengine.Engine
	log      *zap.Logger
	met      *instrumentation.Metrics

	buffers map[fixedpoint.Ticks]*candidateBuffer
	emit    func(model.SignalCandidate)

	zoneUpdateEmit func(model.ZoneUpdate)
}

// OnZoneUpdate registers a sink for raw zone lifecycle transitions,
// diagnostic traffic distinct from the gated SignalCandidate stream.
func (d *Detector) OnZoneUpdate(fn func(model.ZoneUpdate)) {
	d.zoneUpdateEmit = fn
}

// New constructs a Detector bound to a shared ZoneEngine instance.
// tickSize is the market's minimum price increment.
func New(zoneType model.ZoneType, symbol string, cfg config.ZoneLifecycleConfig, tickSize fixedpoint.Ticks, engine *zoneengine.Engine, log *zap.Logger, met *instrumentation.Metrics, emit func(model.SignalCandidate)) *Detector {
	return &Detector{
		zoneType: zoneType,
		symbol:   symbol,
		cfg:      cfg,
		tickSize: tickSize,
		engine:   engine,
		log:      log.With(zap.String("component", fmt.Sprintf("detector.%s", zoneType))),
		met:      met,
		buffers:  make(map[fixedpoint.Ticks]*candidateBuffer),
		emit:     emit,
	}
}

// OnEnrichedTrade feeds one trade into the detector.
func (d *Detector) OnEnrichedTrade(e model.EnrichedTrade) {
	zoneKey := fixedpoint.ZoneKey(e.Trade.PriceTicks, d.cfg.ZoneSizeTicks*int64(d.tickSize))
	buf, ok := d.buffers[zoneKey]
	if !ok {
		buf = &candidateBuffer{}
		d.buffers[zoneKey] = buf
	}

	side := e.Trade.AggressorSide()
	buf.trades = append(buf.trades, tradeSample{tsMs: e.Trade.TsMs, qty: e.Trade.Qty, side: side, price: e.Trade.PriceTicks})
	buf.trades = pruneOlderThan(buf.trades, e.Trade.TsMs, d.cfg.WindowMs)
	if len(buf.trades) == 0 {
		return
	}

	durationMs := buf.trades[len(buf.trades)-1].tsMs - buf.trades[0].tsMs
	aggVolume, buyVolume, sellVolume := sumVolumes(buf.trades)
	aggVolumeF := fixedpoint.ToFloat(int64(aggVolume))
	tradeCount := len(buf.trades)

	sideRatio := sideRatioFor(d.zoneType, buyVolume, sellVolume)
	minRatio := d.cfg.MinSellRatio
	if d.zoneType == model.ZoneDistribution {
		minRatio = d.cfg.MinBuyRatio
	}

	if buf.zoneID == "" {
		if durationMs < d.cfg.MinDurationMs || aggVolumeF < d.cfg.MinZoneVolume || tradeCount < d.cfg.MinTradeCount || sideRatio < minRatio {
			return
		}
		d.promote(buf, e)
		return
	}

	supporting := d.supportingFactors(buf, sideRatio)
	upd := d.engine.UpdateZone(buf.zoneID, e.Trade.TsMs, e.Trade.Qty, supporting)
	if upd == nil {
		return
	}
	if d.zoneUpdateEmit != nil {
		d.zoneUpdateEmit(*upd)
	}
	d.handleUpdate(buf, upd, e)
}

func (d *Detector) promote(buf *candidateBuffer, e model.EnrichedTrade) {
	pr := priceRange(buf.trades)
	aggVolume, _, _ := sumVolumes(buf.trades)
	avgOrderSize := aggVolume / fixedpoint.Amount(len(buf.trades))

	sideRatio := sideRatioFor(d.zoneType, sumSide(buf.trades, model.SideBuy), sumSide(buf.trades, model.SideSell))
	supporting := d.supportingFactors(buf, sideRatio)

	initialStrength := fixedpoint.Clamp(0.3+0.2*sideRatio, 0, 1)
	confidence := fixedpoint.Clamp(sideRatio, 0, 1)

	zone := d.engine.CreateZone(d.zoneType, d.symbol, e.Trade.TsMs, zoneengine.Detection{
		PriceRange:        pr,
		TotalVolume:       aggVolume,
		AverageOrderSize:  avgOrderSize,
		TradeCount:        len(buf.trades),
		InitialStrength:   initialStrength,
		Confidence:        confidence,
		SupportingFactors: supporting,
	})
	buf.zoneID = zone.ID
	buf.lastEmitStrength = zone.Strength

	if zone.Strength >= d.cfg.MinZoneStrength && !buf.emittedCreated {
		buf.emittedCreated = true
		d.emitSignal(zone, model.ZoneUpdateCreated, e)
	}
}

func (d *Detector) handleUpdate(buf *candidateBuffer, upd *model.ZoneUpdate, e model.EnrichedTrade) {
	zone := upd.Zone
	switch upd.UpdateType {
	case model.ZoneUpdateStrengthened:
		if zone.Strength-buf.lastEmitStrength >= d.cfg.StrengthenEmitThreshold {
			buf.lastEmitStrength = zone.Strength
			d.emitSignal(zone, model.ZoneUpdateStrengthened, e)
		}
	case model.ZoneUpdateCompleted:
		if !buf.emittedCompleted {
			buf.emittedCompleted = true
			d.emitSignal(zone, model.ZoneUpdateCompleted, e)
		}
	}
}

func (d *Detector) emitSignal(zone *model.TradingZone, transition model.ZoneUpdateType, e model.EnrichedTrade) {
	patternType := model.PatternAccumulation
	side := model.SideBuy
	if d.zoneType == model.ZoneDistribution {
		patternType = model.PatternDistribution
		side = model.SideSell
	}

	d.emit(model.SignalCandidate{
		Type:          patternType,
		Side:          side,
		PriceTicks:    zone.PriceRange.Center,
		Confidence:    zone.Confidence,
		TsMs:          e.Trade.TsMs,
		CorrelationID: e.CorrelationID,
		Payload: map[string]any{
			"zoneId":     zone.ID,
			"transition": string(transition),
			"strength":   zone.Strength,
			"completion": zone.Completion,
		},
	})
}

func (d *Detector) supportingFactors(buf *candidateBuffer, sideRatio float64) model.SupportingFactors {
	avgOrderSize := fixedpoint.ToFloat(int64(averageOrderSize(buf.trades)))
	profile := model.ProfileRetail
	switch {
	case avgOrderSize >= 50:
		profile = model.ProfileInstitutional
	case avgOrderSize >= 10:
		profile = model.ProfileMixed
	}

	pr := priceRange(buf.trades)
	centerF := fixedpoint.ToFloat(int64(pr.Center))
	widthF := fixedpoint.ToFloat(int64(pr.Width))
	priceStability := 0.0
	if centerF > 0 {
		priceStability = fixedpoint.Clamp(1-widthF/centerF, 0, 1)
	}

	return model.SupportingFactors{
		VolumeConcentration: fixedpoint.Clamp(sideRatio, 0, 1),
		OrderSizeProfile:    profile,
		TimeConsistency:     timeConsistency(buf.trades),
		PriceStability:      priceStability,
		FlowConsistency:      fixedpoint.Clamp(sideRatio, 0, 1),
	}
}

func pruneOlderThan(trades []tradeSample, nowMs, windowMs int64) []tradeSample {
	cut := 0
	for i, t := range trades {
		if nowMs-t.tsMs <= windowMs {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut >= len(trades) {
		return trades[:0]
	}
	return trades[cut:]
}

func sumVolumes(trades []tradeSample) (total, buy, sell fixedpoint.Amount) {
	for _, t := range trades {
		total += t.qty
		if t.side == model.SideBuy {
			buy += t.qty
		} else {
			sell += t.qty
		}
	}
	return total, buy, sell
}

func sumSide(trades []tradeSample, side model.Side) fixedpoint.Amount {
	var total fixedpoint.Amount
	for _, t := range trades {
		if t.side == side {
			total += t.qty
		}
	}
	return total
}

// sideRatioFor returns the sellRatio for accumulation (sellers hitting
// bids being absorbed) or the buyRatio for distribution.
func sideRatioFor(zoneType model.ZoneType, buy, sell fixedpoint.Amount) float64 {
	total := fixedpoint.ToFloat(int64(buy + sell))
	if total <= 0 {
		return 0
	}
	if zoneType == model.ZoneAccumulation {
		return fixedpoint.ToFloat(int64(sell)) / total
	}
	return fixedpoint.ToFloat(int64(buy)) / total
}

func averageOrderSize(trades []tradeSample) fixedpoint.Amount {
	if len(trades) == 0 {
		return 0
	}
	total, _, _ := sumVolumes(trades)
	return total / fixedpoint.Amount(len(trades))
}

func priceRange(trades []tradeSample) model.PriceRange {
	if len(trades) == 0 {
		return model.PriceRange{}
	}
	min, max := trades[0].price, trades[0].price
	for _, t := range trades {
		if t.price < min {
			min = t.price
		}
		if t.price > max {
			max = t.price
		}
	}
	return model.PriceRange{Min: min, Max: max, Center: (min + max) / 2, Width: max - min}
}

// timeConsistency scores how evenly spaced the trades are: 1 for
// perfectly uniform inter-trade gaps, decaying toward 0 as the
// coefficient of variation of gaps grows.
func timeConsistency(trades []tradeSample) float64 {
	if len(trades) < 3 {
		return 0.5
	}
	gaps := make([]float64, 0, len(trades)-1)
	for i := 1; i < len(trades); i++ {
		gaps = append(gaps, float64(trades[i].tsMs-trades[i-1].tsMs))
	}
	mean := fixedpoint.Mean(gaps)
	if mean <= 0 {
		return 0.5
	}
	cv := fixedpoint.StdDev(gaps) / mean
	return fixedpoint.Clamp(1-cv, 0, 1)
}
