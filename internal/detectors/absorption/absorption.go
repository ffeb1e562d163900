// Package absorption implements the absorption pattern detector: a large
// run of aggressive volume on one side failing to move price while
// opposite-side passive liquidity stays thick.
//
// State shape is grounded on the preprocessor's own rolling-bucket idiom
// (orderflow/internal/preprocessor): a small per-zone ring of recent
// trades, aged out by windowMs, rather than a full trade log.
package absorption

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

type tradeSample struct {
	tsMs  int64
	qty   fixedpoint.Amount
	side  model.Side
	price fixedpoint.Ticks
}

type zoneState struct {
	trades         []tradeSample
	passiveHistory []float64
	volumeHistory  []float64
	lastSignalMs   int64
}

// Detector is the absorption pattern state machine, one instance per
// symbol, keyed internally by price zone.
type Detector struct {
	cfg      config.AbsorptionConfig
	tickSize fixedpoint.Ticks
	log      *zap.Logger
	met      *instrumentation.Metrics

	zones map[fixedpoint.Ticks]*zoneState

	emit func(model.SignalCandidate)
}

// New constructs a Detector. tickSize is the market's minimum price
// increment, used to convert cfg.ZoneTicks into an actual price grid.
// emit is called synchronously for every qualifying signal candidate.
func New(cfg config.AbsorptionConfig, tickSize fixedpoint.Ticks, log *zap.Logger, met *instrumentation.Metrics, emit func(model.SignalCandidate)) *Detector {
	return &Detector{
		cfg:      cfg,
		tickSize: tickSize,
		log:      log.With(zap.String("component", "detector.absorption")),
		met:      met,
		zones:    make(map[fixedpoint.Ticks]*zoneState),
		emit:     emit,
	}
}

// OnEnrichedTrade feeds one trade into the detector. Never blocks, never
// returns an error: malformed or inconclusive trades simply update state.
func (d *Detector) OnEnrichedTrade(e model.EnrichedTrade) {
	zoneKey := fixedpoint.ZoneKey(e.Trade.PriceTicks, d.cfg.ZoneTicks*int64(d.tickSize))
	zs, ok := d.zones[zoneKey]
	if !ok {
		zs = &zoneState{}
		d.zones[zoneKey] = zs
	}

	side := e.Trade.AggressorSide()
	zs.trades = append(zs.trades, tradeSample{tsMs: e.Trade.TsMs, qty: e.Trade.Qty, side: side, price: e.Trade.PriceTicks})
	zs.trades = pruneOlderThan(zs.trades, e.Trade.TsMs, d.cfg.WindowMs)

	aggVolume, buyVolume, sellVolume := sumVolumes(zs.trades)
	aggVolumeF := fixedpoint.ToFloat(int64(aggVolume))

	zs.volumeHistory = appendBounded(zs.volumeHistory, aggVolumeF, d.cfg.NRecentSnapshots*4)

	var passiveOpposite fixedpoint.Amount
	if side == model.SideBuy {
		passiveOpposite = e.ZonePassiveAskQty
	} else {
		passiveOpposite = e.ZonePassiveBidQty
	}
	passiveF := fixedpoint.ToFloat(int64(passiveOpposite))
	zs.passiveHistory = appendBounded(zs.passiveHistory, passiveF, d.cfg.NRecentSnapshots*4)

	if aggVolumeF <= d.cfg.MinAggVolume {
		return
	}

	priceRangePercent := priceRangeOverRecent(zs.trades, d.cfg.NRecentSnapshots)
	if priceRangePercent > d.cfg.PriceEfficiencyThreshold {
		return
	}

	if passiveF == 0 {
		return
	}
	absorptionRatio := passiveF / aggVolumeF
	if absorptionRatio < d.cfg.AbsorptionThreshold || absorptionRatio > d.cfg.MaxAbsorptionRatio {
		return
	}

	rollingAvgPassive := fixedpoint.Mean(zs.passiveHistory)
	passiveMultiplier := fixedpoint.DivGuard(passiveF, rollingAvgPassive, 0)
	if passiveMultiplier < d.cfg.MinPassiveMultiplier {
		return
	}

	if zs.lastSignalMs != 0 && e.Trade.TsMs-zs.lastSignalMs < d.cfg.EventCooldownMs {
		return
	}

	avgVolume := fixedpoint.Mean(zs.volumeHistory)
	priceStability := fixedpoint.Clamp(1-priceRangePercent/d.cfg.PriceEfficiencyThreshold, 0, 1)
	flowImbalance := fixedpoint.DivGuard(
		fixedpoint.ToFloat(int64(buyVolume))-fixedpoint.ToFloat(int64(sellVolume)),
		fixedpoint.ToFloat(int64(buyVolume))+fixedpoint.ToFloat(int64(sellVolume)),
		0,
	)

	confidence := 0.5
	if aggVolumeF > 3*avgVolume {
		confidence += 0.15
	}
	if priceStability > 0.95 {
		confidence += 0.15
	}
	if absFloat(flowImbalance) > 0.7 {
		confidence += 0.1
	}
	confidence = fixedpoint.Clamp(confidence, 0, 1)

	// Absorbing side is opposite the aggressor: buyers absorbing sellers
	// means the aggressor side was sell and the signal side is buy.
	signalSide := side.Opposite()

	zs.lastSignalMs = e.Trade.TsMs

	d.emit(model.SignalCandidate{
		Type:          model.PatternAbsorption,
		Side:          signalSide,
		PriceTicks:    e.Trade.PriceTicks,
		Confidence:    confidence,
		TsMs:          e.Trade.TsMs,
		CorrelationID: e.CorrelationID,
		Payload: map[string]any{
			"absorbingSide":         string(signalSide),
			"aggressiveSide":        string(side),
			"absorptionRatio":       absorptionRatio,
			"priceRangePercent":     priceRangePercent,
			"rollingAggressiveVolume": aggVolumeF,
		},
	})
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

func priceRangeOverRecent(trades []tradeSample, n int) float64 {
	if len(trades) == 0 {
		return 0
	}
	start := len(trades) - n
	if start < 0 {
		start = 0
	}
	recent := trades[start:]
	min, max := recent[0].price, recent[0].price
	for _, t := range recent {
		if t.price < min {
			min = t.price
		}
		if t.price > max {
			max = t.price
		}
	}
	avg := (fixedpoint.ToFloat(int64(min)) + fixedpoint.ToFloat(int64(max))) / 2
	return fixedpoint.DivGuard(fixedpoint.ToFloat(int64(max-min)), avg, 0)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func appendBounded(xs []float64, v float64, max int) []float64 {
	if max <= 0 {
		max = 1
	}
	xs = append(xs, v)
	if len(xs) > max {
		xs = xs[len(xs)-max:]
	}
	return xs
}
