// Package exhaustion implements the exhaustion pattern detector: one-sided
// aggressive flow drying up, or depleting same-side resting liquidity,
// signalling reversal pressure.
//
// Cross-resolution alignment reuses the zone data the preprocessor
// already hands every trade (model.ZoneData.ByResolution), rather than
// recomputing per-resolution state of its own — the detector is a pure
// consumer of that fan-out, grounded on the same "query all three
// resolutions, then combine" idiom the preprocessor itself uses when
// assembling a ZoneData view.
package exhaustion

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

type tradeSample struct {
	tsMs int64
	qty  fixedpoint.Amount
	side model.Side
}

type zoneState struct {
	trades       []tradeSample
	lastSignalMs int64
}

// Detector is the exhaustion pattern state machine, keyed internally by
// price zone on a fixed grid of exhaustionZoneTicks (10) ticks; the grid
// width is not read from configuration.
type Detector struct {
	cfg      config.ExhaustionConfig
	uz       config.UniversalZoneConfig
	tickSize fixedpoint.Ticks
	log      *zap.Logger
	met      *instrumentation.Metrics
	zones    map[fixedpoint.Ticks]*zoneState
	emit     func(model.SignalCandidate)
}

// New constructs a Detector. tickSize is the market's minimum price
// increment.
func New(cfg config.ExhaustionConfig, uz config.UniversalZoneConfig, tickSize fixedpoint.Ticks, log *zap.Logger, met *instrumentation.Metrics, emit func(model.SignalCandidate)) *Detector {
	return &Detector{
		cfg:      cfg,
		uz:       uz,
		tickSize: tickSize,
		log:      log.With(zap.String("component", "detector.exhaustion")),
		met:      met,
		zones:    make(map[fixedpoint.Ticks]*zoneState),
		emit:     emit,
	}
}

const exhaustionZoneTicks = 10

// OnEnrichedTrade feeds one trade into the detector.
func (d *Detector) OnEnrichedTrade(e model.EnrichedTrade) {
	zoneKey := fixedpoint.ZoneKey(e.Trade.PriceTicks, exhaustionZoneTicks*int64(d.tickSize))
	zs, ok := d.zones[zoneKey]
	if !ok {
		zs = &zoneState{}
		d.zones[zoneKey] = zs
	}

	side := e.Trade.AggressorSide()
	zs.trades = append(zs.trades, tradeSample{tsMs: e.Trade.TsMs, qty: e.Trade.Qty, side: side})
	zs.trades = pruneOlderThan(zs.trades, e.Trade.TsMs, d.cfg.WindowMs)
	if len(zs.trades) > d.cfg.NFlowTrades*4 {
		zs.trades = zs.trades[len(zs.trades)-d.cfg.NFlowTrades*4:]
	}

	aggVolume, buyVolume, sellVolume := sumVolumes(zs.trades)
	aggVolumeF := fixedpoint.ToFloat(int64(aggVolume))
	if aggVolumeF < d.cfg.MinAggVolume {
		return
	}

	// candidateSide is the side whose flow we test for depletion: the
	// side that dominates recent aggressive volume.
	candidateSide := model.SideBuy
	if fixedpoint.ToFloat(int64(sellVolume)) > fixedpoint.ToFloat(int64(buyVolume)) {
		candidateSide = model.SideSell
	}

	var passiveSameSide fixedpoint.Amount
	if candidateSide == model.SideBuy {
		passiveSameSide = e.ZonePassiveBidQty
	} else {
		passiveSameSide = e.ZonePassiveAskQty
	}
	passiveF := fixedpoint.ToFloat(int64(passiveSameSide))
	if passiveF >= d.cfg.PassiveVolumeExhaustionRatio*aggVolumeF {
		return
	}

	firstHalf, secondHalf := splitHalves(zs.trades, d.cfg.NFlowTrades)
	if firstHalf <= 0 {
		return
	}
	flowRatio := secondHalf / firstHalf
	if flowRatio > d.cfg.ExhaustionThreshold {
		return
	}

	alignmentScore := d.crossResolutionAlignment(e.ZoneData, candidateSide)

	if zs.lastSignalMs != 0 && e.Trade.TsMs-zs.lastSignalMs < d.cfg.WindowMs/4 {
		return
	}

	aggressiveRatio := fixedpoint.DivGuard(aggVolumeF, d.cfg.MinAggVolume, 1)
	confidence := fixedpoint.Clamp(aggressiveRatio*0.3, 0, 0.5)

	confluenceCount := countConfluence(e.ZoneData, e.Trade.PriceTicks, d.uz.MaxZoneConfluenceDistanceTicks, d.tickSize)
	if confluenceCount >= d.uz.MinZoneConfluenceCount {
		confidence += d.uz.ConfluenceConfidenceBoost
	}
	if alignmentScore >= d.cfg.AlignmentNormalizationFactor {
		confidence += d.uz.CrossTimeframeBoost
	}
	confidence = fixedpoint.Clamp(confidence, 0, 1)

	if confidence < d.cfg.MinEnhancedConfidenceThreshold {
		return
	}

	// Signal side is the reversal: if buy-side is exhausted, expect
	// sellers to take over.
	signalSide := candidateSide.Opposite()

	zs.lastSignalMs = e.Trade.TsMs
	d.emit(model.SignalCandidate{
		Type:          model.PatternExhaustion,
		Side:          signalSide,
		PriceTicks:    e.Trade.PriceTicks,
		Confidence:    confidence,
		TsMs:          e.Trade.TsMs,
		CorrelationID: e.CorrelationID,
		Payload: map[string]any{
			"exhaustedSide":   string(candidateSide),
			"flowRatio":       flowRatio,
			"alignmentScore":  alignmentScore,
			"confluenceCount": confluenceCount,
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

// splitHalves returns the summed qty of the first and second half of the
// last n trades (most recent n, oldest-first within that window).
func splitHalves(trades []tradeSample, n int) (first, second float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	start := len(trades) - n
	if start < 0 {
		start = 0
	}
	window := trades[start:]
	mid := len(window) / 2
	for i, t := range window {
		qf := fixedpoint.ToFloat(int64(t.qty))
		if i < mid {
			first += qf
		} else {
			second += qf
		}
	}
	return first, second
}

// crossResolutionAlignment computes mean·(1-variance) of per-resolution
// exhaustion strength, where per-resolution strength is the candidate
// side's share of aggressive volume in the nearest zone snapshot at that
// resolution.
func (d *Detector) crossResolutionAlignment(zd model.ZoneData, candidateSide model.Side) float64 {
	var strengths []float64
	for _, k := range model.AllResolutions() {
		snaps := zd.ByResolution(k)
		if len(snaps) == 0 {
			continue
		}
		snap := snaps[len(snaps)/2]
		total := fixedpoint.ToFloat(int64(snap.AggressiveVolume))
		if total <= 0 {
			continue
		}
		var sideVol float64
		if candidateSide == model.SideBuy {
			sideVol = fixedpoint.ToFloat(int64(snap.AggressiveBuyVolume))
		} else {
			sideVol = fixedpoint.ToFloat(int64(snap.AggressiveSellVolume))
		}
		strengths = append(strengths, sideVol/total)
	}
	if len(strengths) == 0 {
		return 0
	}
	mean := fixedpoint.Mean(strengths)
	variance := fixedpoint.Variance(strengths)
	return fixedpoint.Clamp(mean*(1-variance), 0, 1)
}

func countConfluence(zd model.ZoneData, priceTicks fixedpoint.Ticks, maxDistanceTicks int64, tickSize fixedpoint.Ticks) int {
	maxDistance := fixedpoint.Ticks(maxDistanceTicks) * tickSize
	count := 0
	for _, k := range model.AllResolutions() {
		for _, snap := range zd.ByResolution(k) {
			if fixedpoint.Abs(snap.PriceLevel-priceTicks) <= maxDistance {
				count++
			}
		}
	}
	return count
}
