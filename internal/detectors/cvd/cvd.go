// Package cvd implements the CVD (cumulative volume delta) divergence
// detector: multiple rolling windows of signed aggressive volume, each
// scored against its own historical slope distribution. Enhanced mode
// layers in zone confluence, per-resolution imbalance, and cross-window
// momentum alignment on top of the raw z-score gate.
package cvd

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

type tradeSample struct {
	tsMs      int64
	signedQty float64
}

// window tracks one configured windowSec's worth of signed volume and the
// historical distribution of its slope, used to z-score the current one.
type window struct {
	sec            int64
	trades         []tradeSample
	slopeHistory   []float64
}

// Detector is the CVD divergence pattern state machine. Unlike the
// price-zoned detectors, CVD tracks a single set of time windows per
// symbol: divergence is a property of the flow, not of a price band.
type Detector struct {
	cfg      config.CVDConfig
	uz       config.UniversalZoneConfig
	tickSize fixedpoint.Ticks
	log      *zap.Logger
	met      *instrumentation.Metrics

	windows      []*window
	lastSignalMs int64
	emit         func(model.SignalCandidate)
}

// New constructs a Detector. tickSize is the market's minimum price
// increment, used for zone-confluence distance comparisons.
func New(cfg config.CVDConfig, uz config.UniversalZoneConfig, tickSize fixedpoint.Ticks, log *zap.Logger, met *instrumentation.Metrics, emit func(model.SignalCandidate)) *Detector {
	windows := make([]*window, 0, len(cfg.WindowsSec))
	for _, sec := range cfg.WindowsSec {
		windows = append(windows, &window{sec: sec})
	}
	return &Detector{
		cfg:      cfg,
		uz:       uz,
		tickSize: tickSize,
		log:      log.With(zap.String("component", "detector.cvd")),
		met:      met,
		windows:  windows,
		emit:     emit,
	}
}

// OnEnrichedTrade feeds one trade into every configured window.
func (d *Detector) OnEnrichedTrade(e model.EnrichedTrade) {
	if len(d.windows) == 0 {
		return
	}

	signed := fixedpoint.ToFloat(int64(e.Trade.Qty))
	if e.Trade.AggressorSide() == model.SideSell {
		signed = -signed
	}

	shortest := d.windows[0]
	for _, w := range d.windows {
		if w.sec < shortest.sec {
			shortest = w
		}
		w.trades = append(w.trades, tradeSample{tsMs: e.Trade.TsMs, signedQty: signed})
		w.trades = pruneOlderThan(w.trades, e.Trade.TsMs, w.sec*1000)
		slope := slopeOf(w.trades)
		w.slopeHistory = appendBounded(w.slopeHistory, slope, d.cfg.HistorySize)
	}

	if len(shortest.slopeHistory) < 2 {
		return // not enough history yet to z-score against
	}
	zShort := fixedpoint.ZScore(slopeOf(shortest.trades), shortest.slopeHistory)
	if absFloat(zShort) < d.cfg.MinZ {
		return
	}

	cvdShort := cvdOf(shortest.trades)
	if absFloat(cvdShort) < d.cfg.DivergenceVolumeThreshold {
		return
	}

	rawComponent := fixedpoint.Clamp(absFloat(zShort)/(d.cfg.MinZ*2), 0, 1)
	confidence := rawComponent * d.cfg.DivergenceScoreMultiplier

	var imbalanceScore, alignmentScore float64
	var confluenceCount int
	if d.cfg.EnhancementMode != config.EnhancementDisabled {
		imbalanceScore = perResolutionImbalance(e.ZoneData)
		if absFloat(imbalanceScore) >= d.cfg.SignificantImbalanceThreshold {
			confidence += d.uz.ConfluenceConfidenceBoost
		}

		alignmentScore = d.momentumAlignment(shortest)
		if alignmentScore >= d.cfg.AlignmentMinimumThreshold {
			confidence += alignmentScore * d.cfg.MomentumScoreMultiplier * 0.2
		}

		confluenceCount = countConfluence(e.ZoneData, e.Trade.PriceTicks, d.uz.MaxZoneConfluenceDistanceTicks, d.tickSize)
		if d.uz.EnableZoneConfluenceFilter && confluenceCount >= d.uz.MinZoneConfluenceCount {
			confidence += d.uz.ConfluenceConfidenceBoost
		}
	}
	confidence = fixedpoint.Clamp(confidence, 0, 1)

	if confidence < d.cfg.BaseConfidenceRequired {
		return
	}

	strength := absFloat(slopeOf(shortest.trades)) / fixedpoint.DivGuard(absFloat(cvdShort), 1, 1)
	if strength < d.cfg.DivergenceStrengthThreshold {
		return
	}

	buyRatio := globalBuyRatio(e.ZoneData)
	var side model.Side
	switch {
	case buyRatio > 0.6:
		side = model.SideBuy
	case buyRatio < 0.4:
		side = model.SideSell
	default:
		return // neutral: suppressed
	}

	cooldown := shortest.sec * 1000 / 4
	if e.Trade.TsMs-d.lastSignalMs < cooldown {
		return
	}
	d.lastSignalMs = e.Trade.TsMs

	d.emit(model.SignalCandidate{
		Type:          model.PatternCVDDivergence,
		Side:          side,
		PriceTicks:    e.Trade.PriceTicks,
		Confidence:    confidence,
		TsMs:          e.Trade.TsMs,
		CorrelationID: e.CorrelationID,
		Payload: map[string]any{
			"zScore":          zShort,
			"cvd":             cvdShort,
			"buyRatio":        buyRatio,
			"imbalanceScore":  imbalanceScore,
			"alignmentScore":  alignmentScore,
			"confluenceCount": confluenceCount,
			"windowSec":       shortest.sec,
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

func cvdOf(trades []tradeSample) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.signedQty
	}
	return sum
}

// slopeOf is the second-half-minus-first-half signed volume, a coarse
// rate-of-change proxy for the window's CVD.
func slopeOf(trades []tradeSample) float64 {
	if len(trades) < 2 {
		return 0
	}
	mid := len(trades) / 2
	var first, second float64
	for i, t := range trades {
		if i < mid {
			first += t.signedQty
		} else {
			second += t.signedQty
		}
	}
	return second - first
}

func appendBounded(xs []float64, v float64, max int) []float64 {
	xs = append(xs, v)
	if max > 0 && len(xs) > max {
		xs = xs[len(xs)-max:]
	}
	return xs
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// momentumAlignment is the fraction of configured windows whose slope
// carries the same sign as the shortest window's slope.
func (d *Detector) momentumAlignment(shortest *window) float64 {
	if len(d.windows) == 0 {
		return 0
	}
	refSign := signOf(slopeOf(shortest.trades))
	if refSign == 0 {
		return 0
	}
	matches := 0
	for _, w := range d.windows {
		if signOf(slopeOf(w.trades)) == refSign {
			matches++
		}
	}
	return float64(matches) / float64(len(d.windows))
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// perResolutionImbalance averages (buy-sell)/total across every
// resolution's snapshots currently in view.
func perResolutionImbalance(zd model.ZoneData) float64 {
	var scores []float64
	for _, k := range model.AllResolutions() {
		for _, snap := range zd.ByResolution(k) {
			total := fixedpoint.ToFloat(int64(snap.AggressiveVolume))
			if total <= 0 {
				continue
			}
			buy := fixedpoint.ToFloat(int64(snap.AggressiveBuyVolume))
			sell := fixedpoint.ToFloat(int64(snap.AggressiveSellVolume))
			scores = append(scores, (buy-sell)/total)
		}
	}
	if len(scores) == 0 {
		return 0
	}
	return fixedpoint.Mean(scores)
}

// globalBuyRatio is the dominant-side share of aggressive volume across
// every observed zone snapshot, used for signal side selection.
func globalBuyRatio(zd model.ZoneData) float64 {
	var buy, total float64
	for _, k := range model.AllResolutions() {
		for _, snap := range zd.ByResolution(k) {
			buy += fixedpoint.ToFloat(int64(snap.AggressiveBuyVolume))
			total += fixedpoint.ToFloat(int64(snap.AggressiveVolume))
		}
	}
	return fixedpoint.DivGuard(buy, total, 0.5)
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
