// Package anomaly implements the market-wide anomaly detector: a sliding
// snapshot window over price, spread, flow, and order-size history that
// raises flash-crash, liquidity-void, volatility, imbalance, ignition,
// iceberg, and order-size anomalies, and answers a consolidated
// marketHealth query for the signal coordinator.
//
// Spoofing detection is delegated to a SpoofingCollaborator rather than
// implemented here, per the detector's own design: tracking per-order
// cancel/replace behaviour needs a raw order-event feed this detector
// does not own.
package anomaly

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// SpoofingCollaborator evaluates raw order-book churn for spoofing
// patterns. The detector only forwards enriched trades to it; a nil
// collaborator (NopSpoofingCollaborator) disables spoofing detection
// without touching the rest of the pipeline.
type SpoofingCollaborator interface {
	Evaluate(e model.EnrichedTrade) *model.AnomalyEvent
}

// NopSpoofingCollaborator never reports spoofing.
type NopSpoofingCollaborator struct{}

func (NopSpoofingCollaborator) Evaluate(model.EnrichedTrade) *model.AnomalyEvent { return nil }

type emission struct {
	tsMs     int64
	severity model.AnomalySeverity
}

type flowSample struct {
	tsMs      int64
	signedQty float64
}

type icebergState struct {
	lastQty        float64
	lastRefillMs   int64
	refillIntervals []int64
}

// Detector is the anomaly detector's sliding-window state machine.
type Detector struct {
	cfg      config.AnomalyConfig
	symbol   string
	tickSize fixedpoint.Ticks
	log      *zap.Logger
	met      *instrumentation.Metrics
	spoofing SpoofingCollaborator
	emit     func(model.AnomalyEvent)

	priceHistory  []float64
	returnHistory []float64
	sizeHistory   []float64
	spreadHistory []float64
	volumeBuckets []float64 // trailing per-trade volume, for momentum ignition

	flowTrades []flowSample

	lastTradeTsMs int64
	bestBid       fixedpoint.Ticks
	bestAsk       fixedpoint.Ticks
	hasQuotes     bool

	icebergByPrice map[fixedpoint.Ticks]*icebergState

	lastEmission   map[model.AnomalyType]emission
	recentEvents   []emission

	positioning *PositioningGate
}

// New constructs a Detector. A nil SpoofingCollaborator defaults to
// NopSpoofingCollaborator.
func New(cfg config.AnomalyConfig, symbol string, tickSize fixedpoint.Ticks, log *zap.Logger, met *instrumentation.Metrics, spoofing SpoofingCollaborator, emit func(model.AnomalyEvent)) *Detector {
	if spoofing == nil {
		spoofing = NopSpoofingCollaborator{}
	}
	return &Detector{
		cfg:            cfg,
		symbol:         symbol,
		tickSize:       tickSize,
		log:            log.With(zap.String("component", "detector.anomaly")),
		met:            met,
		spoofing:       spoofing,
		emit:           emit,
		icebergByPrice: make(map[fixedpoint.Ticks]*icebergState),
		lastEmission:   make(map[model.AnomalyType]emission),
	}
}

const icebergMinIntervals = 4

// OnEnrichedTrade feeds one trade into every per-trade anomaly check.
func (d *Detector) OnEnrichedTrade(e model.EnrichedTrade) {
	d.checkAPIGap(e)
	d.lastTradeTsMs = e.Trade.TsMs

	price := fixedpoint.ToFloat(int64(e.Trade.PriceTicks))
	if len(d.priceHistory) > 0 {
		prev := d.priceHistory[len(d.priceHistory)-1]
		if prev > 0 {
			d.returnHistory = appendBounded(d.returnHistory, (price-prev)/prev, d.cfg.WindowSize)
		}
	}
	d.priceHistory = appendBounded(d.priceHistory, price, d.cfg.WindowSize)
	d.checkFlashCrash(e, price)
	d.checkExtremeVolatility(e)

	qty := fixedpoint.ToFloat(int64(e.Trade.Qty))
	d.sizeHistory = appendBounded(d.sizeHistory, qty, d.cfg.WindowSize)
	d.checkOrderSizeAnomaly(e, qty)

	signed := qty
	if e.Trade.AggressorSide() == model.SideSell {
		signed = -signed
	}
	d.flowTrades = append(d.flowTrades, flowSample{tsMs: e.Trade.TsMs, signedQty: signed})
	d.flowTrades = pruneFlow(d.flowTrades, e.Trade.TsMs, d.cfg.FlowWindowMs)
	d.checkFlowImbalance(e)

	d.volumeBuckets = appendBounded(d.volumeBuckets, qty, d.cfg.WindowSize)
	d.checkMomentumIgnition(e, qty)

	d.checkOrderbookImbalance(e)
	d.checkIceberg(e)

	if anom := d.spoofing.Evaluate(e); anom != nil {
		d.tryEmit(*anom)
	}
}

// UpdateBestQuotes feeds a book top-of-book update; checks liquidity_void.
func (d *Detector) UpdateBestQuotes(bid, ask fixedpoint.Ticks, nowMs int64) {
	d.bestBid, d.bestAsk = bid, ask
	d.hasQuotes = true
	if bid <= 0 || ask <= bid {
		return
	}
	mid := fixedpoint.ToFloat(int64((bid + ask) / 2))
	if mid <= 0 {
		return
	}
	spreadBps := fixedpoint.ToFloat(int64(ask-bid)) / mid * 10000
	d.spreadHistory = appendBounded(d.spreadHistory, spreadBps, d.cfg.WindowSize)

	if spreadBps > d.cfg.NormalSpreadBps*d.cfg.LiquidityVoidMultiplier {
		severity := model.SeverityMedium
		if spreadBps > d.cfg.NormalSpreadBps*d.cfg.LiquidityVoidMultiplier*2 {
			severity = model.SeverityHigh
		}
		d.tryEmit(model.AnomalyEvent{
			Type:              model.AnomalyLiquidityVoid,
			Severity:          severity,
			PriceRangeAffected: model.PriceRange{Min: bid, Max: ask, Center: (bid + ask) / 2, Width: ask - bid},
			DetectedAtMs:      nowMs,
			RecommendedAction: model.ActionReduceExposure,
			Details:           map[string]any{"spreadBps": spreadBps},
		})
	}
}

func (d *Detector) checkAPIGap(e model.EnrichedTrade) {
	if d.lastTradeTsMs == 0 {
		return
	}
	gap := e.Trade.TsMs - d.lastTradeTsMs
	if gap <= d.cfg.APIGapMs {
		return
	}
	severity := model.SeverityLow
	if gap > d.cfg.APIGapMs*3 {
		severity = model.SeverityMedium
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyAPIGap,
		Severity:          severity,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"gapMs": gap},
	})
}

func (d *Detector) checkFlashCrash(e model.EnrichedTrade, price float64) {
	if len(d.priceHistory) < d.cfg.MinHistory+1 {
		return
	}
	history := d.priceHistory[:len(d.priceHistory)-1]
	z := fixedpoint.ZScore(price, history)
	if absFloat(z) < d.cfg.FlashCrashZThreshold {
		return
	}
	severity := model.SeverityHigh
	if absFloat(z) >= d.cfg.FlashCrashZThreshold*1.5 {
		severity = model.SeverityCritical
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyFlashCrash,
		Severity:          severity,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionHalt,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"zScore": z},
	})
}

func (d *Detector) checkExtremeVolatility(e model.EnrichedTrade) {
	if len(d.returnHistory) < d.cfg.MinHistory {
		return
	}
	recentN := 10
	if recentN > len(d.returnHistory) {
		recentN = len(d.returnHistory)
	}
	recent := d.returnHistory[len(d.returnHistory)-recentN:]
	recentStd := fixedpoint.StdDev(recent)
	longStd := fixedpoint.StdDev(d.returnHistory)
	if longStd <= 0 || recentStd <= d.cfg.ExtremeVolatilityMultiplier*longStd {
		return
	}
	severity := model.SeverityMedium
	if recentStd > d.cfg.ExtremeVolatilityMultiplier*2*longStd {
		severity = model.SeverityHigh
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyExtremeVolatility,
		Severity:          severity,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionReduceExposure,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"recentStdDev": recentStd, "longRunStdDev": longStd},
	})
}

func (d *Detector) checkOrderSizeAnomaly(e model.EnrichedTrade, qty float64) {
	if len(d.sizeHistory) < d.cfg.MinHistory+1 {
		return
	}
	history := d.sizeHistory[:len(d.sizeHistory)-1]
	z := fixedpoint.ZScore(qty, history)
	if absFloat(z) < d.cfg.OrderSizeAnomalyThresholdSigma {
		return
	}
	severity := model.SeverityMedium
	if absFloat(z) >= d.cfg.OrderSizeAnomalyThresholdSigma*1.67 {
		severity = model.SeverityHigh
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyOrderSizeAnomaly,
		Severity:          severity,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"zScore": z, "qty": qty},
	})
}

func (d *Detector) checkFlowImbalance(e model.EnrichedTrade) {
	var buy, sell float64
	for _, f := range d.flowTrades {
		if f.signedQty > 0 {
			buy += f.signedQty
		} else {
			sell += -f.signedQty
		}
	}
	total := buy + sell
	if total <= 0 {
		return
	}
	ratio := (buy - sell) / total
	if absFloat(ratio) < d.cfg.VolumeImbalanceThreshold {
		return
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyFlowImbalance,
		Severity:          model.SeverityMedium,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"flowImbalanceRatio": ratio},
	})
}

func (d *Detector) checkMomentumIgnition(e model.EnrichedTrade, qty float64) {
	const recentN = 5
	if len(d.volumeBuckets) < d.cfg.MinHistory {
		return
	}
	recent := d.volumeBuckets
	if len(recent) > recentN {
		recent = recent[len(recent)-recentN:]
	}
	recentSum := 0.0
	for _, v := range recent {
		recentSum += v
	}
	avg := fixedpoint.Mean(d.volumeBuckets) * recentN
	if avg <= 0 || recentSum < d.cfg.MomentumIgnitionVolumeMultiplier*avg {
		return
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyMomentumIgnition,
		Severity:          model.SeverityHigh,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"recentVolume": recentSum, "baselineVolume": avg},
	})
}

func (d *Detector) checkOrderbookImbalance(e model.EnrichedTrade) {
	if e.BookDataMissing {
		return
	}
	bid := fixedpoint.ToFloat(int64(e.ZonePassiveBidQty))
	ask := fixedpoint.ToFloat(int64(e.ZonePassiveAskQty))
	total := bid + ask
	if total <= 0 {
		return
	}
	ratio := (bid - ask) / total
	if absFloat(ratio) < d.cfg.VolumeImbalanceThreshold {
		return
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyOrderbookImbalance,
		Severity:          model.SeverityMedium,
		PriceRangeAffected: pointRange(e.Trade.PriceTicks),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"bookImbalanceRatio": ratio},
	})
}

// checkIceberg tracks, per price level, whether the passive quantity the
// trade consumed is replenished before the next trade at that price,
// with low variance in the refill interval.
func (d *Detector) checkIceberg(e model.EnrichedTrade) {
	price := e.Trade.PriceTicks
	currentQty := fixedpoint.ToFloat(int64(e.ZonePassiveAskQty))
	if e.Trade.AggressorSide() == model.SideSell {
		currentQty = fixedpoint.ToFloat(int64(e.ZonePassiveBidQty))
	}

	st, ok := d.icebergByPrice[price]
	if !ok {
		st = &icebergState{lastQty: currentQty, lastRefillMs: e.Trade.TsMs}
		d.icebergByPrice[price] = st
		return
	}

	gap := e.Trade.TsMs - st.lastRefillMs
	refilled := currentQty >= st.lastQty*0.9 && gap > 0 && gap <= d.cfg.IcebergDetectionWindowMs
	if refilled {
		st.refillIntervals = append(st.refillIntervals, gap)
		if len(st.refillIntervals) > 20 {
			st.refillIntervals = st.refillIntervals[len(st.refillIntervals)-20:]
		}
	} else {
		st.refillIntervals = nil
	}
	st.lastQty = currentQty
	st.lastRefillMs = e.Trade.TsMs

	if len(st.refillIntervals) < icebergMinIntervals {
		return
	}
	floats := make([]float64, len(st.refillIntervals))
	for i, v := range st.refillIntervals {
		floats[i] = float64(v)
	}
	mean := fixedpoint.Mean(floats)
	if mean <= 0 {
		return
	}
	cv := fixedpoint.StdDev(floats) / mean
	refillConsistency := fixedpoint.Clamp(1-cv, 0, 1)
	if refillConsistency < 0.7 {
		return
	}
	d.tryEmit(model.AnomalyEvent{
		Type:              model.AnomalyIcebergOrder,
		Severity:          model.SeverityMedium,
		PriceRangeAffected: pointRange(price),
		DetectedAtMs:      e.Trade.TsMs,
		RecommendedAction: model.ActionMonitor,
		CorrelationID:     e.CorrelationID,
		Details:           map[string]any{"refillConsistency": refillConsistency, "refillCount": len(st.refillIntervals)},
	})
}

// tryEmit applies the per-type dedup rule before emitting: a new anomaly
// emits only if the cooldown has elapsed, or its severity is critical and
// the prior emission of that type was not.
func (d *Detector) tryEmit(anom model.AnomalyEvent) {
	prior, seen := d.lastEmission[anom.Type]
	cooldownElapsed := !seen || anom.DetectedAtMs-prior.tsMs >= d.cfg.AnomalyCooldownMs
	escalatesToCritical := anom.Severity == model.SeverityCritical && (!seen || prior.severity != model.SeverityCritical)
	if !cooldownElapsed && !escalatesToCritical {
		return
	}
	d.lastEmission[anom.Type] = emission{tsMs: anom.DetectedAtMs, severity: anom.Severity}
	d.recentEvents = appendEmissionBounded(d.recentEvents, emission{tsMs: anom.DetectedAtMs, severity: anom.Severity}, d.cfg.AnomalyCooldownMs*5, anom.DetectedAtMs)
	d.emit(anom)
}

// UpdatePositioning feeds one external positioning sample (e.g. open
// interest) and its concurrent price into the positioning gate. Call
// sites outside this pipeline's scope (a live OI poller); never called
// from the hot trade path, and entirely optional — MarketHealth reports
// PositioningNeutral until first called.
func (d *Detector) UpdatePositioning(value, price float64) model.PositioningBehavior {
	if d.positioning == nil {
		d.positioning = &PositioningGate{}
	}
	return d.positioning.Update(value, price, d.cfg.PositioningValueThresholdFrac, d.cfg.PositioningPriceThresholdAbs)
}

// MarketHealth reports the detector's consolidated read on current
// conditions, for the coordinator's health gate.
func (d *Detector) MarketHealth() model.MarketHealth {
	d.recentEvents = pruneEmissions(d.recentEvents, d.lastTradeTsMs, d.cfg.AnomalyCooldownMs*5)

	highest := model.AnomalySeverity("")
	for _, ev := range d.recentEvents {
		if severityRank(ev.severity) > severityRank(highest) {
			highest = ev.severity
		}
	}

	isHealthy := highest != model.SeverityCritical && highest != model.SeverityHigh
	recommendation := model.ActionMonitor
	if highest == model.SeverityCritical {
		recommendation = model.ActionHalt
	} else if highest == model.SeverityHigh {
		recommendation = model.ActionReduceExposure
	}

	var spreadBps, volatility float64
	if len(d.spreadHistory) > 0 {
		spreadBps = d.spreadHistory[len(d.spreadHistory)-1]
	}
	if len(d.returnHistory) > 0 {
		volatility = fixedpoint.StdDev(d.returnHistory)
	}
	var flowImbalance float64
	var buy, sell float64
	for _, f := range d.flowTrades {
		if f.signedQty > 0 {
			buy += f.signedQty
		} else {
			sell += -f.signedQty
		}
	}
	if total := buy + sell; total > 0 {
		flowImbalance = (buy - sell) / total
	}

	positioning := model.PositioningNeutral
	if d.positioning != nil {
		positioning = d.positioning.Current()
		// A short-buildup or long-liquidation read nudges an otherwise
		// "monitor" recommendation up a notch; it never overrides a
		// halt/reduce-exposure call already driven by anomaly severity.
		if recommendation == model.ActionMonitor &&
			(positioning == model.PositioningShortBuildup || positioning == model.PositioningLongLiquidation) {
			recommendation = model.ActionReduceExposure
		}
	}

	return model.MarketHealth{
		IsHealthy:          isHealthy,
		RecentAnomalyCount: len(d.recentEvents),
		HighestSeverity:    highest,
		Recommendation:     recommendation,
		Metrics: model.MarketHealthMetrics{
			SpreadBps:     spreadBps,
			FlowImbalance: flowImbalance,
			Volatility:    volatility,
			Positioning:   positioning,
		},
	}
}

func severityRank(s model.AnomalySeverity) int {
	switch s {
	case model.SeverityLow:
		return 1
	case model.SeverityMedium:
		return 2
	case model.SeverityHigh:
		return 3
	case model.SeverityCritical:
		return 4
	default:
		return 0
	}
}

func pointRange(p fixedpoint.Ticks) model.PriceRange {
	return model.PriceRange{Min: p, Max: p, Center: p, Width: 0}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func appendBounded(xs []float64, v float64, max int) []float64 {
	xs = append(xs, v)
	if max > 0 && len(xs) > max {
		xs = xs[len(xs)-max:]
	}
	return xs
}

func appendEmissionBounded(xs []emission, v emission, windowMs, nowMs int64) []emission {
	xs = append(xs, v)
	return pruneEmissions(xs, nowMs, windowMs)
}

func pruneEmissions(xs []emission, nowMs, windowMs int64) []emission {
	cut := 0
	for i, e := range xs {
		if nowMs-e.tsMs <= windowMs {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut >= len(xs) {
		return xs[:0]
	}
	return xs[cut:]
}

func pruneFlow(xs []flowSample, nowMs, windowMs int64) []flowSample {
	cut := 0
	for i, f := range xs {
		if nowMs-f.tsMs <= windowMs {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut >= len(xs) {
		return xs[:0]
	}
	return xs[cut:]
}
