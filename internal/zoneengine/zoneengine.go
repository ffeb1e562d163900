// Package zoneengine manages long-lived accumulation/distribution
// TradingZones derived from sequences of EnrichedTrades: creation,
// merging of overlapping candidates, strength/completion/confidence
// scoring, and lifecycle timers. It is the exclusive owner of
// TradingZone instances; detectors hold only opaque zone ids.
package zoneengine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// Detection is the initial observation a detector supplies when promoting
// a candidate buffer into a TradingZone.
type Detection struct {
	PriceRange        model.PriceRange
	TotalVolume       fixedpoint.Amount
	AverageOrderSize  fixedpoint.Amount
	TradeCount        int
	InitialStrength   float64
	Confidence        float64
	SupportingFactors model.SupportingFactors
}

// QueryFilter narrows QueryZones results; zero-value fields are ignored.
type QueryFilter struct {
	Symbol      string
	Type        model.ZoneType
	MinStrength float64
	IsActive    *bool
	NearPrice   *NearPrice
	MaxAgeMs    int64
}

// NearPrice restricts a query to zones within toleranceFraction of price.
type NearPrice struct {
	Price             fixedpoint.Ticks
	ToleranceFraction float64
}

// Engine owns the active and historical TradingZone sets for one symbol.
type Engine struct {
	cfg      config.ZoneEngineConfig
	tickSize fixedpoint.Ticks
	log      *zap.Logger
	met      *instrumentation.Metrics

	mu      sync.RWMutex
	active  map[string]*model.TradingZone
	history []*model.TradingZone
	idSeq   int64
}

// New constructs an empty Engine. tickSize is the market's minimum price
// increment (shared with the Book and Preprocessor), used to convert the
// config's tick-count knobs (MergeToleranceTicks) into actual Ticks
// deltas.
func New(cfg config.ZoneEngineConfig, tickSize fixedpoint.Ticks, log *zap.Logger, met *instrumentation.Metrics) *Engine {
	return &Engine{
		cfg:      cfg,
		tickSize: tickSize,
		log:      log.With(zap.String("component", "zoneengine")),
		met:      met,
		active:   make(map[string]*model.TradingZone),
	}
}

func (e *Engine) nextID() string {
	n := atomic.AddInt64(&e.idSeq, 1)
	return fmt.Sprintf("zone-%d", n)
}

// CreateZone creates a new TradingZone, or merges det into an existing
// overlapping active zone of the same type (spec merge rule).
func (e *Engine) CreateZone(zoneType model.ZoneType, symbol string, nowMs int64, det Detection) *model.TradingZone {
	e.mu.Lock()
	defer e.mu.Unlock()

	if merged := e.findMergeCandidateLocked(zoneType, symbol, det.PriceRange); merged != nil {
		e.mergeLocked(merged, det, nowMs)
		e.log.Debug("merged candidate with existing zone", zap.String("zone_id", merged.ID))
		return merged
	}

	if len(e.active) >= e.cfg.MaxActiveZones {
		e.invalidateWeakestLocked("replaced_by_stronger_zone", nowMs)
	}

	zone := &model.TradingZone{
		ID:                e.nextID(),
		Type:              zoneType,
		Symbol:            symbol,
		PriceRange:        det.PriceRange,
		StartTimeMs:       nowMs,
		TotalVolume:       det.TotalVolume,
		AverageOrderSize:  det.AverageOrderSize,
		TradeCount:        det.TradeCount,
		Strength:          fixedpoint.Clamp(det.InitialStrength, 0, 1),
		Confidence:        fixedpoint.Clamp(det.Confidence, 0, 1),
		State:             model.ZoneActive,
		LastUpdateMs:      nowMs,
		SupportingFactors: det.SupportingFactors,
	}
	zone.Significance = classifySignificance(zone.TotalVolume)
	zone.StrengthHistory = append(zone.StrengthHistory, model.StrengthSample{TsMs: nowMs, Strength: zone.Strength})

	e.active[zone.ID] = zone
	if e.met != nil {
		e.met.ZonesActive.Set(float64(len(e.active)))
	}
	return zone
}

func (e *Engine) findMergeCandidateLocked(zoneType model.ZoneType, symbol string, pr model.PriceRange) *model.TradingZone {
	toleranceTicks := fixedpoint.Ticks(e.cfg.MergeToleranceTicks) * e.tickSize
	for _, z := range e.active {
		if z.Type != zoneType || z.Symbol != symbol {
			continue
		}
		if rangesOverlapWithTolerance(z.PriceRange, pr, toleranceTicks) {
			return z
		}
	}
	return nil
}

func rangesOverlapWithTolerance(a, b model.PriceRange, tolerance fixedpoint.Ticks) bool {
	lo := a.Min - tolerance
	hi := a.Max + tolerance
	return b.Max >= lo && b.Min <= hi
}

func (e *Engine) mergeLocked(zone *model.TradingZone, det Detection, nowMs int64) {
	if det.PriceRange.Min < zone.PriceRange.Min {
		zone.PriceRange.Min = det.PriceRange.Min
	}
	if det.PriceRange.Max > zone.PriceRange.Max {
		zone.PriceRange.Max = det.PriceRange.Max
	}
	zone.PriceRange.Center = (zone.PriceRange.Min + zone.PriceRange.Max) / 2
	zone.PriceRange.Width = zone.PriceRange.Max - zone.PriceRange.Min
	zone.TotalVolume += det.TotalVolume
	zone.TradeCount += det.TradeCount
	zone.LastUpdateMs = nowMs
	e.recomputeLocked(zone, nowMs)
}

func (e *Engine) invalidateWeakestLocked(reason string, nowMs int64) {
	var weakest *model.TradingZone
	for _, z := range e.active {
		if weakest == nil || z.Strength < weakest.Strength {
			weakest = z
		}
	}
	if weakest != nil {
		e.closeLocked(weakest, model.ZoneReplaced, nowMs)
	}
}

// UpdateZone applies trade activity to an existing zone and returns the
// resulting transition, or nil if the zone id is unknown.
func (e *Engine) UpdateZone(id string, nowMs int64, volumeDelta fixedpoint.Amount, supporting model.SupportingFactors) *model.ZoneUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	zone, ok := e.active[id]
	if !ok {
		return nil
	}
	prevStrength := zone.Strength
	zone.TotalVolume += volumeDelta
	zone.TradeCount++
	zone.SupportingFactors = supporting
	zone.LastUpdateMs = nowMs
	e.recomputeLocked(zone, nowMs)

	delta := zone.Strength - prevStrength
	updateType := model.ZoneUpdateUpdated
	switch {
	case delta > e.cfg.StrengthChangeThreshold:
		updateType = model.ZoneUpdateStrengthened
	case delta < -e.cfg.StrengthChangeThreshold:
		updateType = model.ZoneUpdateWeakened
	}

	if zone.Completion >= e.cfg.CompletionThreshold && updateType != model.ZoneUpdateWeakened {
		e.closeLocked(zone, model.ZoneCompleted, nowMs)
		updateType = model.ZoneUpdateCompleted
	}

	return &model.ZoneUpdate{Zone: zone, UpdateType: updateType}
}

func (e *Engine) recomputeLocked(zone *model.TradingZone, nowMs int64) {
	zone.TimeInZoneMs = nowMs - zone.StartTimeMs
	zone.Significance = classifySignificance(zone.TotalVolume)

	strength := computeStrength(e.cfg, zone)
	zone.Strength = fixedpoint.Clamp(strength, 0, 1)
	zone.Completion = fixedpoint.Clamp(computeCompletion(e.cfg, zone), 0, 1)
	zone.Confidence = fixedpoint.Clamp(computeConfidence(e.cfg, zone), 0, 1)

	if len(zone.StrengthHistory) == 0 || nowMs >= zone.StrengthHistory[len(zone.StrengthHistory)-1].TsMs {
		zone.StrengthHistory = append(zone.StrengthHistory, model.StrengthSample{TsMs: nowMs, Strength: zone.Strength})
	}
}

func classifySignificance(volume fixedpoint.Amount) model.Significance {
	v := fixedpoint.ToFloat(int64(volume))
	switch {
	case v >= 5000:
		return model.SignificanceInstitutional
	case v >= 2000:
		return model.SignificanceMajor
	case v >= 500:
		return model.SignificanceModerate
	default:
		return model.SignificanceMinor
	}
}

func computeStrength(cfg config.ZoneEngineConfig, z *model.TradingZone) float64 {
	vRef := cfg.VRefAccumulation
	if z.Type == model.ZoneDistribution {
		vRef = cfg.VRefDistribution
	}
	volumeStrength := fixedpoint.Clamp(fixedpoint.ToFloat(int64(z.TotalVolume))/vRef, 0, 1)
	timeStrength := fixedpoint.Clamp(float64(z.TimeInZoneMs)/cfg.TRefMs, 0, 1)

	centerF := fixedpoint.ToFloat(int64(z.PriceRange.Center))
	widthF := fixedpoint.ToFloat(int64(z.PriceRange.Width))
	stabilityStrength := 0.0
	if centerF > 0 {
		stabilityStrength = fixedpoint.Clamp(1-widthF/centerF, 0, 1)
	}

	flowStrength := fixedpoint.Clamp(z.SupportingFactors.FlowConsistency, 0, 1)

	var profileStrength float64
	switch z.SupportingFactors.OrderSizeProfile {
	case model.ProfileInstitutional:
		profileStrength = 1.0
	case model.ProfileMixed:
		profileStrength = 0.7
	default:
		profileStrength = 0.4
	}

	return 0.25*volumeStrength + 0.20*timeStrength + 0.20*stabilityStrength + 0.20*flowStrength + 0.15*profileStrength
}

func expectedVolume(significance model.Significance) float64 {
	switch significance {
	case model.SignificanceInstitutional:
		return 8000
	case model.SignificanceMajor:
		return 3000
	case model.SignificanceModerate:
		return 1000
	default:
		return 400
	}
}

func expectedTimeMs(significance model.Significance, zoneType model.ZoneType) float64 {
	base := map[model.Significance]float64{
		model.SignificanceInstitutional: 1_800_000,
		model.SignificanceMajor:         900_000,
		model.SignificanceModerate:      450_000,
		model.SignificanceMinor:         180_000,
	}[significance]
	if zoneType == model.ZoneAccumulation {
		return base * 2
	}
	return base
}

func computeCompletion(cfg config.ZoneEngineConfig, z *model.TradingZone) float64 {
	volRatio := fixedpoint.Clamp(fixedpoint.ToFloat(int64(z.TotalVolume))/expectedVolume(z.Significance), 0, 1)
	timeRatio := fixedpoint.Clamp(float64(z.TimeInZoneMs)/expectedTimeMs(z.Significance, z.Type), 0, 1)
	if volRatio > timeRatio {
		return volRatio
	}
	return timeRatio
}

func computeConfidence(cfg config.ZoneEngineConfig, z *model.TradingZone) float64 {
	sf := z.SupportingFactors
	base := fixedpoint.Mean([]float64{sf.VolumeConcentration, sf.TimeConsistency, sf.PriceStability, sf.FlowConsistency})
	timeBoost := float64(z.TimeInZoneMs) / cfg.TConfidenceMs
	if timeBoost > 0.2 {
		timeBoost = 0.2
	}
	return base + timeBoost
}

// InvalidateZone closes an active zone with the given reason.
func (e *Engine) InvalidateZone(id, reason string, nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if zone, ok := e.active[id]; ok {
		e.closeLocked(zone, model.ZoneInvalidated, nowMs)
		e.log.Debug("zone invalidated", zap.String("zone_id", id), zap.String("reason", reason))
	}
}

func (e *Engine) closeLocked(zone *model.TradingZone, state model.ZoneLifecycleState, nowMs int64) {
	zone.State = state
	zone.EndTimeMs = nowMs
	delete(e.active, zone.ID)
	e.history = append(e.history, zone)
	if e.met != nil {
		e.met.ZonesActive.Set(float64(len(e.active)))
		if state == model.ZoneCompleted {
			e.met.ZonesCompleted.Inc()
		}
	}
}

// ExpandZoneRange extends an active zone's priceRange to enclose
// newPriceTicks. Returns false if the zone id is unknown.
func (e *Engine) ExpandZoneRange(id string, newPriceTicks fixedpoint.Ticks, nowMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	zone, ok := e.active[id]
	if !ok {
		return false
	}
	if newPriceTicks < zone.PriceRange.Min {
		zone.PriceRange.Min = newPriceTicks
	}
	if newPriceTicks > zone.PriceRange.Max {
		zone.PriceRange.Max = newPriceTicks
	}
	zone.PriceRange.Center = (zone.PriceRange.Min + zone.PriceRange.Max) / 2
	zone.PriceRange.Width = zone.PriceRange.Max - zone.PriceRange.Min
	e.recomputeLocked(zone, nowMs)
	return true
}

// QueryZones returns active and historical zones matching filter.
func (e *Engine) QueryZones(filter QueryFilter, nowMs int64) []*model.TradingZone {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*model.TradingZone
	consider := func(z *model.TradingZone) {
		if filter.Symbol != "" && z.Symbol != filter.Symbol {
			return
		}
		if filter.Type != "" && z.Type != filter.Type {
			return
		}
		if z.Strength < filter.MinStrength {
			return
		}
		if filter.IsActive != nil && z.IsActive() != *filter.IsActive {
			return
		}
		if filter.MaxAgeMs > 0 && nowMs-z.StartTimeMs > filter.MaxAgeMs {
			return
		}
		if filter.NearPrice != nil {
			centerF := fixedpoint.ToFloat(int64(z.PriceRange.Center))
			priceF := fixedpoint.ToFloat(int64(filter.NearPrice.Price))
			deviation := fixedpoint.DivGuard(priceF-centerF, centerF, 1)
			if deviation < 0 {
				deviation = -deviation
			}
			if centerF == 0 || deviation > filter.NearPrice.ToleranceFraction {
				return
			}
		}
		out = append(out, z)
	}
	for _, z := range e.active {
		consider(z)
	}
	for _, z := range e.history {
		consider(z)
	}
	return out
}

// Stats returns the current aggregate snapshot.
func (e *Engine) Stats() model.ZoneStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := model.ZoneStats{
		ActiveCount:    len(e.active),
		CompletedCount: 0,
		ByType:         make(map[model.ZoneType]int),
		BySignificance: make(map[model.Significance]int),
	}

	var strengthSum, durationSum float64
	var durationCount int
	for _, z := range e.active {
		strengthSum += z.Strength
		stats.ByType[z.Type]++
		stats.BySignificance[z.Significance]++
	}
	for _, z := range e.history {
		if z.State == model.ZoneCompleted {
			stats.CompletedCount++
		}
		durationSum += float64(z.EndTimeMs - z.StartTimeMs)
		durationCount++
		stats.ByType[z.Type]++
		stats.BySignificance[z.Significance]++
	}
	total := len(e.active)
	if total > 0 {
		stats.AvgStrength = strengthSum / float64(total)
	}
	if durationCount > 0 {
		stats.AvgDurationMs = durationSum / float64(durationCount)
	}
	return stats
}

// RunExpireLoop invalidates active zones older than ZoneTimeoutMs on a
// timer, until stop is closed.
func (e *Engine) RunExpireLoop(stop <-chan struct{}) {
	interval := time.Duration(e.cfg.ExpireIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			e.expireOnce(time.Now().UnixMilli())
		}
	}
}

func (e *Engine) expireOnce(nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var stale []string
	for id, z := range e.active {
		if nowMs-z.StartTimeMs > e.cfg.ZoneTimeoutMs {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		e.closeLocked(e.active[id], model.ZoneInvalidated, nowMs)
	}
}

// RunGCLoop prunes zone history on a timer, until stop is closed.
func (e *Engine) RunGCLoop(stop <-chan struct{}) {
	interval := time.Duration(e.cfg.GCIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			e.gcOnce(time.Now().UnixMilli())
		}
	}
}

func (e *Engine) gcOnce(nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var kept []*model.TradingZone
	for _, z := range e.history {
		if nowMs-z.EndTimeMs <= e.cfg.HistoryRetentionMs {
			kept = append(kept, z)
		}
	}
	if len(kept) > e.cfg.MaxHistoryPerSymbol {
		kept = kept[len(kept)-e.cfg.MaxHistoryPerSymbol:]
	}
	e.history = kept
}
