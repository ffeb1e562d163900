// Package coordinator implements the signal coordinator: the single
// choke point that serialises candidates from every detector, applies
// cooldown and dedup gates, consults the anomaly detector's market
// health, and emits confirmed signals wrapped in the egress envelope.
package coordinator

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// HealthSource is the subset of anomaly.Detector the coordinator
// consults; kept as an interface so tests can substitute a fixed health
// reading without constructing a full AnomalyDetector.
type HealthSource interface {
	MarketHealth() model.MarketHealth
}

type recentCandidate struct {
	tsMs       int64
	patternType model.PatternType
	side       model.Side
	priceTicks fixedpoint.Ticks
}

// Coordinator is the hot pipeline's single signal choke point. It is not
// safe for concurrent use — per the concurrency model, it is driven
// single-owner from the hot pipeline.
type Coordinator struct {
	cfg    config.CoordinatorConfig
	log    *zap.Logger
	met    *instrumentation.Metrics
	health HealthSource
	emit   func(model.Event)

	lastEmitByType map[model.PatternType]int64
	recent         []recentCandidate
	idSeq          int64

	rollup *Rollup
}

// New constructs a Coordinator. emit receives the final egress envelope
// for every confirmed signal.
func New(cfg config.CoordinatorConfig, log *zap.Logger, met *instrumentation.Metrics, health HealthSource, emit func(model.Event)) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		log:            log.With(zap.String("component", "coordinator")),
		met:            met,
		health:         health,
		emit:           emit,
		lastEmitByType: make(map[model.PatternType]int64),
		rollup:         NewRollup(),
	}
}

// Submit runs one candidate through the full gate chain, emitting it on
// success and returning model.RejectNone, or returning the reason it was
// dropped.
func (c *Coordinator) Submit(cand model.SignalCandidate) model.RejectionReason {
	if cand.Confidence < c.cfg.MinConfidenceFloor {
		return c.reject(cand, model.RejectLowConfidence)
	}

	if c.cfg.RequireHealthyMarket && c.health != nil {
		if health := c.health.MarketHealth(); !health.IsHealthy {
			return c.reject(cand, model.RejectMarketUnhealthy)
		}
	}

	cooldownMs := c.cfg.DefaultCooldownMs
	if per, ok := c.cfg.PerTypeCooldownMs[string(cand.Type)]; ok {
		cooldownMs = per
	}
	if last, ok := c.lastEmitByType[cand.Type]; ok && cand.TsMs-last < cooldownMs {
		return c.reject(cand, model.RejectCooldown)
	}

	c.recent = pruneRecent(c.recent, cand.TsMs, c.cfg.DedupWindowMs)
	for _, r := range c.recent {
		if r.patternType == cand.Type && r.side == cand.Side && r.priceTicks == cand.PriceTicks {
			return c.reject(cand, model.RejectDuplicate)
		}
	}

	cand.ID = c.nextID()
	if cand.CorrelationID == "" {
		cand.CorrelationID = cand.ID
	}

	c.lastEmitByType[cand.Type] = cand.TsMs
	c.recent = append(c.recent, recentCandidate{tsMs: cand.TsMs, patternType: cand.Type, side: cand.Side, priceTicks: cand.PriceTicks})
	c.rollup.Observe(cand.Type, cand.TsMs, cand.Confidence)

	if c.met != nil {
		c.met.SignalsEmittedTotal.WithLabelValues(string(cand.Type)).Inc()
	}
	c.emit(model.Event{Kind: model.EventKindSignal, TsMs: cand.TsMs, Signal: &cand})
	return model.RejectNone
}

// SubmitAnomaly forwards an anomaly event straight to egress: anomalies
// bypass cooldown/dedup (the AnomalyDetector already dedups per type) but
// still flow through the same envelope and id sequence.
func (c *Coordinator) SubmitAnomaly(anom model.AnomalyEvent) {
	anom.ID = c.nextID()
	if c.met != nil {
		c.met.AnomaliesEmittedTotal.WithLabelValues(string(anom.Type), string(anom.Severity)).Inc()
	}
	c.emit(model.Event{Kind: model.EventKindAnomaly, TsMs: anom.DetectedAtMs, Anomaly: &anom})
}

// SubmitZoneUpdate forwards a zone lifecycle update straight to egress.
func (c *Coordinator) SubmitZoneUpdate(upd model.ZoneUpdate, tsMs int64) {
	c.emit(model.Event{Kind: model.EventKindZone, TsMs: tsMs, Zone: &upd})
}

func (c *Coordinator) reject(cand model.SignalCandidate, reason model.RejectionReason) model.RejectionReason {
	if c.met != nil {
		c.met.SignalsRejectedTotal.WithLabelValues(string(reason)).Inc()
	}
	c.log.Debug("candidate rejected", zap.String("type", string(cand.Type)), zap.String("reason", string(reason)))
	return reason
}

func (c *Coordinator) nextID() string {
	n := atomic.AddInt64(&c.idSeq, 1)
	return fmt.Sprintf("sig-%d", n)
}

// Rollup returns the coordinator's multi-timeframe confidence rollup, for
// diagnostics/HTTP exposition.
func (c *Coordinator) Rollup() *Rollup { return c.rollup }

func pruneRecent(xs []recentCandidate, nowMs, windowMs int64) []recentCandidate {
	cut := 0
	for i, r := range xs {
		if nowMs-r.tsMs <= windowMs {
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
