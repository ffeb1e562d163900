package coordinator

import (
	"orderflow/internal/fixedpoint"
	"orderflow/internal/model"
)

// bucketDef mirrors the teacher's multi-timeframe EMA ladder: each
// timeframe smooths the per-signal confidence stream with its own alpha,
// so a short window reacts quickly while a long window reflects
// structural bias. Values carried over unchanged from the source ladder.
type bucketDef struct {
	label string
	alpha float64
}

var rollupBuckets = []bucketDef{
	{"5m", 0.039},
	{"15m", 0.020},
	{"1h", 0.010},
}

// typeRollup is the per-pattern-type EMA ladder plus the last sample's
// timestamp and a running sample count.
type typeRollup struct {
	emaByBucket  map[string]float64
	lastTsMs     int64
	sampleCount  int
}

// Rollup is a diagnostic-only multi-timeframe confidence smoother, kept
// per pattern type: not part of the gating decision, purely an
// observability aid exposed over the HTTP stats surface.
type Rollup struct {
	byType map[model.PatternType]*typeRollup
}

// NewRollup constructs an empty Rollup.
func NewRollup() *Rollup {
	return &Rollup{byType: make(map[model.PatternType]*typeRollup)}
}

// Observe folds one confirmed signal's confidence into every timeframe
// bucket's EMA for its pattern type.
func (r *Rollup) Observe(patternType model.PatternType, tsMs int64, confidence float64) {
	tr, ok := r.byType[patternType]
	if !ok {
		tr = &typeRollup{emaByBucket: make(map[string]float64)}
		r.byType[patternType] = tr
	}
	for _, b := range rollupBuckets {
		prev, seen := tr.emaByBucket[b.label]
		if !seen {
			tr.emaByBucket[b.label] = confidence
			continue
		}
		tr.emaByBucket[b.label] = fixedpoint.EMA(prev, confidence, b.alpha)
	}
	tr.lastTsMs = tsMs
	tr.sampleCount++
}

// Snapshot returns a copy of one pattern type's current EMA ladder.
func (r *Rollup) Snapshot(patternType model.PatternType) map[string]float64 {
	tr, ok := r.byType[patternType]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(tr.emaByBucket))
	for k, v := range tr.emaByBucket {
		out[k] = v
	}
	return out
}
