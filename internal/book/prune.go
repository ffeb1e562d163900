package book

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/fixedpoint"
)

// RunPruneLoop runs the periodic prune timer until ctx is cancelled. This
// is one of the two timer suspension points allowed by the concurrency
// model (spec §5); it must only be invoked from the hot pipeline's own
// goroutine, never concurrently with ApplyDepthDiff.
func (b *Book) RunPruneLoop(ctx context.Context) {
	interval := time.Duration(b.cfg.PruneIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Prune(time.Now().UnixMilli())
		}
	}
}

// Prune removes stale levels, levels too distant from mid, and trims the
// book to MaxLevels by dropping the levels farthest from mid.
func (b *Book) Prune(nowMs int64) {
	staleCutoff := nowMs - b.cfg.StaleLevelMs
	mid, hasMid := b.MidPriceTicks()

	b.pruneStaleAndDistant(staleCutoff, mid, hasMid)
	b.pruneToMaxLevels(mid, hasMid)

	if b.met != nil {
		b.met.BookLevelCount.Set(float64(len(b.keys)))
	}
	b.log.Debug("book pruned", zap.Int("level_count", len(b.keys)))
}

func (b *Book) pruneStaleAndDistant(staleCutoff int64, mid fixedpoint.Ticks, hasMid bool) {
	var remove []fixedpoint.Ticks
	for _, k := range b.keys {
		lvl := b.levels[k]
		if lvl.LastUpdateMs < staleCutoff {
			remove = append(remove, k)
			continue
		}
		if hasMid && fixedpoint.Abs(k-mid) > fixedpoint.Ticks(b.cfg.MaxDistanceTicks) {
			remove = append(remove, k)
		}
	}
	for _, k := range remove {
		b.remove(k)
	}
}

func (b *Book) pruneToMaxLevels(mid fixedpoint.Ticks, hasMid bool) {
	if len(b.keys) <= b.cfg.MaxLevels {
		return
	}
	if !hasMid {
		// No reference point: drop from the top of the ladder (highest
		// prices first).
		excess := len(b.keys) - b.cfg.MaxLevels
		for i := 0; i < excess && len(b.keys) > 0; i++ {
			b.remove(b.keys[len(b.keys)-1])
		}
		return
	}
	for len(b.keys) > b.cfg.MaxLevels {
		farthest := b.keys[0]
		farthestDist := fixedpoint.Abs(farthest - mid)
		for _, k := range b.keys {
			if d := fixedpoint.Abs(k - mid); d > farthestDist {
				farthest, farthestDist = k, d
			}
		}
		b.remove(farthest)
	}
}
