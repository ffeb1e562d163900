// Package book maintains the live limit order book for a single symbol:
// a price-ordered ladder of passive liquidity, fed by incremental depth
// diffs, with sequence validation, periodic pruning, and a circuit
// breaker over sustained apply errors.
//
// The book is owned by a single goroutine (the hot pipeline). Its health
// snapshot is published through an atomic pointer so the HTTP surface can
// read it lock-free from another goroutine, the same publish idiom the
// teacher pack uses for its pressure snapshot.
package book

import (
	"sort"
	"time"
	"unsafe"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/xerrors"
)

// Book is the single-writer, price-ordered ladder of passive liquidity.
type Book struct {
	cfg config.BookConfig
	log *zap.Logger
	met *instrumentation.Metrics
	err *xerrors.Counters

	keys   []fixedpoint.Ticks          // ascending, kept in sync with levels
	levels map[fixedpoint.Ticks]*model.PassiveLevel

	lastAppliedID int64
	errTimestamps []int64 // rolling window for the legacy error-rate gauge

	breaker *gobreaker.CircuitBreaker

	health unsafe.Pointer // *model.BookHealth, published lock-free

	bufferedDiffs []model.DepthDiff // replayed by Recover; nothing in this package appends to it
	recovered     bool
}

// New constructs an empty Book for the given symbol configuration.
func New(cfg config.BookConfig, log *zap.Logger, met *instrumentation.Metrics, errc *xerrors.Counters) *Book {
	b := &Book{
		cfg:    cfg,
		log:    log.With(zap.String("component", "book"), zap.String("symbol", cfg.Symbol)),
		met:    met,
		err:    errc,
		levels: make(map[fixedpoint.Ticks]*model.PassiveLevel),
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "book_apply_" + cfg.Symbol,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     time.Duration(cfg.CircuitOpenMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.TotalFailures) > cfg.MaxErrorRateWindowed
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("book circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	b.publishHealth(&model.BookHealth{Healthy: true})
	return b
}

// Recover resets sequence validation and replays, in order, any diffs
// held in bufferedDiffs. It loads no snapshot. ApplyDepthDiff applies
// every diff directly and never adds to bufferedDiffs, so no diff that
// arrives ahead of a snapshot is held back for this replay.
func (b *Book) Recover() {
	b.lastAppliedID = 0
	buffered := b.bufferedDiffs
	b.bufferedDiffs = nil
	b.recovered = true
	for _, d := range buffered {
		_ = b.ApplyDepthDiff(d)
	}
	b.log.Info("book recovered", zap.Int("replayed_diffs", len(buffered)))
}

// ApplyDepthDiff applies a batch of level updates, honoring sequence
// validation and the circuit breaker. Errors never propagate to callers
// beyond the returned value used for metrics; the pipeline continues.
func (b *Book) ApplyDepthDiff(diff model.DepthDiff) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.applyLocked(diff)
	})
	if err != nil {
		b.recordError()
		if b.met != nil {
			b.met.DepthDiffsDiscardedTotal.Inc()
		}
		return xerrors.New(xerrors.KindApply, "book", err)
	}
	if b.met != nil {
		b.met.DepthDiffsAppliedTotal.Inc()
		b.met.BookLevelCount.Set(float64(len(b.keys)))
	}
	return nil
}

func (b *Book) applyLocked(diff model.DepthDiff) error {
	if !b.cfg.DisableSequenceValidation && diff.FinalUpdateID <= b.lastAppliedID {
		return nil // stale update, silently discarded per contract
	}
	now := time.Now().UnixMilli()
	for _, lvl := range diff.Levels {
		b.applyLevel(lvl, now)
	}
	b.lastAppliedID = diff.FinalUpdateID
	b.publishHealth(b.computeHealth(now))
	return nil
}

func (b *Book) applyLevel(u model.DepthLevelUpdate, nowMs int64) {
	existing, ok := b.levels[u.PriceTicks]
	if !ok {
		if u.BidQty == 0 && u.AskQty == 0 {
			return
		}
		lvl := &model.PassiveLevel{PriceTicks: u.PriceTicks, BidQty: u.BidQty, AskQty: u.AskQty, LastUpdateMs: nowMs}
		b.insert(lvl)
		return
	}
	existing.BidQty = u.BidQty
	existing.AskQty = u.AskQty
	existing.LastUpdateMs = nowMs
	if existing.Empty() {
		b.remove(u.PriceTicks)
	}
}

func (b *Book) insert(lvl *model.PassiveLevel) {
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= lvl.PriceTicks })
	b.keys = append(b.keys, 0)
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = lvl.PriceTicks
	b.levels[lvl.PriceTicks] = lvl
}

func (b *Book) remove(price fixedpoint.Ticks) {
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= price })
	if i < len(b.keys) && b.keys[i] == price {
		copy(b.keys[i:], b.keys[i+1:])
		b.keys = b.keys[:len(b.keys)-1]
	}
	delete(b.levels, price)
}

func (b *Book) recordError() {
	now := time.Now().UnixMilli()
	b.errTimestamps = append(b.errTimestamps, now)
	cutoff := now - 60_000
	i := 0
	for ; i < len(b.errTimestamps); i++ {
		if b.errTimestamps[i] >= cutoff {
			break
		}
	}
	b.errTimestamps = b.errTimestamps[i:]
	if b.err != nil {
		b.err.Record(xerrors.New(xerrors.KindApply, "book", nil))
	}
}

// LevelAt returns the level at priceTicks, if any.
func (b *Book) LevelAt(priceTicks fixedpoint.Ticks) (model.PassiveLevel, bool) {
	lvl, ok := b.levels[priceTicks]
	if !ok {
		return model.PassiveLevel{}, false
	}
	return *lvl, true
}

// BestBid returns the highest price level with resting bid quantity.
func (b *Book) BestBid() (fixedpoint.Ticks, bool) {
	for i := len(b.keys) - 1; i >= 0; i-- {
		if lvl := b.levels[b.keys[i]]; lvl.BidQty > 0 {
			return lvl.PriceTicks, true
		}
	}
	return 0, false
}

// BestAsk returns the lowest price level with resting ask quantity.
func (b *Book) BestAsk() (fixedpoint.Ticks, bool) {
	for _, k := range b.keys {
		if lvl := b.levels[k]; lvl.AskQty > 0 {
			return lvl.PriceTicks, true
		}
	}
	return 0, false
}

// SpreadTicks returns bestAsk - bestBid, if both sides are present.
func (b *Book) SpreadTicks() (fixedpoint.Ticks, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}

// MidPriceTicks returns the midpoint of bestBid/bestAsk, if both present.
func (b *Book) MidPriceTicks() (fixedpoint.Ticks, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// BandSum sums passive quantity within a symmetric window around center.
func (b *Book) BandSum(centerTicks, bandTicks fixedpoint.Ticks) (bidQty, askQty fixedpoint.Amount, levelCount int) {
	lo := centerTicks - bandTicks
	hi := centerTicks + bandTicks
	start := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= lo })
	for i := start; i < len(b.keys) && b.keys[i] <= hi; i++ {
		lvl := b.levels[b.keys[i]]
		bidQty += lvl.BidQty
		askQty += lvl.AskQty
		levelCount++
	}
	return
}
