// Package ingress implements the bounded queue between the exchange
// transport goroutines and the single-threaded hot pipeline. It is
// adapted from the teacher's pub/sub bus, redesigned around the spec's
// backpressure contract: depth frames coalesce (latest-wins per price)
// under load, trade frames are never dropped, and a full queue yields
// and retries rather than blocking forever.
package ingress

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// Event is one item handed to the hot pipeline: exactly one of Trade or
// Depth is populated.
type Event struct {
	Trade *model.AggressiveTrade
	Depth *model.DepthDiff
}

// Queue is the bounded ingress queue with depth-coalescing backpressure.
type Queue struct {
	cfg config.IngressConfig
	ch  chan Event
	met *instrumentation.Metrics
	log *zap.Logger

	mu           sync.Mutex
	pendingDepth map[fixedpoint.Ticks]model.DepthLevelUpdate
	pendingFirst int64
	pendingFinal int64
	hasPending   bool
}

// NewQueue constructs a Queue with the configured capacity.
func NewQueue(cfg config.IngressConfig, met *instrumentation.Metrics, log *zap.Logger) *Queue {
	return &Queue{
		cfg:          cfg,
		ch:           make(chan Event, cfg.QueueCapacity),
		met:          met,
		log:          log.With(zap.String("component", "ingress")),
		pendingDepth: make(map[fixedpoint.Ticks]model.DepthLevelUpdate),
	}
}

func (q *Queue) highWatermark() int {
	return int(float64(cap(q.ch)) * q.cfg.HighWatermarkRatio)
}

// PushTrade enqueues a trade, never dropping it. Under a full queue it
// yields and retries until the queue drains or ctx is cancelled.
func (q *Queue) PushTrade(ctx context.Context, t model.AggressiveTrade) {
	for {
		select {
		case q.ch <- Event{Trade: &t}:
			q.reportDepth()
			return
		case <-ctx.Done():
			return
		default:
			runtime.Gosched()
			time.Sleep(time.Millisecond)
		}
	}
}

// PushDepth enqueues a depth diff directly when the queue is below the
// high watermark, first flushing any pending coalesced levels so they stay
// ahead of it. At or above the watermark it merges the diff into the
// pending coalesce buffer (latest-wins per priceTicks), where it stays
// until a later PushDepth finds headroom or FlushPending is called.
func (q *Queue) PushDepth(ctx context.Context, d model.DepthDiff) {
	if len(q.ch) < q.highWatermark() {
		q.FlushPending(ctx)
		select {
		case q.ch <- Event{Depth: &d}:
			q.reportDepth()
			return
		case <-ctx.Done():
			return
		default:
		}
	}

	q.mu.Lock()
	if !q.hasPending {
		q.pendingFirst = d.FirstUpdateID
	}
	q.pendingFinal = d.FinalUpdateID
	for _, lvl := range d.Levels {
		q.pendingDepth[lvl.PriceTicks] = lvl
	}
	q.hasPending = true
	q.mu.Unlock()

	if q.met != nil {
		q.met.IngressCoalescedTotal.Inc()
	}
}

// FlushPending attempts to push the coalesced depth buffer onto the
// queue. Safe to call from a periodic timer; a no-op when nothing is
// pending or the queue is still full.
func (q *Queue) FlushPending(ctx context.Context) {
	q.mu.Lock()
	if !q.hasPending {
		q.mu.Unlock()
		return
	}
	merged := model.DepthDiff{FirstUpdateID: q.pendingFirst, FinalUpdateID: q.pendingFinal}
	merged.Levels = make([]model.DepthLevelUpdate, 0, len(q.pendingDepth))
	for _, lvl := range q.pendingDepth {
		merged.Levels = append(merged.Levels, lvl)
	}
	q.mu.Unlock()

	select {
	case q.ch <- Event{Depth: &merged}:
		q.mu.Lock()
		q.pendingDepth = make(map[fixedpoint.Ticks]model.DepthLevelUpdate)
		q.hasPending = false
		q.mu.Unlock()
		q.reportDepth()
	case <-ctx.Done():
	default:
		// still congested, leave pending for the next attempt
	}
}

func (q *Queue) reportDepth() {
	if q.met != nil {
		q.met.IngressQueueDepth.Set(float64(len(q.ch)))
	}
}

// Pop blocks for the next event or returns false if ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (Event, bool) {
	select {
	case e := <-q.ch:
		q.reportDepth()
		return e, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Len reports the current queue depth, for diagnostics.
func (q *Queue) Len() int { return len(q.ch) }
