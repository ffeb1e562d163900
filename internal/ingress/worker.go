package ingress

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"orderflow/internal/config"
	"orderflow/internal/model"
)

// Worker pulls raw trade/depth frames off the transport channels and
// feeds them into the bounded Queue, rate-limiting trade ingestion as a
// secondary backpressure valve ahead of the coalescing logic in Queue
// itself.
type Worker struct {
	queue   *Queue
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewWorker builds a Worker bound to queue.
func NewWorker(cfg config.IngressConfig, queue *Queue, log *zap.Logger) *Worker {
	return &Worker{
		queue:   queue,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateBurst),
		log:     log.With(zap.String("component", "ingress.worker")),
	}
}

// RunTrades drains tradeIn into the queue until ctx is cancelled or the
// channel closes.
func (w *Worker) RunTrades(ctx context.Context, tradeIn <-chan model.AggressiveTrade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tradeIn:
			if !ok {
				return
			}
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.queue.PushTrade(ctx, t)
		}
	}
}

// RunDepth drains depthIn into the queue until ctx is cancelled or the
// channel closes. Depth frames are never rate-limited: they are
// coalesced by the queue itself under backpressure instead.
func (w *Worker) RunDepth(ctx context.Context, depthIn <-chan model.DepthDiff) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-depthIn:
			if !ok {
				return
			}
			w.queue.PushDepth(ctx, d)
		}
	}
}
