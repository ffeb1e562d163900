// Package pipeline wires the hot path end to end: transport -> ingress
// queue -> book/preprocessor -> detectors -> coordinator -> egress. It
// owns no business logic of its own; every method here is construction
// and goroutine plumbing, mirroring the teacher's cmd/main.go wiring but
// organized as a testable package rather than inline in main().
package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"orderflow/internal/anomaly"
	"orderflow/internal/book"
	"orderflow/internal/config"
	"orderflow/internal/coordinator"
	"orderflow/internal/correlation"
	"orderflow/internal/detectors/absorption"
	"orderflow/internal/detectors/accumulation"
	"orderflow/internal/detectors/cvd"
	"orderflow/internal/detectors/distribution"
	"orderflow/internal/detectors/exhaustion"
	"orderflow/internal/detectors/zonelifecycle"
	"orderflow/internal/egress"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/ingress"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/preprocessor"
	"orderflow/internal/transport"
	"orderflow/internal/xerrors"
	"orderflow/internal/zoneengine"
)

// Pipeline holds every wired component plus the goroutine lifecycle
// methods to start and stop the service.
type Pipeline struct {
	cfg *config.Config
	log *zap.Logger
	Reg *prometheus.Registry
	Met *instrumentation.Metrics
	Err *xerrors.Counters

	Book         *book.Book
	Preprocessor *preprocessor.Preprocessor
	ZoneEngine   *zoneengine.Engine
	Coordinator  *coordinator.Coordinator
	Anomaly      *anomaly.Detector
	Sink         *egress.Sink

	queue  *ingress.Queue
	worker *ingress.Worker

	aggTradeClient *transport.AggTradeClient
	depthClient    *transport.DepthClient

	tradeIn chan model.AggressiveTrade
	depthIn chan model.DepthDiff
}

// New wires every component according to cfg. It does not start any
// goroutines; call Run for that.
func New(cfg *config.Config, log *zap.Logger) (*Pipeline, error) {
	tickSize, err := fixedpoint.ParseTicks(cfg.Preprocessor.TickSizeStr)
	if err != nil {
		return nil, xerrors.Configf("pipeline", "parse tickSize: %v", err)
	}

	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	errc := xerrors.NewCounters(reg)

	bk := book.New(cfg.Book, log, met, errc)

	pre, err := preprocessor.New(cfg.Preprocessor, bk, log, met)
	if err != nil {
		return nil, xerrors.Initf("pipeline", "preprocessor: %v", err)
	}

	sink, err := egress.NewSink(cfg.Egress, log, met)
	if err != nil {
		return nil, xerrors.Initf("pipeline", "egress sink: %v", err)
	}

	// coord is referenced by anomalyDet's emit closure before it exists;
	// both are constructed in this same single-goroutine setup phase, so
	// the closure observes the fully-assigned value by the time the hot
	// pipeline starts calling it.
	var coord *coordinator.Coordinator
	anomalyDet := anomaly.New(cfg.Anomaly, cfg.Book.Symbol, tickSize, log, met, nil, func(a model.AnomalyEvent) {
		coord.SubmitAnomaly(a)
	})
	coord = coordinator.New(cfg.Coordinator, log, met, anomalyDet, sink.Emit)

	zoneEng := zoneengine.New(cfg.ZoneEngine, tickSize, log, met)

	absorptionDet := absorption.New(cfg.Absorption, tickSize, log, met, coord.Submit)
	exhaustionDet := exhaustion.New(cfg.Exhaustion, cfg.UniversalZone, tickSize, log, met, coord.Submit)

	accumulationDet := accumulation.New(cfg.Book.Symbol, cfg.Accumulation, tickSize, zoneEng, log, met, coord.Submit)
	accumulationDet.OnZoneUpdate(func(u model.ZoneUpdate) { coord.SubmitZoneUpdate(u, u.Zone.LastUpdateMs) })

	distributionDet := distribution.New(cfg.Book.Symbol, cfg.Distribution, tickSize, zoneEng, log, met, coord.Submit)
	distributionDet.OnZoneUpdate(func(u model.ZoneUpdate) { coord.SubmitZoneUpdate(u, u.Zone.LastUpdateMs) })

	cvdDet := cvd.New(cfg.CVD, cfg.UniversalZone, tickSize, log, met, coord.Submit)

	pre.Subscribe(func(e model.EnrichedTrade) {
		absorptionDet.OnEnrichedTrade(e)
		exhaustionDet.OnEnrichedTrade(e)
		accumulationDet.OnEnrichedTrade(e)
		distributionDet.OnEnrichedTrade(e)
		cvdDet.OnEnrichedTrade(e)
		anomalyDet.OnEnrichedTrade(e)
	})

	queue := ingress.NewQueue(cfg.Ingress, met, log)
	worker := ingress.NewWorker(cfg.Ingress, queue, log)

	tradeIn := make(chan model.AggressiveTrade, cfg.Ingress.QueueCapacity)
	depthIn := make(chan model.DepthDiff, cfg.Ingress.QueueCapacity)

	return &Pipeline{
		cfg:  cfg,
		log:  log,
		Reg:  reg,
		Met:  met,
		Err:  errc,

		Book:         bk,
		Preprocessor: pre,
		ZoneEngine:   zoneEng,
		Coordinator:  coord,
		Anomaly:      anomalyDet,
		Sink:         sink,

		queue:  queue,
		worker: worker,

		aggTradeClient: transport.NewAggTradeClient(cfg.Transport, log, errc, tradeIn),
		depthClient:    transport.NewDepthClient(cfg.Transport, log, errc, depthIn),

		tradeIn: tradeIn,
		depthIn: depthIn,
	}, nil
}

// Run starts every background goroutine and blocks until ctx is
// cancelled, draining the ingress queue into the hot pipeline as the
// single consumer.
func (p *Pipeline) Run(ctx context.Context) error {
	go p.aggTradeClient.Run(ctx)
	go p.depthClient.Run(ctx)
	go p.worker.RunTrades(ctx, p.tradeIn)
	go p.worker.RunDepth(ctx, p.depthIn)
	go p.Book.RunPruneLoop(ctx)

	stop := make(chan struct{})
	go p.ZoneEngine.RunExpireLoop(stop)
	go p.ZoneEngine.RunGCLoop(stop)
	defer close(stop)

	for {
		ev, ok := p.queue.Pop(ctx)
		if !ok {
			p.Sink.Close()
			return ctx.Err()
		}
		switch {
		case ev.Trade != nil:
			p.handleTrade(*ev.Trade)
		case ev.Depth != nil:
			if err := p.Book.ApplyDepthDiff(*ev.Depth); err != nil {
				p.log.Warn("depth diff rejected", zap.Error(err))
			}
		}
	}
}

func (p *Pipeline) handleTrade(t model.AggressiveTrade) {
	corrID := correlation.New()
	p.Preprocessor.OnAggTrade(t, corrID)
	if bid, ok := p.Book.BestBid(); ok {
		if ask, okAsk := p.Book.BestAsk(); okAsk {
			p.Anomaly.UpdateBestQuotes(bid, ask, t.TsMs)
		}
	}
}

// Health reports a coarse composite status string, served by the HTTP
// health endpoint.
func (p *Pipeline) Health() string {
	h := p.Book.Health()
	if !h.Healthy {
		return fmt.Sprintf("unhealthy: circuitOpen=%v gapCount=%d", h.CircuitOpen, h.GapCount)
	}
	return "ok"
}
