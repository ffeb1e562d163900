package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/model"
	"orderflow/internal/xerrors"
)

// depthWireEvent matches Binance's diff-depth stream JSON.
type depthWireEvent struct {
	U    int64      `json:"U"` // first update id in event
	Fin  int64      `json:"u"` // final update id in event
	Bids [][]string `json:"b"`
	Asks [][]string `json:"a"`
}

// DepthClient streams DepthDiff values onto a channel.
type DepthClient struct {
	cfg config.TransportConfig
	log *zap.Logger
	err *xerrors.Counters
	out chan<- model.DepthDiff
}

// NewDepthClient constructs a client that writes parsed diffs to out.
func NewDepthClient(cfg config.TransportConfig, log *zap.Logger, errc *xerrors.Counters, out chan<- model.DepthDiff) *DepthClient {
	return &DepthClient{cfg: cfg, log: log.With(zap.String("component", "transport.depth")), err: errc, out: out}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (c *DepthClient) Run(ctx context.Context) {
	delay := time.Duration(c.cfg.ReconnectDelayMs) * time.Millisecond
	maxDelay := time.Duration(c.cfg.MaxReconnectDelayMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.connectAndConsume(ctx)
		if err == nil {
			delay = time.Duration(c.cfg.ReconnectDelayMs) * time.Millisecond
			continue
		}
		c.err.Record(xerrors.New(xerrors.KindTransientStream, "transport.depth", err))
		c.log.Warn("depth stream disconnected, reconnecting", zap.Error(err), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *DepthClient) connectAndConsume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.DepthURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.log.Info("connected to depth stream")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt depthWireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.err.Record(xerrors.New(xerrors.KindApply, "transport.depth", err))
			continue
		}
		diff, err := parseDepthDiff(evt)
		if err != nil {
			c.err.Record(xerrors.New(xerrors.KindApply, "transport.depth", err))
			continue
		}
		select {
		case c.out <- diff:
		case <-ctx.Done():
			return nil
		}
	}
}

func parseDepthDiff(evt depthWireEvent) (model.DepthDiff, error) {
	levels := make([]model.DepthLevelUpdate, 0, len(evt.Bids)+len(evt.Asks))
	byPrice := make(map[fixedpoint.Ticks]*model.DepthLevelUpdate, len(evt.Bids)+len(evt.Asks))

	get := func(p fixedpoint.Ticks) *model.DepthLevelUpdate {
		if lvl, ok := byPrice[p]; ok {
			return lvl
		}
		lvl := &model.DepthLevelUpdate{PriceTicks: p}
		byPrice[p] = lvl
		levels = append(levels, *lvl)
		return lvl
	}

	for _, pair := range evt.Bids {
		if len(pair) < 2 {
			continue
		}
		price, err := fixedpoint.ParseTicks(pair[0])
		if err != nil {
			return model.DepthDiff{}, err
		}
		qty, err := fixedpoint.ParseAmount(pair[1])
		if err != nil {
			return model.DepthDiff{}, err
		}
		get(price).BidQty = qty
	}
	for _, pair := range evt.Asks {
		if len(pair) < 2 {
			continue
		}
		price, err := fixedpoint.ParseTicks(pair[0])
		if err != nil {
			return model.DepthDiff{}, err
		}
		qty, err := fixedpoint.ParseAmount(pair[1])
		if err != nil {
			return model.DepthDiff{}, err
		}
		get(price).AskQty = qty
	}

	// Reconcile: byPrice holds the authoritative, possibly-merged entries;
	// levels was appended before merges landed, so rebuild it from the map.
	levels = levels[:0]
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}

	return model.DepthDiff{FirstUpdateID: evt.U, FinalUpdateID: evt.Fin, Levels: levels}, nil
}
