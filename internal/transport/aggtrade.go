// Package transport holds the exchange websocket clients: the
// aggregated-trade stream and the incremental-depth stream. Both follow
// the teacher's reconnect-with-backoff loop, adapted to emit the
// pipeline's fixed-point model types instead of floats.
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

// aggTradeWireEvent matches Binance's aggTrade stream JSON.
type aggTradeWireEvent struct {
	A int64  `json:"a"` // aggregate trade id
	P string `json:"p"` // price
	Q string `json:"q"` // quantity
	T int64  `json:"T"` // trade time
	M bool   `json:"m"` // buyer is maker
}

// AggTradeClient streams AggressiveTrade values onto a channel.
type AggTradeClient struct {
	cfg config.TransportConfig
	log *zap.Logger
	err *xerrors.Counters
	out chan<- model.AggressiveTrade
}

// NewAggTradeClient constructs a client that writes parsed trades to out.
func NewAggTradeClient(cfg config.TransportConfig, log *zap.Logger, errc *xerrors.Counters, out chan<- model.AggressiveTrade) *AggTradeClient {
	return &AggTradeClient{cfg: cfg, log: log.With(zap.String("component", "transport.aggtrade")), err: errc, out: out}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (c *AggTradeClient) Run(ctx context.Context) {
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
		c.err.Record(xerrors.New(xerrors.KindTransientStream, "transport.aggtrade", err))
		c.log.Warn("aggtrade stream disconnected, reconnecting", zap.Error(err), zap.Duration("delay", delay))
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

func (c *AggTradeClient) connectAndConsume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.AggTradeURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.log.Info("connected to aggtrade stream")

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
		var evt aggTradeWireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.err.Record(xerrors.New(xerrors.KindApply, "transport.aggtrade", err))
			continue
		}
		trade, err := parseAggTrade(evt)
		if err != nil {
			c.err.Record(xerrors.New(xerrors.KindApply, "transport.aggtrade", err))
			continue
		}
		select {
		case c.out <- trade:
		case <-ctx.Done():
			return nil
		}
	}
}

func parseAggTrade(evt aggTradeWireEvent) (model.AggressiveTrade, error) {
	price, err := fixedpoint.ParseTicks(evt.P)
	if err != nil {
		return model.AggressiveTrade{}, err
	}
	qty, err := fixedpoint.ParseAmount(evt.Q)
	if err != nil {
		return model.AggressiveTrade{}, err
	}
	return model.AggressiveTrade{
		TradeID:      evt.A,
		PriceTicks:   price,
		Qty:          qty,
		TsMs:         evt.T,
		BuyerIsMaker: evt.M,
	}, nil
}
