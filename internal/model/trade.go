// Package model holds the data types shared across the pipeline: raw
// exchange events, the enriched trade handed from the preprocessor to the
// detectors, zone snapshots, trading zones, and the candidates/events that
// flow out of the detectors and coordinator.
package model

import (
	"orderflow/internal/fixedpoint"
)

// Side is an aggressor or signal side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// AggressiveTrade is a single executed trade from the exchange's
// aggregated-trade stream, already converted to fixed-point.
type AggressiveTrade struct {
	TradeID      int64
	PriceTicks   fixedpoint.Ticks
	Qty          fixedpoint.Amount
	TsMs         int64
	BuyerIsMaker bool
}

// AggressorSide derives the side that crossed the spread: sell if the
// buyer was the resting maker, buy otherwise.
func (t AggressiveTrade) AggressorSide() Side {
	if t.BuyerIsMaker {
		return SideSell
	}
	return SideBuy
}

// DepthLevelUpdate is one (price, bidQty, askQty) entry in a depth diff.
type DepthLevelUpdate struct {
	PriceTicks fixedpoint.Ticks
	BidQty     fixedpoint.Amount
	AskQty     fixedpoint.Amount
}

// DepthDiff is a batch of level updates from the incremental-depth stream.
type DepthDiff struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Levels        []DepthLevelUpdate
}

// AppendMsgPack encodes the trade as a MsgPack FixArray(5)
// [tradeId, priceTicks, qty, tsMs, buyerIsMaker], reusing the teacher's
// zero-allocation wire format for the egress broadcaster.
func (t AggressiveTrade) AppendMsgPack(b []byte) []byte {
	b = append(b, 0x95)
	b = appendInt64(b, t.TradeID)
	b = appendInt64(b, int64(t.PriceTicks))
	b = appendInt64(b, int64(t.Qty))
	b = appendInt64(b, t.TsMs)
	if t.BuyerIsMaker {
		b = append(b, 0xc3)
	} else {
		b = append(b, 0xc2)
	}
	return b
}

func appendInt64(b []byte, v int64) []byte {
	if v >= 0 && v <= 127 {
		return append(b, byte(v))
	}
	if v < 0 && v >= -32 {
		return append(b, byte(v))
	}
	b = append(b, 0xd3)
	b = append(b, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return b
}
