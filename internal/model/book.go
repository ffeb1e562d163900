package model

import "orderflow/internal/fixedpoint"

// PassiveLevel is one price level of resting liquidity in the order book.
type PassiveLevel struct {
	PriceTicks   fixedpoint.Ticks
	BidQty       fixedpoint.Amount
	AskQty       fixedpoint.Amount
	LastUpdateMs int64
}

// Empty reports whether both sides of the level have no resting size.
func (l PassiveLevel) Empty() bool {
	return l.BidQty == 0 && l.AskQty == 0
}

// BookHealth is the Book's self-reported status, read by Pipeline.Health
// for the HTTP /health endpoint.
type BookHealth struct {
	Healthy        bool
	LastAppliedID  int64
	LevelCount     int
	GapCount       int64
	LastGapAtMs    int64
	CircuitOpen    bool
	LastUpdateMs   int64
}
