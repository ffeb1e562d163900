package anomaly

import "orderflow/internal/model"

// PositioningGate classifies price-direction against an external
// positioning feed (open interest, or any other outstanding-exposure
// series) into the standard long/short buildup-vs-unwind matrix. It is
// optional and nil-safe: a live positioning feed is out of scope for
// this pipeline, but the classification logic is reusable against one
// when present, and inert when not.
type PositioningGate struct {
	prevValue float64
	prevPrice float64
	hasPrev   bool

	behavior PositioningBehaviorState
}

// PositioningBehaviorState holds the last classification plus the
// positioning value of the sample it was computed from, adapted from the teacher's
// OI engine (same delta-classification math, generalized to any
// positioning series rather than Binance's OI field specifically).
type PositioningBehaviorState struct {
	Value    float64
	Behavior model.PositioningBehavior
}

// Update feeds one fresh (positioning value, price) sample. valueThresholdFrac
// is the minimum fractional change in value (relative to its prior
// reading) required to call it a move rather than noise;
// priceThresholdAbs is the minimum absolute price change.
func (g *PositioningGate) Update(value, price, valueThresholdFrac, priceThresholdAbs float64) model.PositioningBehavior {
	behavior := model.PositioningNeutral
	if g.hasPrev && g.prevValue > 0 && g.prevPrice > 0 {
		valueChange := value - g.prevValue
		priceChange := price - g.prevPrice

		valueThreshold := g.prevValue * valueThresholdFrac
		valueUp := valueChange > 0 && valueChange >= valueThreshold
		valueDown := valueChange < 0 && valueChange <= -valueThreshold
		priceUp := priceChange > 0 && priceChange >= priceThresholdAbs
		priceDown := priceChange < 0 && priceChange <= -priceThresholdAbs

		switch {
		case priceUp && valueUp:
			behavior = model.PositioningLongBuildup
		case priceDown && valueUp:
			behavior = model.PositioningShortBuildup
		case priceUp && valueDown:
			behavior = model.PositioningShortCovering
		case priceDown && valueDown:
			behavior = model.PositioningLongLiquidation
		}
	}

	g.prevValue, g.prevPrice, g.hasPrev = value, price, true
	g.behavior = PositioningBehaviorState{Value: value, Behavior: behavior}
	return behavior
}

// Current returns the last computed classification, PositioningNeutral
// before the first Update.
func (g *PositioningGate) Current() model.PositioningBehavior {
	return g.behavior.Behavior
}
