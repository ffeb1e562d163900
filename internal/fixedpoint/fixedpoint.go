// Package fixedpoint implements scaled-integer price/quantity arithmetic.
//
// Exchange prices and quantities arrive as decimal strings. Converting them
// through float64 and back is the classic source of drift in order-flow
// systems (accumulated rounding error on running sums, zone boundaries that
// don't line up with the exchange's own tick grid). Everything in this
// package works in Ticks/Amount — int64 values scaled by Scale — so sums,
// comparisons, and grid snapping are exact integer operations.
package fixedpoint

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point scaling factor: one unit of Ticks or Amount
// represents 1/Scale of the underlying decimal value.
const Scale = 100_000_000 // 1e8, matches exchange 8-decimal precision

// Ticks is a price expressed as an integer multiple of 1e-8.
type Ticks int64

// Amount is a quantity expressed as an integer multiple of 1e-8.
type Amount int64

// ParseTicks parses a decimal price string (e.g. "86.28000000") into Ticks.
func ParseTicks(s string) (Ticks, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("fixedpoint: parse price %q: %w", s, err)
	}
	return Ticks(d.Mul(decimal.NewFromInt(Scale)).Round(0).IntPart()), nil
}

// ParseAmount parses a decimal quantity string into Amount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("fixedpoint: parse quantity %q: %w", s, err)
	}
	return Amount(d.Mul(decimal.NewFromInt(Scale)).Round(0).IntPart()), nil
}

// FromFloat converts a float64 into Ticks/Amount. Only for values that did
// not arrive as exchange decimal strings (synthetic test data, config
// defaults expressed in human units) — never for values already parsed
// from the wire.
func FromFloat(v float64) int64 {
	return int64(math.Round(v * Scale))
}

// ToFloat converts back to a float64 for presentation/logging only. Never
// feed this back into arithmetic that must stay exact.
func ToFloat(v int64) float64 {
	return float64(v) / Scale
}

// TickSize is the market's minimum price increment, itself expressed in
// Ticks (e.g. a 0.01 tick size is TickSize(1_000_000)).
type TickSize int64

// SnapDown floors p to the nearest multiple of grid (grid > 0).
func SnapDown(p Ticks, grid int64) Ticks {
	if grid <= 0 {
		return p
	}
	q := int64(p)
	if q >= 0 {
		return Ticks(q - q%grid)
	}
	m := q % grid
	if m != 0 {
		m += grid
	}
	return Ticks(q - m)
}

// ZoneKey computes the zone key at a k-tick resolution: floor(priceTicks/k)*k.
func ZoneKey(priceTicks Ticks, kTicks int64) Ticks {
	return SnapDown(priceTicks, kTicks)
}

// Abs returns the absolute value of a Ticks delta.
func Abs(v Ticks) Ticks {
	if v < 0 {
		return -v
	}
	return v
}

// DivGuard performs num/den in float64, returning fallback when den is
// (near) zero instead of producing Inf/NaN. Shared by every component that
// computes a ratio from accumulated volumes.
func DivGuard(num, den, fallback float64) float64 {
	if math.Abs(den) < 1e-12 {
		return fallback
	}
	return num / den
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance of xs.
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// ZScore returns (x - mean(xs)) / stddev(xs), guarded against a zero
// denominator (returns 0 when the population has no spread).
func ZScore(x float64, xs []float64) float64 {
	sd := StdDev(xs)
	if sd < 1e-9 {
		return 0
	}
	return (x - Mean(xs)) / sd
}

// EMA computes one step of an exponential moving average.
func EMA(prev, value, alpha float64) float64 {
	return alpha*value + (1-alpha)*prev
}

// EMAAlpha converts a smoothing period N into the corresponding EMA alpha.
func EMAAlpha(n float64) float64 {
	if n <= 0 {
		return 1
	}
	return 2 / (n + 1)
}
