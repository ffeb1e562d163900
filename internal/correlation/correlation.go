// Package correlation generates the per-inbound-trade correlation id that
// is threaded through enrichment, detection, anomaly evaluation, and
// coordination — the single piece of cross-component mutable state
// (spec §9), scoped to one hot-pipeline turn and carried by explicit
// value passing rather than context.Context to keep the hot path
// allocation-light.
package correlation

import "github.com/google/uuid"

// New mints a fresh correlation id for one inbound trade or depth diff.
func New() string {
	return uuid.NewString()
}
