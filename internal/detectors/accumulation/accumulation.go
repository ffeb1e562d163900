// Package accumulation configures the shared zone-lifecycle detector
// (orderflow/internal/detectors/zonelifecycle) for the accumulation
// side: sustained sell-side aggression absorbed into a price range.
package accumulation

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/detectors/zonelifecycle"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/zoneengine"
)

// New constructs an accumulation detector.
func New(symbol string, cfg config.ZoneLifecycleConfig, tickSize fixedpoint.Ticks, engine *zoneengine.Engine, log *zap.Logger, met *instrumentation.Metrics, emit func(model.SignalCandidate)) *zonelifecycle.Detector {
	return zonelifecycle.New(model.ZoneAccumulation, symbol, cfg, tickSize, engine, log, met, emit)
}
