// Package logging builds the structured zap logger shared by every
// component. Production builds emit JSON; local/dev builds emit a
// colorized console encoder.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the encoder/level preset.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeDevelopment Mode = "development"
)

// New builds a root *zap.Logger for the given mode and level string
// ("debug", "info", "warn", "error"). An invalid level falls back to info.
func New(mode Mode, level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	var cfg zap.Config
	if mode == ModeDevelopment {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Correlated returns a child logger with the correlation id attached,
// for use at the start of one hot-pipeline turn.
func Correlated(l *zap.Logger, correlationID string) *zap.Logger {
	return l.With(zap.String("correlation_id", correlationID))
}
