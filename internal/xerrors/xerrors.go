// Package xerrors defines the typed error taxonomy shared across the
// pipeline: fatal startup errors, recoverable stream errors, and the
// per-record errors that must never propagate out of the hot pipeline.
package xerrors

import "fmt"

// Kind classifies an error for counting and propagation-policy purposes.
type Kind string

const (
	// KindConfig is a fatal startup error: malformed or missing config.
	KindConfig Kind = "config_error"
	// KindInit is a fatal startup error: initial state could not be
	// established (e.g. the preprocessor or egress sink could not be built).
	KindInit Kind = "init_error"
	// KindTransientStream is recoverable: the transport client records it
	// and reconnects with backoff.
	KindTransientStream Kind = "transient_stream_error"
	// KindApply is a malformed-message error: the offending record is
	// dropped, a counter increments, and processing continues.
	KindApply Kind = "apply_error"
	// KindDetector is isolated to a single detector invocation; it never
	// cancels the hot pipeline.
	KindDetector Kind = "detector_error"
	// KindCapacity signals a bounded queue at or near capacity.
	KindCapacity Kind = "capacity_error"
)

// Error is the typed error value threaded through the pipeline. Component
// is a short identifier ("book", "preprocessor", "absorption", ...) used
// for both the structured log entry and the Prometheus counter label.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Component, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed Error.
func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

// Configf builds a ConfigError with a formatted message.
func Configf(component, format string, args ...any) *Error {
	return New(KindConfig, component, fmt.Errorf(format, args...))
}

// Initf builds an InitError with a formatted message.
func Initf(component, format string, args ...any) *Error {
	return New(KindInit, component, fmt.Errorf(format, args...))
}

// IsFatal reports whether errors of this kind must abort startup/runtime
// rather than being absorbed by a counter.
func IsFatal(k Kind) bool {
	return k == KindConfig || k == KindInit
}
