package xerrors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters is the Prometheus-backed error registry: one counter vector
// labeled by component and kind, incremented every time a typed Error is
// recorded anywhere in the pipeline. Grounded on the teacher pack's
// forgequant errors-by-component-and-type counter.
type Counters struct {
	total *prometheus.CounterVec
}

// NewCounters registers the error counter vector against reg (pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewCounters(reg prometheus.Registerer) *Counters {
	return &Counters{
		total: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_errors_total",
			Help: "Total typed errors by component and kind.",
		}, []string{"component", "kind"}),
	}
}

// Record increments the counter for err and returns err unchanged, so it
// can be used inline: `return c.Record(xerrors.New(...))`.
func (c *Counters) Record(err *Error) *Error {
	if c == nil || err == nil {
		return err
	}
	c.total.WithLabelValues(err.Component, string(err.Kind)).Inc()
	return err
}
