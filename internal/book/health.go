package book

import (
	"sync/atomic"
	"unsafe"

	"github.com/sony/gobreaker"

	"orderflow/internal/model"
)

func (b *Book) publishHealth(h *model.BookHealth) {
	atomic.StorePointer(&b.health, unsafe.Pointer(h))
}

// Health returns the latest published health snapshot. Safe to call from
// any goroutine (e.g. the HTTP /health handler) without locking.
func (b *Book) Health() model.BookHealth {
	p := (*model.BookHealth)(atomic.LoadPointer(&b.health))
	if p == nil {
		return model.BookHealth{}
	}
	return *p
}

func (b *Book) computeHealth(nowMs int64) *model.BookHealth {
	circuitOpen := b.breaker.State() == gobreaker.StateOpen
	status := model.BookHealth{
		Healthy:       !circuitOpen && len(b.errTimestamps) <= b.cfg.MaxErrorRateWindowed/2,
		LastAppliedID: b.lastAppliedID,
		LevelCount:    len(b.keys),
		GapCount:      int64(len(b.errTimestamps)),
		CircuitOpen:   circuitOpen,
		LastUpdateMs:  nowMs,
	}
	if met := b.met; met != nil {
		if circuitOpen {
			met.BookCircuitOpen.Set(1)
		} else {
			met.BookCircuitOpen.Set(0)
		}
	}
	return &status
}
