package egress

import (
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/state"
)

// Sink is the coordinator's emit callback: it records every egress event
// into the ring buffer (for new-client history replay), journals it if
// enabled, and forwards it to the broadcaster's fan-out loop without
// blocking the caller.
type Sink struct {
	Buffer      *state.RingBuffer
	Broadcaster *Broadcaster
	Journal     *Journal // nil when journaling is disabled

	broadcastCh chan model.Event
}

// NewSink wires a ring buffer, broadcaster and optional journal into a
// single emit callback, and starts the broadcaster's fan-out goroutine.
func NewSink(cfg config.EgressConfig, log *zap.Logger, met *instrumentation.Metrics) (*Sink, error) {
	buf := state.NewRingBuffer(cfg.RingBufferSize)
	bc := NewBroadcaster(buf, log, met)

	var j *Journal
	if cfg.JournalEnabled {
		var err error
		j, err = NewJournal(cfg.JournalPath, log, met)
		if err != nil {
			return nil, err
		}
	}

	s := &Sink{
		Buffer:      buf,
		Broadcaster: bc,
		Journal:     j,
		broadcastCh: make(chan model.Event, cfg.BroadcastBufferSize),
	}
	go bc.Run(s.broadcastCh)
	return s, nil
}

// Emit is passed to coordinator.New as the emit callback.
func (s *Sink) Emit(e model.Event) {
	s.Buffer.Add(e)
	if s.Journal != nil {
		s.Journal.Write(e)
	}
	select {
	case s.broadcastCh <- e:
	default:
		// Broadcast channel saturated: the ring buffer still has the
		// event for history replay, so drop here rather than block
		// the coordinator's emit path.
	}
}

// Close shuts down the journal writer; its background goroutine flushes
// any buffered records after Close returns.
func (s *Sink) Close() {
	if s.Journal != nil {
		s.Journal.Close()
	}
}
