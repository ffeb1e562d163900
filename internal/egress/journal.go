// Package egress owns everything downstream of the signal coordinator:
// the append-only journal, the websocket broadcaster, and the in-memory
// ring buffer used to hydrate newly connected clients.
package egress

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

// =============================================================================
// ASYNC JOURNAL WRITER — zero hot-path impact
// =============================================================================
//
// Architecture:
//   coordinator goroutine -> ch (buffered) -> Journal goroutine -> append-only file
//
// Performance guarantees:
//   - hot path sends via non-blocking select (drops if full): no added latency
//   - the writer goroutine batches through a bufio.Writer, flushed periodically
//   - each record is a single self-delimited JSON object, one per line
// =============================================================================

const (
	journalChanSize    = 4096
	journalBufSize     = 1 << 20 // 1 MB
	journalFlushPeriod = 1 * time.Second
)

// journalRecord is the stable on-disk schema for one persisted egress event.
type journalRecord struct {
	Kind          string         `json:"kind"`
	TsMs          int64          `json:"tsMs"`
	ID            string         `json:"id,omitempty"`
	PatternType   string         `json:"patternType,omitempty"`
	AnomalyType   string         `json:"anomalyType,omitempty"`
	Side          string         `json:"side,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	UpdateType    string         `json:"updateType,omitempty"`
	PriceTicks    int64          `json:"priceTicks,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func toJournalRecord(e model.Event) journalRecord {
	rec := journalRecord{Kind: string(e.Kind), TsMs: e.TsMs}
	switch e.Kind {
	case model.EventKindSignal:
		if e.Signal == nil {
			break
		}
		rec.ID = e.Signal.ID
		rec.PatternType = string(e.Signal.Type)
		rec.Side = string(e.Signal.Side)
		rec.PriceTicks = int64(e.Signal.PriceTicks)
		rec.Confidence = e.Signal.Confidence
		rec.CorrelationID = e.Signal.CorrelationID
		rec.Payload = e.Signal.Payload
	case model.EventKindAnomaly:
		if e.Anomaly == nil {
			break
		}
		rec.ID = e.Anomaly.ID
		rec.AnomalyType = string(e.Anomaly.Type)
		rec.Severity = string(e.Anomaly.Severity)
		rec.PriceTicks = int64(e.Anomaly.PriceRangeAffected.Center)
		rec.CorrelationID = e.Anomaly.CorrelationID
		rec.Payload = e.Anomaly.Details
	case model.EventKindZone:
		if e.Zone == nil {
			break
		}
		rec.UpdateType = string(e.Zone.UpdateType)
		if e.Zone.Zone != nil {
			rec.ID = e.Zone.Zone.ID
			rec.PriceTicks = int64(e.Zone.Zone.PriceRange.Center)
			rec.Confidence = e.Zone.Zone.Strength
		}
	}
	return rec
}

// Journal is an async, append-only JSON-lines writer for signal candidates
// and zone lifecycle events (spec's "persisted state layout"). A full
// channel drops the record rather than block the hot pipeline.
type Journal struct {
	ch  chan model.Event
	log *zap.Logger
	met *instrumentation.Metrics
}

// NewJournal creates the journal and starts its background goroutine.
// path is the destination file, appended-to across restarts.
func NewJournal(path string, log *zap.Logger, met *instrumentation.Metrics) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	j := &Journal{
		ch:  make(chan model.Event, journalChanSize),
		log: log,
		met: met,
	}
	go j.run(path)
	return j, nil
}

// Write is a non-blocking send. Drops the event if the channel is full.
func (j *Journal) Write(e model.Event) {
	select {
	case j.ch <- e:
	default:
		j.met.JournalRecordsDroppedTotal.Inc()
		j.log.Warn("journal channel full, dropping event", zap.String("kind", string(e.Kind)))
	}
}

// Close stops accepting new events. The background goroutine then drains
// the channel and flushes on its own; Close does not wait for it.
func (j *Journal) Close() {
	close(j.ch)
}

func (j *Journal) run(path string) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.log.Error("journal: failed to open file", zap.String("path", path), zap.Error(err))
		return
	}
	defer file.Close()

	writer := bufio.NewWriterSize(file, journalBufSize)
	enc := json.NewEncoder(writer)

	ticker := time.NewTicker(journalFlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				writer.Flush()
				return
			}
			if err := enc.Encode(toJournalRecord(e)); err != nil {
				j.log.Error("journal: failed to encode record", zap.Error(err))
				continue
			}
			j.met.JournalRecordsWrittenTotal.Inc()
		case <-ticker.C:
			writer.Flush()
		}
	}
}
