package egress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
)

func TestJournalWritesAndReplays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")

	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	j, err := NewJournal(path, zap.NewNop(), met)
	require.NoError(t, err)

	cand := &model.SignalCandidate{ID: "sig-1", Type: model.PatternAbsorption, Side: model.SideBuy, Confidence: 0.9}
	j.Write(model.Event{Kind: model.EventKindSignal, TsMs: 1000, Signal: cand})
	j.Write(model.Event{Kind: model.EventKindSignal, TsMs: 5000, Signal: cand})
	j.Close()

	// Give the background goroutine a moment to flush after Close.
	deadline := time.Now().Add(2 * time.Second)
	var info os.FileInfo
	for time.Now().Before(deadline) {
		info, err = os.Stat(path)
		if err == nil && info.Size() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	recs, err := ReplayRecords(path, 0, 2000)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "sig-1", recs[0].ID)
}

func TestJournalDisabledLeavesSinkFunctional(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	cfg := config.EgressConfig{JournalEnabled: false, BroadcastBufferSize: 16, RingBufferSize: 4}

	s, err := NewSink(cfg, zap.NewNop(), met)
	require.NoError(t, err)
	defer s.Close()

	s.Emit(model.Event{Kind: model.EventKindZone, TsMs: 1})
	require.Equal(t, 1, s.Buffer.Size())
}

func TestSinkRingBufferHydratesHistory(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := instrumentation.New(reg)
	cfg := config.EgressConfig{JournalEnabled: false, BroadcastBufferSize: 16, RingBufferSize: 2}

	s, err := NewSink(cfg, zap.NewNop(), met)
	require.NoError(t, err)
	defer s.Close()

	s.Emit(model.Event{Kind: model.EventKindZone, TsMs: 1})
	s.Emit(model.Event{Kind: model.EventKindZone, TsMs: 2})
	s.Emit(model.Event{Kind: model.EventKindZone, TsMs: 3})

	all := s.Buffer.GetAll()
	require.Len(t, all, 2)
	require.Equal(t, int64(2), all[0].TsMs)
	require.Equal(t, int64(3), all[1].TsMs)
}
