package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Egress.JournalPath = filepath.Join(t.TempDir(), "journal.jsonl")
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	pl, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, pl.Book)
	require.NotNil(t, pl.Preprocessor)
	require.NotNil(t, pl.ZoneEngine)
	require.NotNil(t, pl.Coordinator)
	require.NotNil(t, pl.Anomaly)
	require.NotNil(t, pl.Sink)

	// A fresh book starts out healthy (no errors yet, circuit closed).
	require.Equal(t, "ok", pl.Health())
}

func TestNewRejectsBadTickSize(t *testing.T) {
	cfg := testConfig(t)
	cfg.Preprocessor.TickSizeStr = "not-a-number"
	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
}
