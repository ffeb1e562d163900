package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/fixedpoint"
	"orderflow/internal/model"
)

func testCfg() config.IngressConfig {
	return config.IngressConfig{QueueCapacity: 4, HighWatermarkRatio: 0.5, RateLimitPerSec: 1000, RateBurst: 100}
}

func TestPushTradeNeverDropped(t *testing.T) {
	q := NewQueue(testCfg(), nil, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		q.PushTrade(ctx, model.AggressiveTrade{TradeID: int64(i)})
	}
	assert.Equal(t, 4, q.Len())
}

func TestPushDepthCoalescesUnderWatermark(t *testing.T) {
	q := NewQueue(testCfg(), nil, zap.NewNop())
	ctx := context.Background()
	// capacity 4, watermark ratio 0.5 -> watermark at 2; fill to watermark first.
	q.PushTrade(ctx, model.AggressiveTrade{TradeID: 1})
	q.PushTrade(ctx, model.AggressiveTrade{TradeID: 2})

	price := fixedpoint.Ticks(100)
	q.PushDepth(ctx, model.DepthDiff{FinalUpdateID: 1, Levels: []model.DepthLevelUpdate{{PriceTicks: price, BidQty: 1}}})
	q.PushDepth(ctx, model.DepthDiff{FinalUpdateID: 2, Levels: []model.DepthLevelUpdate{{PriceTicks: price, BidQty: 2}}})

	require.True(t, q.hasPending)
	assert.Equal(t, fixedpoint.Amount(2), q.pendingDepth[price].BidQty)
}

func TestFlushPendingDrainsOnce(t *testing.T) {
	q := NewQueue(testCfg(), nil, zap.NewNop())
	ctx := context.Background()
	q.pendingDepth[fixedpoint.Ticks(5)] = model.DepthLevelUpdate{PriceTicks: 5, BidQty: 9}
	q.hasPending = true

	q.FlushPending(ctx)
	assert.False(t, q.hasPending)

	evt, ok := q.Pop(ctx)
	require.True(t, ok)
	require.NotNil(t, evt.Depth)
	assert.Equal(t, int64(0), evt.Depth.FinalUpdateID)
}

func TestPopReturnsFalseOnCancel(t *testing.T) {
	q := NewQueue(testCfg(), nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}
