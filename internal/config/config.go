// Package config loads the exhaustively enumerated configuration record
// for every pipeline component from environment variables. Every field
// declares an envDefault, so an unset variable takes that default; a value
// that fails to parse or fails Validate is a ConfigError raised at
// startup.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"orderflow/internal/xerrors"
)

// BookConfig configures the order book.
type BookConfig struct {
	Symbol                string `env:"SYMBOL" envDefault:"BTCUSDT"`
	PricePrecision        int    `env:"PRICE_PRECISION" envDefault:"2"`
	MaxLevels             int    `env:"MAX_LEVELS" envDefault:"2000"`
	PruneIntervalMs       int64  `env:"PRUNE_INTERVAL_MS" envDefault:"1000"`
	StaleLevelMs          int64  `env:"STALE_LEVEL_MS" envDefault:"60000"`
	MaxDistanceTicks      int64  `env:"MAX_DISTANCE_TICKS" envDefault:"5000"`
	MaxErrorRateWindowed  int    `env:"MAX_ERROR_RATE_WINDOWED" envDefault:"50"`
	CircuitOpenMs         int64  `env:"CIRCUIT_OPEN_MS" envDefault:"5000"`
	DisableSequenceValidation bool `env:"DISABLE_SEQUENCE_VALIDATION" envDefault:"false"`
	StaleBookMs           int64  `env:"STALE_BOOK_MS" envDefault:"10000"`
}

func (c BookConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if c.MaxLevels <= 0 {
		return fmt.Errorf("maxLevels must be > 0")
	}
	if c.PruneIntervalMs <= 0 {
		return fmt.Errorf("pruneIntervalMs must be > 0")
	}
	if c.MaxErrorRateWindowed <= 0 {
		return fmt.Errorf("maxErrorRateWindowed must be > 0")
	}
	if c.CircuitOpenMs <= 0 {
		return fmt.Errorf("circuitOpenMs must be > 0")
	}
	return nil
}

// PreprocessorConfig configures the order-flow preprocessor.
type PreprocessorConfig struct {
	TickSizeStr                  string  `env:"TICK_SIZE" envDefault:"0.01"`
	BandTicksForZonePassive      int64   `env:"BAND_TICKS_FOR_ZONE_PASSIVE" envDefault:"50"`
	Resolutions                  []int64 `env:"RESOLUTIONS" envSeparator:"," envDefault:"5,10,20"`
	SnapshotRetentionMsPerResolution []int64 `env:"SNAPSHOT_RETENTION_MS" envSeparator:"," envDefault:"60000,120000,300000"`
	SnapshotSpanTicks             int64   `env:"SNAPSHOT_SPAN_TICKS" envDefault:"500"`
}

func (c PreprocessorConfig) Validate() error {
	if c.TickSizeStr == "" {
		return fmt.Errorf("tickSize must not be empty")
	}
	if len(c.Resolutions) == 0 {
		return fmt.Errorf("resolutions must not be empty")
	}
	if len(c.SnapshotRetentionMsPerResolution) != len(c.Resolutions) {
		return fmt.Errorf("snapshotRetentionMs must have one entry per resolution")
	}
	if c.SnapshotSpanTicks <= 0 {
		return fmt.Errorf("snapshotSpanTicks must be > 0")
	}
	return nil
}

// ZoneEngineConfig configures the long-horizon zone engine.
type ZoneEngineConfig struct {
	MaxActiveZones          int     `env:"MAX_ACTIVE_ZONES" envDefault:"25"`
	ZoneTimeoutMs           int64   `env:"ZONE_TIMEOUT_MS" envDefault:"1800000"`
	StrengthChangeThreshold float64 `env:"STRENGTH_CHANGE_THRESHOLD" envDefault:"0.1"`
	CompletionThreshold     float64 `env:"COMPLETION_THRESHOLD" envDefault:"0.85"`
	HistoryRetentionMs      int64   `env:"HISTORY_RETENTION_MS" envDefault:"86400000"`
	MaxHistoryPerSymbol     int     `env:"MAX_HISTORY_PER_SYMBOL" envDefault:"200"`
	ExpireIntervalMs        int64   `env:"EXPIRE_INTERVAL_MS" envDefault:"30000"`
	GCIntervalMs            int64   `env:"GC_INTERVAL_MS" envDefault:"60000"`
	VRefAccumulation        float64 `env:"V_REF_ACCUMULATION" envDefault:"1000"`
	VRefDistribution        float64 `env:"V_REF_DISTRIBUTION" envDefault:"1000"`
	TRefMs                  float64 `env:"T_REF_MS" envDefault:"600000"`
	TConfidenceMs           float64 `env:"T_CONFIDENCE_MS" envDefault:"300000"`
	MergeToleranceTicks     int64   `env:"MERGE_TOLERANCE_TICKS" envDefault:"50"`
}

func (c ZoneEngineConfig) Validate() error {
	if c.MaxActiveZones <= 0 {
		return fmt.Errorf("maxActiveZones must be > 0")
	}
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 1 {
		return fmt.Errorf("completionThreshold must be in (0,1]")
	}
	if c.VRefAccumulation <= 0 || c.VRefDistribution <= 0 || c.TRefMs <= 0 {
		return fmt.Errorf("reference volume/time constants must be > 0")
	}
	return nil
}

// AbsorptionConfig configures the absorption detector.
type AbsorptionConfig struct {
	WindowMs                 int64   `env:"ABS_WINDOW_MS" envDefault:"60000"`
	MinAggVolume              float64 `env:"ABS_MIN_AGG_VOLUME" envDefault:"500"`
	AbsorptionThreshold       float64 `env:"ABS_ABSORPTION_THRESHOLD" envDefault:"1.5"`
	MaxAbsorptionRatio        float64 `env:"ABS_MAX_ABSORPTION_RATIO" envDefault:"20"`
	MinPassiveMultiplier      float64 `env:"ABS_MIN_PASSIVE_MULTIPLIER" envDefault:"1.2"`
	PriceEfficiencyThreshold  float64 `env:"ABS_PRICE_EFFICIENCY_THRESHOLD" envDefault:"0.001"`
	ZoneTicks                 int64   `env:"ABS_ZONE_TICKS" envDefault:"10"`
	EventCooldownMs           int64   `env:"ABS_EVENT_COOLDOWN_MS" envDefault:"15000"`
	SpreadImpactThreshold     float64 `env:"ABS_SPREAD_IMPACT_THRESHOLD" envDefault:"0.0005"`
	VelocityIncreaseThreshold float64 `env:"ABS_VELOCITY_INCREASE_THRESHOLD" envDefault:"2.0"`
	NRecentSnapshots          int     `env:"ABS_N_RECENT_SNAPSHOTS" envDefault:"5"`
}

func (c AbsorptionConfig) Validate() error {
	if c.MinAggVolume <= 0 {
		return fmt.Errorf("minAggVolume must be > 0")
	}
	if c.AbsorptionThreshold <= 0 || c.MaxAbsorptionRatio <= c.AbsorptionThreshold {
		return fmt.Errorf("absorptionThreshold must be > 0 and < maxAbsorptionRatio")
	}
	if c.EventCooldownMs < 0 {
		return fmt.Errorf("eventCooldownMs must be >= 0")
	}
	return nil
}

// ExhaustionConfig configures the exhaustion detector.
type ExhaustionConfig struct {
	WindowMs                      int64   `env:"EXH_WINDOW_MS" envDefault:"60000"`
	MinAggVolume                  float64 `env:"EXH_MIN_AGG_VOLUME" envDefault:"400"`
	ExhaustionThreshold            float64 `env:"EXH_EXHAUSTION_THRESHOLD" envDefault:"0.4"`
	DepletionVolumeThreshold       float64 `env:"EXH_DEPLETION_VOLUME_THRESHOLD" envDefault:"300"`
	DepletionRatioThreshold        float64 `env:"EXH_DEPLETION_RATIO_THRESHOLD" envDefault:"0.3"`
	PassiveRatioBalanceThreshold   float64 `env:"EXH_PASSIVE_RATIO_BALANCE_THRESHOLD" envDefault:"0.5"`
	PassiveVolumeExhaustionRatio   float64 `env:"EXH_PASSIVE_VOLUME_EXHAUSTION_RATIO" envDefault:"0.5"`
	MinEnhancedConfidenceThreshold float64 `env:"EXH_MIN_ENHANCED_CONFIDENCE_THRESHOLD" envDefault:"0.55"`
	AlignmentNormalizationFactor   float64 `env:"EXH_ALIGNMENT_NORMALIZATION_FACTOR" envDefault:"0.6"`
	VarianceReductionFactor        float64 `env:"EXH_VARIANCE_REDUCTION_FACTOR" envDefault:"0.5"`
	NFlowTrades                    int     `env:"EXH_N_FLOW_TRADES" envDefault:"20"`
	MinZoneConfluenceCount         int     `env:"EXH_MIN_ZONE_CONFLUENCE_COUNT" envDefault:"2"`
	MaxZoneConfluenceDistanceTicks int64   `env:"EXH_MAX_ZONE_CONFLUENCE_DISTANCE_TICKS" envDefault:"30"`
}

func (c ExhaustionConfig) Validate() error {
	if c.MinAggVolume <= 0 {
		return fmt.Errorf("minAggVolume must be > 0")
	}
	if c.ExhaustionThreshold <= 0 || c.ExhaustionThreshold >= 1 {
		return fmt.Errorf("exhaustionThreshold must be in (0,1)")
	}
	if c.MinEnhancedConfidenceThreshold <= 0 || c.MinEnhancedConfidenceThreshold > 1 {
		return fmt.Errorf("minEnhancedConfidenceThreshold must be in (0,1]")
	}
	return nil
}

// ZoneLifecycleConfig configures both the accumulation and distribution
// detectors (they share the same knob set, mirrored by side per spec §6).
type ZoneLifecycleConfig struct {
	WindowMs            int64   `env:"ZL_WINDOW_MS" envDefault:"300000"`
	MinDurationMs       int64   `env:"ZL_MIN_DURATION_MS" envDefault:"120000"`
	ZoneSizeTicks        int64   `env:"ZL_ZONE_SIZE_TICKS" envDefault:"10"`
	MinRatio             float64 `env:"ZL_MIN_RATIO" envDefault:"1.5"`
	MinRecentActivityMs  int64   `env:"ZL_MIN_RECENT_ACTIVITY_MS" envDefault:"60000"`
	MinAggVolume         float64 `env:"ZL_MIN_AGG_VOLUME" envDefault:"300"`
	TrackSide            bool    `env:"ZL_TRACK_SIDE" envDefault:"true"`
	MinSellRatio         float64 `env:"ZL_MIN_SELL_RATIO" envDefault:"0.65"`
	MinBuyRatio          float64 `env:"ZL_MIN_BUY_RATIO" envDefault:"0.65"`
	MinZoneVolume        float64 `env:"ZL_MIN_ZONE_VOLUME" envDefault:"600"`
	MinTradeCount        int     `env:"ZL_MIN_TRADE_COUNT" envDefault:"8"`
	MinZoneStrength      float64 `env:"ZL_MIN_ZONE_STRENGTH" envDefault:"0.45"`
	MaxPriceDeviationTicks int64 `env:"ZL_MAX_PRICE_DEVIATION_TICKS" envDefault:"30"`
	StrengthenEmitThreshold float64 `env:"ZL_STRENGTHEN_EMIT_THRESHOLD" envDefault:"0.15"`
}

func (c ZoneLifecycleConfig) Validate() error {
	if c.MinDurationMs <= 0 {
		return fmt.Errorf("minDurationMs must be > 0")
	}
	if c.MinRatio <= 0 {
		return fmt.Errorf("minRatio must be > 0")
	}
	if c.MinTradeCount <= 0 {
		return fmt.Errorf("minTradeCount must be > 0")
	}
	return nil
}

// EnhancementMode selects the CVD detector's analysis depth.
type EnhancementMode string

const (
	EnhancementDisabled   EnhancementMode = "disabled"
	EnhancementMonitoring EnhancementMode = "monitoring"
	EnhancementProduction EnhancementMode = "production"
)

// CVDConfig configures the CVD divergence detector.
type CVDConfig struct {
	WindowsSec                     []int64 `env:"CVD_WINDOWS_SEC" envSeparator:"," envDefault:"60,300"`
	MinZ                           float64 `env:"CVD_MIN_Z" envDefault:"2.0"`
	BaseConfidenceRequired         float64 `env:"CVD_BASE_CONFIDENCE_REQUIRED" envDefault:"0.5"`
	DivergenceVolumeThreshold      float64 `env:"CVD_DIVERGENCE_VOLUME_THRESHOLD" envDefault:"400"`
	DivergenceStrengthThreshold    float64 `env:"CVD_DIVERGENCE_STRENGTH_THRESHOLD" envDefault:"0.4"`
	SignificantImbalanceThreshold  float64 `env:"CVD_SIGNIFICANT_IMBALANCE_THRESHOLD" envDefault:"0.3"`
	DivergenceScoreMultiplier      float64 `env:"CVD_DIVERGENCE_SCORE_MULTIPLIER" envDefault:"1.0"`
	MomentumScoreMultiplier        float64 `env:"CVD_MOMENTUM_SCORE_MULTIPLIER" envDefault:"1.0"`
	AlignmentMinimumThreshold      float64 `env:"CVD_ALIGNMENT_MINIMUM_THRESHOLD" envDefault:"0.5"`
	EnhancementMode                EnhancementMode `env:"CVD_ENHANCEMENT_MODE" envDefault:"production"`
	HistorySize                    int     `env:"CVD_HISTORY_SIZE" envDefault:"200"`
}

func (c CVDConfig) Validate() error {
	if len(c.WindowsSec) == 0 {
		return fmt.Errorf("windowsSec must not be empty")
	}
	if c.MinZ <= 0 {
		return fmt.Errorf("minZ must be > 0")
	}
	switch c.EnhancementMode {
	case EnhancementDisabled, EnhancementMonitoring, EnhancementProduction:
	default:
		return fmt.Errorf("invalid enhancementMode %q", c.EnhancementMode)
	}
	return nil
}

// UniversalZoneConfig holds the confluence knobs shared by every detector.
type UniversalZoneConfig struct {
	MinZoneConfluenceCount         int     `env:"UZ_MIN_ZONE_CONFLUENCE_COUNT" envDefault:"2"`
	MaxZoneConfluenceDistanceTicks int64   `env:"UZ_MAX_ZONE_CONFLUENCE_DISTANCE_TICKS" envDefault:"30"`
	ConfluenceConfidenceBoost      float64 `env:"UZ_CONFLUENCE_CONFIDENCE_BOOST" envDefault:"0.1"`
	EnableZoneConfluenceFilter     bool    `env:"UZ_ENABLE_ZONE_CONFLUENCE_FILTER" envDefault:"true"`
	EnableCrossTimeframeAnalysis   bool    `env:"UZ_ENABLE_CROSS_TIMEFRAME_ANALYSIS" envDefault:"true"`
	CrossTimeframeBoost            float64 `env:"UZ_CROSS_TIMEFRAME_BOOST" envDefault:"0.1"`
}

func (c UniversalZoneConfig) Validate() error {
	if c.MinZoneConfluenceCount <= 0 {
		return fmt.Errorf("minZoneConfluenceCount must be > 0")
	}
	return nil
}

// AnomalyConfig configures the anomaly detector.
type AnomalyConfig struct {
	WindowSize                     int     `env:"ANOM_WINDOW_SIZE" envDefault:"500"`
	NormalSpreadBps                float64 `env:"ANOM_NORMAL_SPREAD_BPS" envDefault:"2.0"`
	MinHistory                     int     `env:"ANOM_MIN_HISTORY" envDefault:"30"`
	AnomalyCooldownMs              int64   `env:"ANOM_COOLDOWN_MS" envDefault:"30000"`
	VolumeImbalanceThreshold       float64 `env:"ANOM_VOLUME_IMBALANCE_THRESHOLD" envDefault:"0.6"`
	AbsorptionRatioThreshold       float64 `env:"ANOM_ABSORPTION_RATIO_THRESHOLD" envDefault:"1.5"`
	IcebergDetectionWindowMs       int64   `env:"ANOM_ICEBERG_WINDOW_MS" envDefault:"15000"`
	OrderSizeAnomalyThresholdSigma float64 `env:"ANOM_ORDER_SIZE_THRESHOLD_SIGMA" envDefault:"3.0"`
	FlowWindowMs                   int64   `env:"ANOM_FLOW_WINDOW_MS" envDefault:"30000"`
	OrderSizeWindowMs              int64   `env:"ANOM_ORDER_SIZE_WINDOW_MS" envDefault:"120000"`
	FlashCrashZThreshold           float64 `env:"ANOM_FLASH_CRASH_Z" envDefault:"3.0"`
	LiquidityVoidMultiplier        float64 `env:"ANOM_LIQUIDITY_VOID_MULTIPLIER" envDefault:"4.0"`
	APIGapMs                       int64   `env:"ANOM_API_GAP_MS" envDefault:"5000"`
	ExtremeVolatilityMultiplier    float64 `env:"ANOM_EXTREME_VOLATILITY_MULTIPLIER" envDefault:"2.5"`
	MomentumIgnitionVolumeMultiplier float64 `env:"ANOM_MOMENTUM_IGNITION_VOLUME_MULTIPLIER" envDefault:"4.0"`
	CleanupIntervalMs              int64   `env:"ANOM_CLEANUP_INTERVAL_MS" envDefault:"60000"`

	// Positioning gate (optional; inert until a caller feeds samples via
	// Detector.UpdatePositioning).
	PositioningValueThresholdFrac float64 `env:"ANOM_POSITIONING_VALUE_THRESHOLD_FRAC" envDefault:"0.0001"`
	PositioningPriceThresholdAbs  float64 `env:"ANOM_POSITIONING_PRICE_THRESHOLD_ABS" envDefault:"1.0"`
}

func (c AnomalyConfig) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("windowSize must be > 0")
	}
	if c.MinHistory <= 0 || c.MinHistory > c.WindowSize {
		return fmt.Errorf("minHistory must be in (0, windowSize]")
	}
	if c.AnomalyCooldownMs < 0 {
		return fmt.Errorf("anomalyCooldownMs must be >= 0")
	}
	return nil
}

// CoordinatorConfig configures the signal coordinator.
type CoordinatorConfig struct {
	DefaultCooldownMs       int64   `env:"COORD_DEFAULT_COOLDOWN_MS" envDefault:"10000"`
	PerTypeCooldownMs       map[string]int64 `env:"-"`
	MinConfidenceFloor      float64 `env:"COORD_MIN_CONFIDENCE_FLOOR" envDefault:"0.5"`
	DedupWindowMs           int64   `env:"COORD_DEDUP_WINDOW_MS" envDefault:"2000"`
	RequireHealthyMarket    bool    `env:"COORD_REQUIRE_HEALTHY_MARKET" envDefault:"true"`
}

func (c CoordinatorConfig) Validate() error {
	if c.DefaultCooldownMs < 0 {
		return fmt.Errorf("defaultCooldownMs must be >= 0")
	}
	if c.MinConfidenceFloor < 0 || c.MinConfidenceFloor > 1 {
		return fmt.Errorf("minConfidenceFloor must be in [0,1]")
	}
	return nil
}

// TransportConfig configures the exchange websocket clients.
type TransportConfig struct {
	AggTradeURL       string `env:"TRANSPORT_AGGTRADE_URL" envDefault:"wss://stream.binance.com:9443/ws/btcusdt@aggTrade"`
	DepthURL          string `env:"TRANSPORT_DEPTH_URL" envDefault:"wss://stream.binance.com:9443/ws/btcusdt@depth@100ms"`
	ReconnectDelayMs  int64  `env:"TRANSPORT_RECONNECT_DELAY_MS" envDefault:"1000"`
	MaxReconnectDelayMs int64 `env:"TRANSPORT_MAX_RECONNECT_DELAY_MS" envDefault:"30000"`
	StaleStreamMs     int64  `env:"TRANSPORT_STALE_STREAM_MS" envDefault:"10000"`
}

func (c TransportConfig) Validate() error {
	if c.AggTradeURL == "" || c.DepthURL == "" {
		return fmt.Errorf("aggTradeURL and depthURL must not be empty")
	}
	if c.ReconnectDelayMs <= 0 || c.MaxReconnectDelayMs < c.ReconnectDelayMs {
		return fmt.Errorf("reconnect delays must be > 0 and non-decreasing")
	}
	return nil
}

// IngressConfig configures the bounded ingress queue and backpressure.
type IngressConfig struct {
	QueueCapacity      int     `env:"INGRESS_QUEUE_CAPACITY" envDefault:"4096"`
	HighWatermarkRatio float64 `env:"INGRESS_HIGH_WATERMARK_RATIO" envDefault:"0.8"`
	RateLimitPerSec    float64 `env:"INGRESS_RATE_LIMIT_PER_SEC" envDefault:"2000"`
	RateBurst          int     `env:"INGRESS_RATE_BURST" envDefault:"500"`
}

func (c IngressConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queueCapacity must be > 0")
	}
	if c.HighWatermarkRatio <= 0 || c.HighWatermarkRatio > 1 {
		return fmt.Errorf("highWatermarkRatio must be in (0,1]")
	}
	return nil
}

// EgressConfig configures the journal and broadcaster.
type EgressConfig struct {
	JournalPath       string `env:"EGRESS_JOURNAL_PATH" envDefault:"./data/orderflow.journal.jsonl"`
	JournalEnabled    bool   `env:"EGRESS_JOURNAL_ENABLED" envDefault:"true"`
	BroadcastBufferSize int  `env:"EGRESS_BROADCAST_BUFFER_SIZE" envDefault:"256"`
	RingBufferSize    int    `env:"EGRESS_RING_BUFFER_SIZE" envDefault:"2048"`
}

func (c EgressConfig) Validate() error {
	if c.JournalEnabled && c.JournalPath == "" {
		return fmt.Errorf("journalPath must not be empty when journal is enabled")
	}
	if c.BroadcastBufferSize <= 0 || c.RingBufferSize <= 0 {
		return fmt.Errorf("broadcastBufferSize and ringBufferSize must be > 0")
	}
	return nil
}

// HTTPConfig configures the health/stats/metrics HTTP surface.
type HTTPConfig struct {
	ListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:":8090"`
}

func (c HTTPConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	return nil
}

// Config is the full, exhaustively enumerated configuration record.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogMode  string `env:"LOG_MODE" envDefault:"production"`

	Book          BookConfig          `envPrefix:"BOOK_"`
	Preprocessor  PreprocessorConfig  `envPrefix:"PRE_"`
	ZoneEngine    ZoneEngineConfig    `envPrefix:"ZONE_"`
	Absorption    AbsorptionConfig    `envPrefix:"ABSORPTION_"`
	Exhaustion    ExhaustionConfig    `envPrefix:"EXHAUSTION_"`
	Accumulation  ZoneLifecycleConfig `envPrefix:"ACCUM_"`
	Distribution  ZoneLifecycleConfig `envPrefix:"DIST_"`
	CVD           CVDConfig           `envPrefix:"CVD_"`
	UniversalZone UniversalZoneConfig `envPrefix:"UZ_"`
	Anomaly       AnomalyConfig       `envPrefix:"ANOMALY_"`
	Coordinator   CoordinatorConfig   `envPrefix:"COORD_"`
	Transport     TransportConfig     `envPrefix:"TRANSPORT_"`
	Ingress       IngressConfig       `envPrefix:"INGRESS_"`
	Egress        EgressConfig        `envPrefix:"EGRESS_"`
	HTTP          HTTPConfig          `envPrefix:"HTTP_"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, xerrors.New(xerrors.KindConfig, "config", fmt.Errorf("parse environment: %w", err))
	}
	cfg.Coordinator.PerTypeCooldownMs = map[string]int64{
		"absorption":   15000,
		"exhaustion":   15000,
		"accumulation": 30000,
		"distribution": 30000,
		"cvd_divergence": 20000,
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.New(xerrors.KindConfig, "config", err)
	}
	return cfg, nil
}

// Validate validates every sub-config and cross-component invariants.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	subs := []interface{ Validate() error }{
		c.Book, c.Preprocessor, c.ZoneEngine, c.Absorption, c.Exhaustion,
		c.Accumulation, c.Distribution, c.CVD, c.UniversalZone, c.Anomaly,
		c.Coordinator, c.Transport, c.Ingress, c.Egress, c.HTTP,
	}
	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%T: %w", s, err)
		}
	}
	return nil
}
