// Package config defines all configuration for the paper-trading scanner.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via NOCARRY_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	API                   APIConfig        `mapstructure:"api"`
	WS                    WSConfig         `mapstructure:"ws"`
	Scanner               ScannerConfig    `mapstructure:"scanner"`
	Selection             SelectionConfig  `mapstructure:"selection"`
	Fees                  FeesConfig       `mapstructure:"fees"`
	Simulation            SimulationConfig `mapstructure:"simulation"`
	Risk                  RiskConfig       `mapstructure:"risk"`
	Carry                 CarryConfig      `mapstructure:"carry"`
	Reporting             ReportingConfig  `mapstructure:"reporting"`
	ControlAPI            ControlAPIConfig `mapstructure:"control_api"`
	Store                 StoreConfig      `mapstructure:"store"`
	Logging               LoggingConfig    `mapstructure:"logging"`
	DiagnosticLooseFilter bool             `mapstructure:"diagnostic_loose_filters"`
}

// APIConfig holds upstream REST endpoints. No credentials: the scanner is
// read-only and the safety preflight refuses to start if any are present.
type APIConfig struct {
	GammaBaseURL    string `mapstructure:"gammaBaseUrl"`
	ClobRestBaseURL string `mapstructure:"clobRestBaseUrl"`
}

// WSConfig holds the market data WebSocket endpoint and subscription cap.
type WSConfig struct {
	MarketURL          string `mapstructure:"market_url"`
	MaxAssetsSubscribe int    `mapstructure:"max_assets_subscribed"`
}

// ScannerConfig controls the scan cadence and pagination.
type ScannerConfig struct {
	PollIntervalMs int `mapstructure:"pollIntervalMs"`
	MaxPages       int `mapstructure:"max_pages"`
	PageSize       int `mapstructure:"page_size"`
}

// PollInterval returns the scan cadence as a duration.
func (s ScannerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// SelectionConfig holds the NO-side filter thresholds.
//
//   - MinNoPrice: baseline mode rejects asks below this (not near certainty).
//   - CaptureMinNoAsk/CaptureMaxNoAsk: capture mode accepts asks inside this band only.
//   - MaxSpread / MinLiquidityUSD: book quality gates.
//   - MaxTimeToResolutionHours: skip markets resolving too far out.
type SelectionConfig struct {
	MinNoPrice               float64 `mapstructure:"min_no_price"`
	MaxSpread                float64 `mapstructure:"max_spread"`
	MinLiquidityUSD          float64 `mapstructure:"min_liquidity_usd"`
	MaxTimeToResolutionHours float64 `mapstructure:"max_time_to_resolution_hours"`
	CaptureMinNoAsk          float64 `mapstructure:"capture_min_no_ask"`
	CaptureMaxNoAsk          float64 `mapstructure:"capture_max_no_ask"`
}

// FeesConfig tunes the expected-value model.
type FeesConfig struct {
	FeeBps                   float64 `mapstructure:"fee_bps"`
	PTail                    float64 `mapstructure:"p_tail"`
	TailLossFraction         float64 `mapstructure:"tail_loss_fraction"`
	AmbiguousPTailMultiplier float64 `mapstructure:"ambiguous_resolution_p_tail_multiplier"`
	EVMode                   string  `mapstructure:"ev_mode"` // "baseline" or "capture"
}

// SimulationConfig sets the fill simulator semantics.
type SimulationConfig struct {
	DefaultOrderSizeUSD float64 `mapstructure:"default_order_size_usd"`
	SlippageBps         float64 `mapstructure:"slippage_bps"`
	MaxFillDepthLevels  int     `mapstructure:"max_fill_depth_levels"`
}

// ResolutionWindow is one bucket of the legacy window heuristic: the first
// bucket whose MaxHours covers the time to resolution wins.
type ResolutionWindow struct {
	Name     string  `mapstructure:"name"`
	MaxHours float64 `mapstructure:"max_hours"`
}

// RiskConfig sets the correlated-exposure caps, all in USD notional.
type RiskConfig struct {
	MaxTotalExposureUSD            float64            `mapstructure:"max_total_exposure_usd"`
	MaxExposurePerMarketUSD        float64            `mapstructure:"max_exposure_per_market_usd"`
	MaxExposurePerCategoryUSD      float64            `mapstructure:"max_exposure_per_category_usd"`
	MaxExposurePerAssumptionUSD    float64            `mapstructure:"max_exposure_per_assumption_usd"`
	MaxExposurePerResolutionWindow float64            `mapstructure:"max_exposure_per_resolution_window_usd"`
	MaxPositionsOpen               int                `mapstructure:"max_positions_open"`
	KillSwitchEnabled              bool               `mapstructure:"kill_switch_enabled"`
	ResolutionWindows              []ResolutionWindow `mapstructure:"resolution_windows"`
}

// CarryConfig is the YES-side resolution-carry policy.
type CarryConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	ROIMinPct          float64  `mapstructure:"roiMinPct"`
	ROIMaxPct          float64  `mapstructure:"roiMaxPct"`
	MaxSpread          float64  `mapstructure:"maxSpread"`
	MaxDays            float64  `mapstructure:"maxDays"`
	MinDaysToRes       float64  `mapstructure:"minDaysToResolution"`
	MinAskLiqUSD       float64  `mapstructure:"minAskLiqUsd"`
	SpreadEdgeMaxRatio float64  `mapstructure:"spreadEdgeMaxRatio"`
	SpreadEdgeMinAbs   float64  `mapstructure:"spreadEdgeMinAbs"`
	AllowSyntheticAsk  bool     `mapstructure:"allowSyntheticAsk"`
	SyntheticTick      float64  `mapstructure:"syntheticTick"`
	SyntheticMaxAsk    float64  `mapstructure:"syntheticMaxAsk"`
	AllowHTTPFallback  bool     `mapstructure:"allowHttpFallback"`
	AllowCategories    []string `mapstructure:"allowCategories"`
	AllowKeywords      []string `mapstructure:"allowKeywords"`
}

// ReportingConfig controls the daily report writer.
type ReportingConfig struct {
	ReportDir            string `mapstructure:"report_dir"`
	DailyReportHourLocal int    `mapstructure:"daily_report_hour_local"`
	ReportIntervalMin    int    `mapstructure:"report_interval_minutes"`
	PrintTopN            int    `mapstructure:"print_top_n"`
}

// ControlAPIConfig sets where the control HTTP server listens.
type ControlAPIConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig sets where the ledger and positions files live.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides (NOCARRY_ prefix).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NOCARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DiagnosticLooseFilter {
		cfg.Selection = looseSelectionPreset(cfg.Selection)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.gammaBaseUrl", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clobRestBaseUrl", "https://clob.polymarket.com")
	v.SetDefault("ws.market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("ws.max_assets_subscribed", 400)
	v.SetDefault("scanner.pollIntervalMs", 60000)
	v.SetDefault("scanner.max_pages", 5)
	v.SetDefault("scanner.page_size", 100)
	v.SetDefault("fees.ev_mode", "baseline")
	v.SetDefault("fees.ambiguous_resolution_p_tail_multiplier", 1.0)
	v.SetDefault("simulation.default_order_size_usd", 100)
	v.SetDefault("simulation.slippage_bps", 50)
	v.SetDefault("simulation.max_fill_depth_levels", 10)
	v.SetDefault("risk.max_positions_open", 25)
	v.SetDefault("carry.syntheticTick", 0.01)
	v.SetDefault("carry.syntheticMaxAsk", 0.995)
	v.SetDefault("reporting.report_dir", "reports")
	v.SetDefault("reporting.daily_report_hour_local", 8)
	v.SetDefault("reporting.print_top_n", 10)
	v.SetDefault("control_api.port", 8787)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// looseSelectionPreset relaxes the filter thresholds for diagnosing why a
// universe yields no candidates. Near-miss reporting keys off the same flag.
func looseSelectionPreset(s SelectionConfig) SelectionConfig {
	s.MinNoPrice = 0.80
	s.MaxSpread = 0.10
	s.MinLiquidityUSD = 50
	if s.MaxTimeToResolutionHours < 24*90 {
		s.MaxTimeToResolutionHours = 24 * 90
	}
	return s
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gammaBaseUrl is required")
	}
	if c.API.ClobRestBaseURL == "" {
		return fmt.Errorf("api.clobRestBaseUrl is required")
	}
	if c.WS.MarketURL == "" {
		return fmt.Errorf("ws.market_url is required")
	}
	if c.Scanner.PollIntervalMs <= 0 {
		return fmt.Errorf("scanner.pollIntervalMs must be > 0")
	}
	switch c.Fees.EVMode {
	case "baseline", "capture":
	default:
		return fmt.Errorf("fees.ev_mode must be \"baseline\" or \"capture\"")
	}
	if c.Fees.EVMode == "capture" && c.Selection.CaptureMaxNoAsk <= c.Selection.CaptureMinNoAsk {
		return fmt.Errorf("selection.capture_max_no_ask must exceed selection.capture_min_no_ask")
	}
	if c.Simulation.DefaultOrderSizeUSD <= 0 {
		return fmt.Errorf("simulation.default_order_size_usd must be > 0")
	}
	if c.Simulation.MaxFillDepthLevels <= 0 {
		return fmt.Errorf("simulation.max_fill_depth_levels must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD <= 0 {
		return fmt.Errorf("risk.max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxExposurePerMarketUSD <= 0 {
		return fmt.Errorf("risk.max_exposure_per_market_usd must be > 0")
	}
	if c.Risk.MaxPositionsOpen <= 0 {
		return fmt.Errorf("risk.max_positions_open must be > 0")
	}
	if c.Carry.Enabled && c.Carry.ROIMaxPct <= c.Carry.ROIMinPct {
		return fmt.Errorf("carry.roiMaxPct must exceed carry.roiMinPct")
	}
	if c.ControlAPI.Port <= 0 {
		return fmt.Errorf("control_api.port must be > 0")
	}
	return nil
}
