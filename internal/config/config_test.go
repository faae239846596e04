package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
scanner:
  pollIntervalMs: 30000
selection:
  min_no_price: 0.94
  max_spread: 0.02
  min_liquidity_usd: 500
  max_time_to_resolution_hours: 720
risk:
  max_total_exposure_usd: 10000
  max_exposure_per_market_usd: 2000
  max_exposure_per_category_usd: 1500
  max_exposure_per_assumption_usd: 3000
  max_exposure_per_resolution_window_usd: 4000
`

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Scanner.PollIntervalMs != 30000 {
		t.Errorf("pollIntervalMs = %d, want 30000 from file", cfg.Scanner.PollIntervalMs)
	}
	if got := cfg.Scanner.PollInterval(); got != 30*time.Second {
		t.Errorf("PollInterval() = %v, want 30s", got)
	}
	if cfg.Selection.MinNoPrice != 0.94 {
		t.Errorf("min_no_price = %v, want 0.94", cfg.Selection.MinNoPrice)
	}

	// Unset keys fall back to defaults.
	if cfg.API.GammaBaseURL == "" {
		t.Error("gammaBaseUrl default missing")
	}
	if cfg.Fees.EVMode != "baseline" {
		t.Errorf("ev_mode default = %q, want baseline", cfg.Fees.EVMode)
	}
	if cfg.Simulation.DefaultOrderSizeUSD != 100 {
		t.Errorf("default_order_size_usd = %v, want 100", cfg.Simulation.DefaultOrderSizeUSD)
	}
	if cfg.Carry.SyntheticTick != 0.01 || cfg.Carry.SyntheticMaxAsk != 0.995 {
		t.Errorf("carry synthetic defaults = %v / %v", cfg.Carry.SyntheticTick, cfg.Carry.SyntheticMaxAsk)
	}
	if cfg.Risk.MaxPositionsOpen != 25 {
		t.Errorf("max_positions_open default = %d, want 25", cfg.Risk.MaxPositionsOpen)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("minimal config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing config file should error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NOCARRY_SCANNER_POLLINTERVALMS", "5000")
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.PollIntervalMs != 5000 {
		t.Errorf("pollIntervalMs = %d, want env override 5000", cfg.Scanner.PollIntervalMs)
	}
}

func TestDiagnosticLooseFilterPreset(t *testing.T) {
	path := writeConfig(t, minimalYAML+"\ndiagnostic_loose_filters: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.DiagnosticLooseFilter {
		t.Fatal("flag not read")
	}
	if cfg.Selection.MinNoPrice != 0.80 {
		t.Errorf("loose min_no_price = %v, want 0.80", cfg.Selection.MinNoPrice)
	}
	if cfg.Selection.MaxSpread != 0.10 {
		t.Errorf("loose max_spread = %v, want 0.10", cfg.Selection.MaxSpread)
	}
	if cfg.Selection.MaxTimeToResolutionHours < 24*90 {
		t.Errorf("loose horizon = %v, want at least 90 days", cfg.Selection.MaxTimeToResolutionHours)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) *Config {
		path := writeConfig(t, minimalYAML)
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing gamma url", func(c *Config) { c.API.GammaBaseURL = "" }},
		{"missing clob url", func(c *Config) { c.API.ClobRestBaseURL = "" }},
		{"missing ws url", func(c *Config) { c.WS.MarketURL = "" }},
		{"zero poll interval", func(c *Config) { c.Scanner.PollIntervalMs = 0 }},
		{"bad ev mode", func(c *Config) { c.Fees.EVMode = "yolo" }},
		{"inverted capture band", func(c *Config) {
			c.Fees.EVMode = "capture"
			c.Selection.CaptureMinNoAsk = 0.9
			c.Selection.CaptureMaxNoAsk = 0.8
		}},
		{"zero order size", func(c *Config) { c.Simulation.DefaultOrderSizeUSD = 0 }},
		{"zero fill depth", func(c *Config) { c.Simulation.MaxFillDepthLevels = 0 }},
		{"zero global cap", func(c *Config) { c.Risk.MaxTotalExposureUSD = 0 }},
		{"zero market cap", func(c *Config) { c.Risk.MaxExposurePerMarketUSD = 0 }},
		{"zero max positions", func(c *Config) { c.Risk.MaxPositionsOpen = 0 }},
		{"inverted carry roi band", func(c *Config) {
			c.Carry.Enabled = true
			c.Carry.ROIMinPct = 10
			c.Carry.ROIMaxPct = 5
		}},
		{"zero api port", func(c *Config) { c.ControlAPI.Port = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
