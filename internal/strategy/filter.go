// Package strategy holds the per-market evaluation stages of the scan
// pipeline: the selection filter, the expected-value model, the fill
// simulator, and the YES-side carry selector.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// ambiguousPhrases flags markets whose rules leave resolution to someone's
// judgment. Flagged, not rejected: ambiguity is priced into the tail term.
var ambiguousPhrases = []string{
	"at discretion",
	"tbd",
	"subject to",
	"final determination",
	"as determined by",
	"may be resolved",
}

// NearMiss records one failed check from the diagnostic filter run.
type NearMiss struct {
	Check     string  `json:"check"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Filter evaluates markets against the NO-side selection thresholds.
type Filter struct {
	cfg    config.SelectionConfig
	evMode types.StrategyMode
}

// NewFilter creates a filter for the configured EV mode.
func NewFilter(sel config.SelectionConfig, evMode string) *Filter {
	mode := types.ModeBaseline
	if evMode == "capture" {
		mode = types.ModeCapture
	}
	return &Filter{cfg: sel, evMode: mode}
}

// Mode returns the EV mode the filter gates for.
func (f *Filter) Mode() types.StrategyMode { return f.evMode }

// Evaluate runs the checks in order, short-circuiting on the first failure.
// Ambiguity is check 8 and only raises a flag, so it also runs on passes.
func (f *Filter) Evaluate(m types.NormalizedMarket, top *types.TopOfBook, now time.Time) types.FilterResult {
	res := types.FilterResult{Pass: true}

	fail := func(reason string) types.FilterResult {
		res.Pass = false
		res.Reasons = append(res.Reasons, reason)
		return res
	}

	if m.Closed {
		return fail("market_closed")
	}
	if m.NoTokenID == "" {
		return fail("missing_no_token")
	}
	if top == nil || top.NoAsk == nil {
		return fail("missing_ask")
	}

	ask := *top.NoAsk
	if f.evMode == types.ModeCapture {
		if ask < f.cfg.CaptureMinNoAsk || ask > f.cfg.CaptureMaxNoAsk {
			return fail(fmt.Sprintf("ask_outside_capture_band: %.4f not in [%.2f, %.2f]",
				ask, f.cfg.CaptureMinNoAsk, f.cfg.CaptureMaxNoAsk))
		}
	} else if ask < f.cfg.MinNoPrice {
		return fail(fmt.Sprintf("ask_below_min_no_price: %.4f < %.2f", ask, f.cfg.MinNoPrice))
	}

	if top.Spread != nil && *top.Spread > f.cfg.MaxSpread {
		return fail(fmt.Sprintf("spread_too_wide: %.4f > %.2f", *top.Spread, f.cfg.MaxSpread))
	}

	minLiq := top.Depth.BidLiquidityUSD
	if top.Depth.AskLiquidityUSD < minLiq {
		minLiq = top.Depth.AskLiquidityUSD
	}
	if minLiq < f.cfg.MinLiquidityUSD {
		return fail(fmt.Sprintf("insufficient_liquidity: %.2f < %.2f", minLiq, f.cfg.MinLiquidityUSD))
	}

	if !m.EndDate.IsZero() {
		hoursLeft := m.EndDate.Sub(now).Hours()
		if hoursLeft < 0 || hoursLeft > f.cfg.MaxTimeToResolutionHours {
			return fail(fmt.Sprintf("time_to_resolution_out_of_range: %.1fh", hoursLeft))
		}
	}

	if hasAmbiguousRules(m.Rules) {
		res.Flags = append(res.Flags, types.FlagResolutionAmbiguous)
	}

	return res
}

// Diagnose runs every check regardless of earlier failures and records each
// miss with its numeric value and threshold. Used with
// diagnostic_loose_filters to explain empty scan cycles.
func (f *Filter) Diagnose(m types.NormalizedMarket, top *types.TopOfBook, now time.Time) []NearMiss {
	var misses []NearMiss

	if m.Closed {
		misses = append(misses, NearMiss{Check: "market_closed", Value: 1, Threshold: 0})
	}
	if m.NoTokenID == "" {
		misses = append(misses, NearMiss{Check: "missing_no_token", Value: 0, Threshold: 1})
	}
	if top == nil || top.NoAsk == nil {
		misses = append(misses, NearMiss{Check: "missing_ask", Value: 0, Threshold: 1})
		return misses
	}

	ask := *top.NoAsk
	if f.evMode == types.ModeCapture {
		if ask < f.cfg.CaptureMinNoAsk {
			misses = append(misses, NearMiss{Check: "capture_min_no_ask", Value: ask, Threshold: f.cfg.CaptureMinNoAsk})
		}
		if ask > f.cfg.CaptureMaxNoAsk {
			misses = append(misses, NearMiss{Check: "capture_max_no_ask", Value: ask, Threshold: f.cfg.CaptureMaxNoAsk})
		}
	} else if ask < f.cfg.MinNoPrice {
		misses = append(misses, NearMiss{Check: "min_no_price", Value: ask, Threshold: f.cfg.MinNoPrice})
	}

	if top.Spread != nil && *top.Spread > f.cfg.MaxSpread {
		misses = append(misses, NearMiss{Check: "max_spread", Value: *top.Spread, Threshold: f.cfg.MaxSpread})
	}

	minLiq := top.Depth.BidLiquidityUSD
	if top.Depth.AskLiquidityUSD < minLiq {
		minLiq = top.Depth.AskLiquidityUSD
	}
	if minLiq < f.cfg.MinLiquidityUSD {
		misses = append(misses, NearMiss{Check: "min_liquidity_usd", Value: minLiq, Threshold: f.cfg.MinLiquidityUSD})
	}

	if !m.EndDate.IsZero() {
		hoursLeft := m.EndDate.Sub(now).Hours()
		if hoursLeft < 0 || hoursLeft > f.cfg.MaxTimeToResolutionHours {
			misses = append(misses, NearMiss{Check: "max_time_to_resolution_hours", Value: hoursLeft, Threshold: f.cfg.MaxTimeToResolutionHours})
		}
	}

	return misses
}

func hasAmbiguousRules(rules string) bool {
	lower := strings.ToLower(rules)
	for _, phrase := range ambiguousPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
