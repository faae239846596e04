// Package risk enforces correlated-exposure admission across five cap
// dimensions: global, per-market, per-category, per-assumption-key, and
// per-resolution-window. All caps are USD notional; open positions count
// their full size_usd until closed.
//
// The engine never raises errors for trading decisions: admission is a
// value (ALLOW / ALLOW_REDUCED_SIZE / BLOCK) plus a headroom snapshot, and
// scaling a proposal down to suggested_size can never violate a cap at the
// state the decision was made against.
package risk

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// State is the folded view of all open positions, grouped per dimension.
type State struct {
	TotalExposureUSD float64
	OpenPositions    int
	ByMarket         map[string]float64
	ByCategory       map[string]float64
	ByAssumption     map[string]float64
	ByWindow         map[string]float64
}

// Engine evaluates proposals against the configured caps over the current
// folded state. Rebuild replaces the state wholesale after positions change.
type Engine struct {
	cfg config.RiskConfig

	mu    sync.RWMutex
	state State
}

// NewEngine creates a risk engine with empty state.
func NewEngine(cfg config.RiskConfig) *Engine {
	return &Engine{cfg: cfg, state: emptyState()}
}

func emptyState() State {
	return State{
		ByMarket:     make(map[string]float64),
		ByCategory:   make(map[string]float64),
		ByAssumption: make(map[string]float64),
		ByWindow:     make(map[string]float64),
	}
}

// Rebuild folds the open positions into a fresh state. Positions predating
// deterministic keys fall back to the heuristic groupers.
func (e *Engine) Rebuild(positions []types.PaperPosition) {
	state := emptyState()
	for _, p := range positions {
		if !p.Open() {
			continue
		}
		state.OpenPositions++
		state.TotalExposureUSD += p.SizeUSD
		state.ByMarket[p.MarketID] += p.SizeUSD
		state.ByCategory[Category(p.Category)] += p.SizeUSD

		assumption := p.AssumptionKey
		if assumption == "" {
			assumption = AssumptionGroup(p.Question + " " + p.Rules)
		}
		state.ByAssumption[assumption] += p.SizeUSD

		window := p.WindowKey
		if window == "" {
			window = "unknown"
		}
		state.ByWindow[window] += p.SizeUSD
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// Snapshot returns a copy of the folded state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := emptyState()
	out.TotalExposureUSD = e.state.TotalExposureUSD
	out.OpenPositions = e.state.OpenPositions
	for k, v := range e.state.ByMarket {
		out.ByMarket[k] = v
	}
	for k, v := range e.state.ByCategory {
		out.ByCategory[k] = v
	}
	for k, v := range e.state.ByAssumption {
		out.ByAssumption[k] = v
	}
	for k, v := range e.state.ByWindow {
		out.ByWindow[k] = v
	}
	return out
}

// AllowTrade decides whether a proposal may open at its requested size.
func (e *Engine) AllowTrade(p types.TradeProposal) types.AllowTradeResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.cfg.KillSwitchEnabled {
		return types.AllowTradeResult{
			Decision: types.DecisionBlock,
			Reasons:  []string{"kill_switch_enabled"},
			Headroom: e.headroomLocked(p),
		}
	}

	if e.state.OpenPositions >= e.cfg.MaxPositionsOpen {
		return types.AllowTradeResult{
			Decision: types.DecisionBlock,
			Reasons: []string{fmt.Sprintf("max_positions_open: %d >= %d",
				e.state.OpenPositions, e.cfg.MaxPositionsOpen)},
			Headroom: e.headroomLocked(p),
		}
	}

	headroom := e.headroomLocked(p)
	requested := p.SizeUSD

	suggested := requested
	for _, h := range []float64{headroom.Global, headroom.Category, headroom.Assumption, headroom.Window, headroom.PerMarket} {
		if h < suggested {
			suggested = h
		}
	}

	var reasons []string
	category := Category(p.Category)
	if requested > headroom.Global {
		reasons = append(reasons, fmt.Sprintf(
			"global exposure %.2f + %.2f exceeds cap %.2f",
			e.state.TotalExposureUSD, requested, e.cfg.MaxTotalExposureUSD))
	}
	if requested > headroom.PerMarket {
		reasons = append(reasons, fmt.Sprintf(
			"market %s exposure %.2f + %.2f exceeds cap %.2f",
			p.MarketID, e.state.ByMarket[p.MarketID], requested, e.cfg.MaxExposurePerMarketUSD))
	}
	if requested > headroom.Category {
		reasons = append(reasons, fmt.Sprintf(
			"category %s exposure %.2f + %.2f exceeds cap %.2f",
			category, e.state.ByCategory[category], requested, e.cfg.MaxExposurePerCategoryUSD))
	}
	if requested > headroom.Assumption {
		reasons = append(reasons, fmt.Sprintf(
			"assumption %s exposure %.2f + %.2f exceeds cap %.2f",
			p.AssumptionKey, e.state.ByAssumption[p.AssumptionKey], requested, e.cfg.MaxExposurePerAssumptionUSD))
	}
	if requested > headroom.Window {
		reasons = append(reasons, fmt.Sprintf(
			"window %s exposure %.2f + %.2f exceeds cap %.2f",
			p.WindowKey, e.state.ByWindow[p.WindowKey], requested, e.cfg.MaxExposurePerResolutionWindow))
	}

	res := types.AllowTradeResult{Headroom: headroom}
	switch {
	case len(reasons) == 0:
		res.Decision = types.DecisionAllow
	case suggested > 0:
		res.Decision = types.DecisionAllowReduced
		res.Reasons = reasons
		res.SuggestedSize = &suggested
	default:
		res.Decision = types.DecisionBlock
		res.Reasons = reasons
	}
	return res
}

// Headroom returns the remaining USD per dimension for a proposal's groups.
func (e *Engine) Headroom(p types.TradeProposal) types.HeadroomSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.headroomLocked(p)
}

func (e *Engine) headroomLocked(p types.TradeProposal) types.HeadroomSnapshot {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return types.HeadroomSnapshot{
		Global:     clamp(e.cfg.MaxTotalExposureUSD - e.state.TotalExposureUSD),
		PerMarket:  clamp(e.cfg.MaxExposurePerMarketUSD - e.state.ByMarket[p.MarketID]),
		Category:   clamp(e.cfg.MaxExposurePerCategoryUSD - e.state.ByCategory[Category(p.Category)]),
		Assumption: clamp(e.cfg.MaxExposurePerAssumptionUSD - e.state.ByAssumption[p.AssumptionKey]),
		Window:     clamp(e.cfg.MaxExposurePerResolutionWindow - e.state.ByWindow[p.WindowKey]),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Heuristic groupers (legacy positions without deterministic keys)
// ————————————————————————————————————————————————————————————————————————

// Category normalizes a market category, defaulting to "uncategorized".
func Category(raw string) string {
	c := strings.TrimSpace(raw)
	if c == "" {
		return "uncategorized"
	}
	return c
}

var assumptionPatterns = []struct {
	group string
	re    *regexp.Regexp
}{
	{"no_death", regexp.MustCompile(`(?i)\b(die|dies|death|pass away|assassinat)`)},
	{"no_conflict", regexp.MustCompile(`(?i)\b(war|invade|invasion|strike[s]? on|attack[s]? on|conflict)`)},
	{"no_recession", regexp.MustCompile(`(?i)\b(recession|gdp contract)`)},
	{"no_fed_cut", regexp.MustCompile(`(?i)\b(fed|fomc).*(cut|lower)`)},
	{"no_default", regexp.MustCompile(`(?i)\b(default[s]? on|debt ceiling|insolven)`)},
	{"no_event", regexp.MustCompile(`(?i)\b(cancel|postpone|called off)`)},
}

// AssumptionGroup buckets free text into a coarse thesis group, "other"
// when nothing matches. Superseded by deterministic assumption keys; kept
// for positions recorded before keying existed.
func AssumptionGroup(text string) string {
	for _, p := range assumptionPatterns {
		if p.re.MatchString(text) {
			return p.group
		}
	}
	return "other"
}

// WindowBucket maps hours-to-resolution onto the configured legacy buckets:
// the first bucket whose max_hours covers it. "unknown" when hoursLeft < 0
// signals a missing resolution time; "beyond" when past every bucket.
func WindowBucket(windows []config.ResolutionWindow, hoursLeft float64) string {
	if hoursLeft < 0 {
		return "unknown"
	}
	for _, w := range windows {
		if hoursLeft <= w.MaxHours {
			return w.Name
		}
	}
	return "beyond"
}
