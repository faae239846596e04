package strategy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/book"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/keying"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// defaultCarryKeywords is the procedural-resolution allowlist used when the
// config leaves allowKeywords empty but sets allowCategories, or vice versa.
var defaultCarryKeywords = []string{
	"fed", "cpi", "temperature", "rainfall", "snow", "election",
	"court", "rate decision", "deadline", "resolution",
}

// Carry rejection reasons, also used as debug counter keys.
const (
	carryRejectNoYesToken    = "missing_yes_token"
	carryRejectNoEndDate     = "missing_end_date"
	carryRejectAlreadyEnded  = "already_ended_or_resolving"
	carryRejectTooSoon       = "too_soon_to_resolve"
	carryRejectBeyondMax     = "beyond_max_days"
	carryRejectNotProcedural = "not_procedural"
	carryRejectNoBook        = "no_book"
	carryRejectNoAsk         = "no_ask"
	carryRejectSpread        = "spread_too_wide"
	carryRejectAskLiquidity  = "insufficient_ask_liquidity"
	carryRejectEdgeTooSmall  = "edge_below_min"
	carryRejectSpreadEdge    = "spread_edge_ratio"
	carryRejectROIBand       = "roi_outside_band"
	carryPassed              = "passed"
)

// TopOfBookFetcher is the HTTP fallback the selector uses when the local
// mirror has no book for a YES token.
type TopOfBookFetcher interface {
	FetchTopOfBook(ctx context.Context, tokenID string) *types.TopOfBook
}

// CarryCandidate is one accepted YES-side resolution-carry entry.
type CarryCandidate struct {
	Market          types.NormalizedMarket
	YesTokenID      string
	YesAsk          float64
	YesBid          *float64
	Spread          *float64
	AskLiquidityUSD float64
	ROIPct          float64
	EdgeAbs         float64
	SpreadEdgeRatio *float64
	TDays           float64
	PriceSource     types.PriceSource
	Synthetic       bool
	SyntheticReason string
	AssumptionKey   string
	WindowKey       string
}

// CarrySelector screens the market universe for hold-to-resolution YES buys:
// near-certain procedural outcomes where (1-ask)/ask clears the ROI band.
type CarrySelector struct {
	cfg      config.CarryConfig
	books    *book.Store
	fallback TopOfBookFetcher

	mu       sync.Mutex
	counters map[string]int
}

// NewCarrySelector creates a carry selector reading from the book store with
// an optional HTTP fallback (nil disables it regardless of config).
func NewCarrySelector(cfg config.CarryConfig, books *book.Store, fallback TopOfBookFetcher) *CarrySelector {
	return &CarrySelector{
		cfg:      cfg,
		books:    books,
		fallback: fallback,
		counters: make(map[string]int),
	}
}

// DebugCounters returns a copy of the per-reason rejection counters plus
// "passed", accumulated since the last Reset.
func (c *CarrySelector) DebugCounters() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

// ResetCounters clears the debug counters at the start of a scan cycle.
func (c *CarrySelector) ResetCounters() {
	c.mu.Lock()
	c.counters = make(map[string]int)
	c.mu.Unlock()
}

func (c *CarrySelector) count(reason string) {
	c.mu.Lock()
	c.counters[reason]++
	c.mu.Unlock()
}

// Select runs the carry pipeline over the market set.
func (c *CarrySelector) Select(ctx context.Context, markets []types.NormalizedMarket, now time.Time) []CarryCandidate {
	if !c.cfg.Enabled {
		return nil
	}

	var out []CarryCandidate
	for _, m := range markets {
		if cand, reason := c.evaluate(ctx, m, now); cand != nil {
			c.count(carryPassed)
			out = append(out, *cand)
		} else {
			c.count(reason)
		}
	}
	return out
}

func (c *CarrySelector) evaluate(ctx context.Context, m types.NormalizedMarket, now time.Time) (*CarryCandidate, string) {
	yesToken := normalizeTokenID(m.YesTokenID)
	if yesToken == "" {
		return nil, carryRejectNoYesToken
	}

	if m.EndDate.IsZero() {
		return nil, carryRejectNoEndDate
	}
	tDays := m.EndDate.Sub(now).Hours() / 24
	switch {
	case tDays <= 0:
		return nil, carryRejectAlreadyEnded
	case tDays < c.cfg.MinDaysToRes:
		return nil, carryRejectTooSoon
	case tDays > c.cfg.MaxDays:
		return nil, carryRejectBeyondMax
	}

	if !c.isProcedural(m) {
		return nil, carryRejectNotProcedural
	}

	top := c.books.TopOfBook(yesToken, 5)
	priceSource := types.PriceSourceWS
	if (top == nil || (top.NoAsk == nil && top.NoBid == nil)) && c.cfg.AllowHTTPFallback && c.fallback != nil {
		top = c.fallback.FetchTopOfBook(ctx, yesToken)
		priceSource = types.PriceSourceHTTP
	}
	if top == nil {
		return nil, carryRejectNoBook
	}

	cand := CarryCandidate{
		Market:          m,
		YesTokenID:      yesToken,
		YesBid:          top.NoBid,
		Spread:          top.Spread,
		AskLiquidityUSD: top.Depth.AskLiquidityUSD,
		TDays:           tDays,
		PriceSource:     priceSource,
	}

	switch {
	case top.NoAsk != nil:
		cand.YesAsk = *top.NoAsk
	case c.cfg.AllowSyntheticAsk && top.NoBid != nil:
		// Paper-only: fabricate an ask one tick above the bid, capped.
		ask := *top.NoBid + c.cfg.SyntheticTick
		if ask > c.cfg.SyntheticMaxAsk {
			ask = c.cfg.SyntheticMaxAsk
		}
		cand.YesAsk = ask
		cand.PriceSource = types.PriceSourceSynthetic
		cand.Synthetic = true
		cand.SyntheticReason = "no_ask_using_noBid_plus_tick"
	default:
		return nil, carryRejectNoAsk
	}

	if cand.Spread != nil && *cand.Spread > c.cfg.MaxSpread {
		return nil, carryRejectSpread
	}
	if !cand.Synthetic && cand.AskLiquidityUSD < c.cfg.MinAskLiqUSD {
		return nil, carryRejectAskLiquidity
	}

	cand.EdgeAbs = 1 - cand.YesAsk
	if cand.EdgeAbs <= c.cfg.SpreadEdgeMinAbs {
		return nil, carryRejectEdgeTooSmall
	}
	if cand.YesBid != nil && cand.Spread != nil {
		ratio := *cand.Spread / cand.EdgeAbs
		cand.SpreadEdgeRatio = &ratio
		if *cand.Spread > cand.EdgeAbs*c.cfg.SpreadEdgeMaxRatio {
			return nil, carryRejectSpreadEdge
		}
	}

	if cand.YesAsk <= 0 {
		return nil, carryRejectNoAsk
	}
	cand.ROIPct = (1 - cand.YesAsk) / cand.YesAsk * 100
	if cand.ROIPct < c.cfg.ROIMinPct || cand.ROIPct > c.cfg.ROIMaxPct {
		return nil, carryRejectROIBand
	}

	cand.WindowKey = keying.CarryWindowKey(tDays)
	cand.AssumptionKey = keying.CarryAssumptionKey(m.Category, m.EndDate.UTC().Format(time.RFC3339))

	return &cand, ""
}

// isProcedural accepts markets whose text matches an allow keyword or whose
// category exactly matches an allow category. Both lists empty accepts all.
func (c *CarrySelector) isProcedural(m types.NormalizedMarket) bool {
	keywords := c.cfg.AllowKeywords
	if len(keywords) == 0 {
		keywords = defaultCarryKeywords
	}

	if len(c.cfg.AllowKeywords) == 0 && len(c.cfg.AllowCategories) == 0 {
		return true
	}

	text := strings.ToLower(m.Question + " " + m.Rules)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	for _, cat := range c.cfg.AllowCategories {
		if strings.EqualFold(strings.TrimSpace(cat), m.Category) {
			return true
		}
	}
	return false
}

// normalizeTokenID unwraps JSON array-string forms like ["123"] before the
// digits-only projection.
func normalizeTokenID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(id), &arr); err == nil && len(arr) > 0 {
			id = arr[0]
		}
	}
	return book.NormalizeKey(id)
}
