// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the scanner — market metadata,
// order book levels, filter/EV/fill results, trade plans, paper positions,
// and ledger records. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order book walk: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome is the side of a binary market a plan targets.
type Outcome string

const (
	OutcomeNo  Outcome = "NO"
	OutcomeYes Outcome = "YES"
)

// StrategyMode names the evaluation strategy that produced a plan.
type StrategyMode string

const (
	ModeBaseline     StrategyMode = "baseline"
	ModeCapture      StrategyMode = "capture"
	ModeCarry        StrategyMode = "carry"
	ModeMicroCapture StrategyMode = "micro_capture_v1"
)

// PlanStatus is the lifecycle state of a trade plan.
type PlanStatus string

const (
	PlanProposed PlanStatus = "proposed"
	PlanQueued   PlanStatus = "queued"
	PlanExecuted PlanStatus = "executed"
)

// Decision is the risk engine's admission verdict for a proposal.
type Decision string

const (
	DecisionAllow        Decision = "ALLOW"
	DecisionAllowReduced Decision = "ALLOW_REDUCED_SIZE"
	DecisionBlock        Decision = "BLOCK"
)

// ExecMode is the operator-controlled execution mode.
type ExecMode string

const (
	ModeDisarmed     ExecMode = "DISARMED"
	ModeArmedConfirm ExecMode = "ARMED_CONFIRM"
	ModeArmedAuto    ExecMode = "ARMED_AUTO"
)

// PriceSource records where a quote came from: the local book mirror,
// an HTTP fallback fetch, or a synthesized paper-only ask.
type PriceSource string

const (
	PriceSourceWS        PriceSource = "ws"
	PriceSourceHTTP      PriceSource = "http"
	PriceSourceSynthetic PriceSource = "synthetic_ask"
)

// LedgerAction enumerates the append-only audit record kinds.
type LedgerAction string

const (
	ActionScanPass     LedgerAction = "scan_pass"
	ActionScanFail     LedgerAction = "scan_fail"
	ActionTradeBlocked LedgerAction = "trade_blocked"
	ActionTradeOpened  LedgerAction = "trade_opened"
	ActionTradeClosed  LedgerAction = "trade_closed"
	ActionPlanCreated  LedgerAction = "plan_created"
	ActionPlanExecuted LedgerAction = "plan_executed"
	ActionModeChange   LedgerAction = "mode_change"
)

// FlagResolutionAmbiguous marks markets whose rules text contains
// discretionary resolution language. Surfaced, never a hard reject.
const FlagResolutionAmbiguous = "RESOLUTION_AMBIGUOUS"

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// NormalizedMarket is the internal representation of a binary market,
// populated from the Gamma API each scan cycle. Read-only downstream and
// never persisted.
type NormalizedMarket struct {
	ID            string    // Gamma market ID
	ConditionID   string    // CTF condition ID
	Question      string    // the prediction question
	Outcomes      []string  // outcome names, usually ["Yes","No"]
	EndDate       time.Time // zero when the resolution time is unknown
	Category      string    // Gamma category, may be empty
	Rules         string    // free-text resolution rules
	YesTokenID    string    // CLOB token ID for the YES outcome
	NoTokenID     string    // CLOB token ID for the NO outcome
	LiquidityHint float64   // Gamma-reported liquidity in USD
	Closed        bool      // market has been resolved or halted
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// OrderLevel is a single bid or ask level. Price and Size are non-negative.
type OrderLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// DepthSummary aggregates the top of a book over a requested level prefix.
type DepthSummary struct {
	BidLiquidityUSD float64 `json:"bidLiquidityUsd"`
	AskLiquidityUSD float64 `json:"askLiquidityUsd"`
	LevelsCount     int     `json:"levelsCount"`
}

// TopOfBook is the best-quote view the evaluators consume. The field names
// keep the project's historical "no" prefix but hold quotes for whichever
// outcome token was looked up. Spread is nil unless both sides are present.
type TopOfBook struct {
	NoBid  *float64     `json:"noBid"`
	NoAsk  *float64     `json:"noAsk"`
	Spread *float64     `json:"spread"`
	Depth  DepthSummary `json:"depthSummary"`
}

// ————————————————————————————————————————————————————————————————————————
// Evaluation results
// ————————————————————————————————————————————————————————————————————————

// FilterResult is the outcome of running a market through the selection
// filters. Reasons are ordered by the check that produced them.
type FilterResult struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons,omitempty"`
	Flags   []string `json:"flags,omitempty"`
}

// HasFlag reports whether the filter raised the given flag.
func (f FilterResult) HasFlag(flag string) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// EVResult is the expected-value breakdown for a candidate entry.
type EVResult struct {
	GrossEV          float64        `json:"gross_ev"`
	FeesEstimate     float64        `json:"fees_estimate"`
	TailRiskCost     float64        `json:"tail_risk_cost"`
	NetEV            float64        `json:"net_ev"`
	Mode             StrategyMode   `json:"mode"`
	TailBypass       string         `json:"tailByp,omitempty"`            // "Y" when the tail term was skipped
	TailBypassReason string         `json:"tail_bypass_reason,omitempty"` // e.g. "capture_mode"
	Assumptions      map[string]any `json:"assumptions,omitempty"`
	Explanation      []string       `json:"explanation,omitempty"`
}

// TradeProposal is the sized candidate handed to the risk engine.
type TradeProposal struct {
	MarketID      string
	ConditionID   string
	TokenID       string // outcome token being bought
	Outcome       Outcome
	Side          Side
	SizeUSD       float64
	BestAsk       float64
	Category      string
	AssumptionKey string
	WindowKey     string
}

// FillResult is the outcome of walking the book for a proposal.
type FillResult struct {
	Filled         bool    `json:"filled"`
	FillSizeUSD    float64 `json:"fillSizeUsd"`
	FillSizeShares float64 `json:"fillSizeShares"`
	VWAP           float64 `json:"vwap"`
	LevelsUsed     int     `json:"levelsUsed"`
	Reason         string  `json:"reason"`
}

// ————————————————————————————————————————————————————————————————————————
// Risk
// ————————————————————————————————————————————————————————————————————————

// HeadroomSnapshot is the remaining USD admissible under each cap dimension
// at the moment a decision was made.
type HeadroomSnapshot struct {
	Global     float64 `json:"global"`
	PerMarket  float64 `json:"per_market"`
	Category   float64 `json:"category"`
	Assumption float64 `json:"assumption"`
	Window     float64 `json:"window"`
}

// AllowTradeResult is the risk engine's admission decision plus the full
// headroom snapshot for reporting.
type AllowTradeResult struct {
	Decision      Decision         `json:"decision"`
	Reasons       []string         `json:"reasons,omitempty"`
	SuggestedSize *float64         `json:"suggested_size,omitempty"`
	Headroom      HeadroomSnapshot `json:"headroom"`
}

// ————————————————————————————————————————————————————————————————————————
// Plans and positions
// ————————————————————————————————————————————————————————————————————————

// TradePlan is one proposed entry surfaced over the control API. PlanID is a
// stable hash of market_id|outcome|mode, so the same intent upserts across
// scans while capture and carry plans for one market coexist.
type TradePlan struct {
	PlanID        string           `json:"plan_id"`
	MarketID      string           `json:"market_id"`
	ConditionID   string           `json:"condition_id"`
	TokenID       string           `json:"token_id"`
	Outcome       Outcome          `json:"outcome"`
	SizeUSD       float64          `json:"size_usd"`
	LimitPrice    float64          `json:"limit_price"`
	Category      string           `json:"category"`
	AssumptionKey string           `json:"assumption_key"`
	WindowKey     string           `json:"window_key"`
	EVBreakdown   EVResult         `json:"ev_breakdown"`
	Headroom      HeadroomSnapshot `json:"headroom"`
	Status        PlanStatus       `json:"status"`
	PriceSource   PriceSource      `json:"price_source,omitempty"`
	Synthetic     bool             `json:"synthetic,omitempty"` // paper-only, confirm must reject
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ExecutedAt    *time.Time       `json:"executed_at,omitempty"`
}

// PaperPosition is an internally recorded paper fill. Exposure for risk
// aggregation is SizeUSD while ClosedAt is nil.
type PaperPosition struct {
	ID            string     `json:"id"`
	MarketID      string     `json:"market_id"`
	ConditionID   string     `json:"condition_id"`
	TokenID       string     `json:"token_id"`
	Outcome       Outcome    `json:"outcome"`
	EntryPrice    float64    `json:"entry_price"` // VWAP from the simulated fill
	SizeUSD       float64    `json:"size_usd"`
	SizeShares    float64    `json:"size_shares"`
	Category      string     `json:"category"`
	AssumptionKey string     `json:"assumption_key"`
	WindowKey     string     `json:"window_key"`
	Question      string     `json:"question,omitempty"`
	Rules         string     `json:"rules,omitempty"`
	OpenedAt      time.Time  `json:"openedAt"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	ExpectedPnL   float64    `json:"expectedPnl"`
}

// Open reports whether the position still counts toward exposure.
func (p PaperPosition) Open() bool { return p.ClosedAt == nil }

// LedgerEntry is one append-only audit record, serialized as a single JSON
// line in the ledger file.
type LedgerEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    LedgerAction   `json:"action"`
	MarketID  string         `json:"marketId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
