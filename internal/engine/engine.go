// Package engine wires every component into the scan loop: fetch markets,
// mirror books, filter, price, simulate, admit, publish plans, and execute
// paper positions according to the armed mode.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/book"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/keying"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/ledger"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/mode"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/plan"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/provider"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/risk"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/strategy"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// warmupMinBooks is the bootstrap threshold: with fewer mirrored books than
// this, the cycle skips evaluation instead of failing every market on
// missing asks while the WebSocket catches up.
const warmupMinBooks = 5

// WorstCandidate is a near-miss record surfaced in the scan metadata: a
// market that passed the filter but produced no plan.
type WorstCandidate struct {
	MarketID string  `json:"market_id"`
	Question string  `json:"question"`
	NetEV    float64 `json:"net_ev"`
	Reason   string  `json:"reason"`
}

// ConfirmResult is the outcome of a confirm-mode execution attempt.
type ConfirmResult struct {
	PlanID     string `json:"plan_id"`
	Executed   bool   `json:"executed"`
	Reason     string `json:"reason,omitempty"`
	PositionID string `json:"positionId,omitempty"`
}

// Status is the /status snapshot.
type Status struct {
	Mode          types.ExecMode `json:"mode"`
	Panic         bool           `json:"panic"`
	QueueLength   int            `json:"queue_length"`
	LastScanAt    *time.Time     `json:"last_scan_at,omitempty"`
	ProposedCount int            `json:"proposed_count"`
	BooksTracked  int            `json:"books_tracked"`
	OpenPositions int            `json:"open_positions"`
	Meta          map[string]any `json:"meta"`
	MetaFull      map[string]any `json:"meta_full,omitempty"`
}

// Engine is the explicitly constructed core shared by the scan loop and the
// control API. All cross-component state lives behind its fields; nothing is
// a package-level singleton.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	books  *book.Store
	gamma  *provider.Gamma
	clob   *provider.Clob
	feed   *provider.MarketFeed
	filter *strategy.Filter
	ev     *strategy.EVModel
	sim    *strategy.Simulator
	carry  *strategy.CarrySelector
	risk   *risk.Engine
	plans  *plan.Store
	modes  *mode.Manager

	audit     *ledger.Ledger
	positions *ledger.Positions

	scanMu sync.Mutex // one scan cycle at a time
	execMu sync.Mutex // serializes confirm + auto-exec for idempotence

	statusMu       sync.RWMutex
	lastScanAt     time.Time
	tradesProposed int
	meta           map[string]any
	metaFull       map[string]any
}

// New constructs the core and rebuilds risk state from persisted positions.
func New(cfg *config.Config, logger *slog.Logger, audit *ledger.Ledger, positions *ledger.Positions) *Engine {
	books := book.NewStore()
	clob := provider.NewClob(*cfg, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		books:     books,
		gamma:     provider.NewGamma(*cfg, logger),
		clob:      clob,
		feed:      provider.NewMarketFeed(cfg.WS.MarketURL, cfg.WS.MaxAssetsSubscribe, books, logger),
		filter:    strategy.NewFilter(cfg.Selection, cfg.Fees.EVMode),
		ev:        strategy.NewEVModel(cfg.Fees),
		sim:       strategy.NewSimulator(cfg.Simulation),
		carry:     strategy.NewCarrySelector(cfg.Carry, books, clob),
		risk:      risk.NewEngine(cfg.Risk),
		plans:     plan.NewStore(),
		audit:     audit,
		positions: positions,
		meta:      map[string]any{},
		metaFull:  map[string]any{},
	}
	e.modes = mode.NewManager(func(m types.ExecMode, panicStop bool, at time.Time) {
		audit.Append(types.ActionModeChange, "", map[string]any{
			"mode":  string(m),
			"panic": panicStop,
			"at":    at.UTC().Format(time.RFC3339),
		})
	})
	e.risk.Rebuild(positions.All())
	return e
}

// Accessors for the control API.

func (e *Engine) Books() *book.Store          { return e.books }
func (e *Engine) Risk() *risk.Engine          { return e.risk }
func (e *Engine) Plans() *plan.Store          { return e.plans }
func (e *Engine) Modes() *mode.Manager        { return e.modes }
func (e *Engine) Clob() *provider.Clob        { return e.clob }
func (e *Engine) Sim() *strategy.Simulator    { return e.sim }
func (e *Engine) Positions() *ledger.Positions { return e.positions }

// Run performs an initial scan, then rescans on the poll interval until the
// context is cancelled. The WebSocket feed runs for the same lifetime.
func (e *Engine) Run(ctx context.Context) {
	go func() {
		if err := e.feed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()

	e.ScanOnce(ctx)

	ticker := time.NewTicker(e.cfg.Scanner.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one full scan cycle. Cycles never overlap: a tick arriving
// while the previous cycle is still running waits behind scanMu.
func (e *Engine) ScanOnce(ctx context.Context) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	started := time.Now()
	now := started.UTC()

	markets := e.gamma.ActiveMarkets(ctx)
	if len(markets) == 0 {
		e.logger.Warn("scan cycle: no active markets")
		return
	}

	tokens := collectTokens(markets)
	e.feed.Subscribe(tokens)
	primed := e.clob.PrimeBooks(ctx, e.books, tokens)

	if e.books.Size() < warmupMinBooks {
		e.logger.Info("scan cycle: warmup skip", "books", e.books.Size(), "primed", primed)
		return
	}

	e.carry.ResetCounters()

	var (
		proposed  []types.TradePlan
		worst     []WorstCandidate
		nearMiss  []map[string]any
		passed    int
		blocked   int
	)

	for _, m := range markets {
		if m.NoTokenID == "" {
			continue
		}
		top := e.books.TopOfBook(m.NoTokenID, 5)
		fr := e.filter.Evaluate(m, top, now)
		if !fr.Pass {
			e.audit.Append(types.ActionScanFail, m.ID, map[string]any{"reasons": fr.Reasons})
			if e.cfg.DiagnosticLooseFilter && len(nearMiss) < 25 {
				nearMiss = append(nearMiss, map[string]any{
					"market_id": m.ID,
					"misses":    e.filter.Diagnose(m, top, now),
				})
			}
			continue
		}
		passed++

		entry := *top.NoAsk
		sizeUSD := e.cfg.Simulation.DefaultOrderSizeUSD
		ev := e.ev.Evaluate(m, entry, sizeUSD, fr.Flags)
		if ev.NetEV <= 0 {
			worst = appendWorst(worst, WorstCandidate{
				MarketID: m.ID, Question: m.Question, NetEV: ev.NetEV, Reason: "ev_negative",
			})
			e.audit.Append(types.ActionScanPass, m.ID, map[string]any{
				"ev_negative": true, "net_ev": ev.NetEV, "mode": string(ev.Mode),
			})
			continue
		}

		assumptionKey, windowKey := keying.ForMarket(m, ev.Mode, now)

		fill := e.sim.SimulateBuy(e.books.Depth(m.NoTokenID, types.BUY), sizeUSD)
		if !fill.Filled {
			worst = appendWorst(worst, WorstCandidate{
				MarketID: m.ID, Question: m.Question, NetEV: ev.NetEV,
				Reason: "no_fill: " + fill.Reason,
			})
			continue
		}

		proposal := types.TradeProposal{
			MarketID:      m.ID,
			ConditionID:   m.ConditionID,
			TokenID:       m.NoTokenID,
			Outcome:       types.OutcomeNo,
			Side:          types.BUY,
			SizeUSD:       fill.FillSizeUSD,
			BestAsk:       entry,
			Category:      risk.Category(m.Category),
			AssumptionKey: assumptionKey,
			WindowKey:     windowKey,
		}
		verdict := e.risk.AllowTrade(proposal)
		if verdict.Decision == types.DecisionBlock {
			blocked++
			e.audit.Append(types.ActionTradeBlocked, m.ID, map[string]any{
				"reasons": verdict.Reasons, "headroom": verdict.Headroom,
			})
			continue
		}

		effectiveFill := fill
		if verdict.Decision == types.DecisionAllowReduced && verdict.SuggestedSize != nil {
			effectiveFill = strategy.Rescale(fill, *verdict.SuggestedSize)
		}

		proposed = append(proposed, types.TradePlan{
			PlanID:        plan.ID(m.ID, types.OutcomeNo, ev.Mode),
			MarketID:      m.ID,
			ConditionID:   m.ConditionID,
			TokenID:       m.NoTokenID,
			Outcome:       types.OutcomeNo,
			SizeUSD:       effectiveFill.FillSizeUSD,
			LimitPrice:    effectiveFill.VWAP,
			Category:      proposal.Category,
			AssumptionKey: assumptionKey,
			WindowKey:     windowKey,
			EVBreakdown:   ev,
			Headroom:      verdict.Headroom,
			Status:        types.PlanProposed,
			PriceSource:   types.PriceSourceWS,
			CreatedAt:     now,
		})
	}

	for _, c := range e.carry.Select(ctx, markets, now) {
		proposed = append(proposed, e.carryPlan(c, now))
	}

	e.plans.SetPlans(proposed, now)

	e.statusMu.Lock()
	e.lastScanAt = now
	e.tradesProposed = len(proposed)
	e.meta = map[string]any{
		"ev_mode":     e.cfg.Fees.EVMode,
		"carry":       e.cfg.Carry,
		"carry_debug": e.carry.DebugCounters(),
	}
	e.metaFull = map[string]any{
		"markets_scanned":  len(markets),
		"filter_passed":    passed,
		"risk_blocked":     blocked,
		"books_primed":     primed,
		"worst_candidates": worst,
		"near_misses":      nearMiss,
		"scan_duration_ms": time.Since(started).Milliseconds(),
	}
	e.statusMu.Unlock()

	e.executeProposed(proposed, now)

	e.logger.Info("scan cycle complete",
		"markets", len(markets),
		"passed", passed,
		"proposed", len(proposed),
		"blocked", blocked,
		"duration", time.Since(started).Round(time.Millisecond))
}

// carryPlan converts an accepted carry candidate into a plan row.
func (e *Engine) carryPlan(c strategy.CarryCandidate, now time.Time) types.TradePlan {
	sizeUSD := e.cfg.Simulation.DefaultOrderSizeUSD
	ev := types.EVResult{
		GrossEV: c.EdgeAbs / c.YesAsk * sizeUSD,
		NetEV:   c.EdgeAbs / c.YesAsk * sizeUSD,
		Mode:    types.ModeCarry,
		Assumptions: map[string]any{
			"roi_pct":      c.ROIPct,
			"t_days":       c.TDays,
			"yes_ask":      c.YesAsk,
			"price_source": string(c.PriceSource),
		},
		Explanation: []string{
			fmt.Sprintf("carry: buy YES at %.4f, hold %.1f days, roi %.3f%%", c.YesAsk, c.TDays, c.ROIPct),
		},
	}
	if c.Synthetic {
		ev.Assumptions["synthetic_reason"] = c.SyntheticReason
	}
	return types.TradePlan{
		PlanID:        plan.ID(c.Market.ID, types.OutcomeYes, types.ModeCarry),
		MarketID:      c.Market.ID,
		ConditionID:   c.Market.ConditionID,
		TokenID:       c.YesTokenID,
		Outcome:       types.OutcomeYes,
		SizeUSD:       sizeUSD,
		LimitPrice:    c.YesAsk,
		Category:      risk.Category(c.Market.Category),
		AssumptionKey: c.AssumptionKey,
		WindowKey:     c.WindowKey,
		EVBreakdown:   ev,
		Status:        types.PlanProposed,
		PriceSource:   c.PriceSource,
		Synthetic:     c.Synthetic,
		CreatedAt:     now,
	}
}

// executeProposed is the ops loop: queue or auto-open depending on mode.
// Synthetic plans are paper-only and never executed or queued.
func (e *Engine) executeProposed(proposed []types.TradePlan, now time.Time) {
	if !e.modes.MayExecute() {
		return
	}
	auto := e.modes.IsAutoExecute()

	for _, p := range proposed {
		if p.Synthetic {
			continue
		}
		if !auto {
			if err := e.plans.Enqueue(p.PlanID); err == nil {
				e.audit.Append(types.ActionPlanCreated, p.MarketID, map[string]any{
					"plan_id": p.PlanID, "size_usd": p.SizeUSD,
				})
			}
			continue
		}
		if res := e.executePlan(p.PlanID, now); res.Executed {
			e.logger.Info("auto-executed plan", "plan_id", p.PlanID, "position_id", res.PositionID)
		}
	}
}

// ConfirmPlan executes one queued or proposed plan on operator request.
func (e *Engine) ConfirmPlan(planID string) (ConfirmResult, error) {
	p, ok := e.plans.Get(planID)
	if !ok {
		return ConfirmResult{}, plan.ErrNotFound
	}

	mod, panicStop := e.modes.Snapshot()
	if panicStop {
		return ConfirmResult{PlanID: planID, Reason: "panic"}, nil
	}
	if mod == types.ModeDisarmed {
		return ConfirmResult{PlanID: planID, Reason: "disarmed"}, nil
	}
	if p.Status == types.PlanExecuted {
		return ConfirmResult{PlanID: planID, Reason: "already executed"}, nil
	}

	return e.executePlan(planID, time.Now().UTC()), nil
}

// executePlan re-validates fill and risk at the current book, opens the
// paper position, and marks the plan executed. Serialized so the idempotence
// check and the position insert cannot interleave.
func (e *Engine) executePlan(planID string, now time.Time) ConfirmResult {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	p, ok := e.plans.Get(planID)
	if !ok {
		return ConfirmResult{PlanID: planID, Reason: "plan not found"}
	}
	if p.Status == types.PlanExecuted {
		return ConfirmResult{PlanID: planID, Reason: "already executed"}
	}
	if p.Synthetic {
		return ConfirmResult{PlanID: planID, Reason: "paper-only synthetic carry"}
	}

	fill := e.sim.SimulateBuy(e.books.Depth(p.TokenID, types.BUY), p.SizeUSD)
	if !fill.Filled {
		return ConfirmResult{PlanID: planID, Reason: "no fill: " + fill.Reason}
	}

	verdict := e.risk.AllowTrade(types.TradeProposal{
		MarketID:      p.MarketID,
		ConditionID:   p.ConditionID,
		TokenID:       p.TokenID,
		Outcome:       p.Outcome,
		Side:          types.BUY,
		SizeUSD:       fill.FillSizeUSD,
		BestAsk:       fill.VWAP,
		Category:      p.Category,
		AssumptionKey: p.AssumptionKey,
		WindowKey:     p.WindowKey,
	})
	if verdict.Decision == types.DecisionBlock {
		e.audit.Append(types.ActionTradeBlocked, p.MarketID, map[string]any{
			"plan_id": p.PlanID, "reasons": verdict.Reasons,
		})
		return ConfirmResult{PlanID: planID, Reason: "blocked: " + strings.Join(verdict.Reasons, "; ")}
	}
	if verdict.Decision == types.DecisionAllowReduced && verdict.SuggestedSize != nil {
		fill = strategy.Rescale(fill, *verdict.SuggestedSize)
	}

	_, executedNow, err := e.plans.MarkExecuted(planID, now)
	if err != nil {
		return ConfirmResult{PlanID: planID, Reason: "plan not found"}
	}
	if !executedNow {
		return ConfirmResult{PlanID: planID, Reason: "already executed"}
	}

	pos, err := e.positions.Open(types.PaperPosition{
		MarketID:      p.MarketID,
		ConditionID:   p.ConditionID,
		TokenID:       p.TokenID,
		Outcome:       p.Outcome,
		EntryPrice:    fill.VWAP,
		SizeUSD:       fill.FillSizeUSD,
		SizeShares:    fill.FillSizeShares,
		Category:      p.Category,
		AssumptionKey: p.AssumptionKey,
		WindowKey:     p.WindowKey,
		OpenedAt:      now,
		ExpectedPnL:   p.EVBreakdown.NetEV,
	})
	if err != nil {
		e.logger.Error("open position failed", "plan_id", planID, "error", err)
		return ConfirmResult{PlanID: planID, Reason: "position write failed"}
	}

	e.risk.Rebuild(e.positions.All())

	e.audit.Append(types.ActionTradeOpened, p.MarketID, map[string]any{
		"plan_id": p.PlanID, "position_id": pos.ID,
		"size_usd": fill.FillSizeUSD, "vwap": fill.VWAP,
	})
	e.audit.Append(types.ActionPlanExecuted, p.MarketID, map[string]any{
		"plan_id": p.PlanID, "position_id": pos.ID,
	})

	return ConfirmResult{PlanID: planID, Executed: true, PositionID: pos.ID}
}

// PanicStop raises the panic flag, disarms, and clears the queue. Idempotent.
func (e *Engine) PanicStop() int {
	e.modes.Panic(time.Now().UTC())
	cleared := e.plans.ClearQueue()
	e.logger.Warn("panic stop", "queue_cleared", cleared)
	return cleared
}

// SetMode transitions the execution mode, clearing any panic state.
func (e *Engine) SetMode(m types.ExecMode) {
	e.modes.Set(m, time.Now().UTC())
}

// Status builds the /status snapshot; debug adds the full metadata bag.
func (e *Engine) Status(debug bool) Status {
	mod, panicStop := e.modes.Snapshot()

	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	st := Status{
		Mode:          mod,
		Panic:         panicStop,
		QueueLength:   len(e.plans.Queue()),
		ProposedCount: e.tradesProposed,
		BooksTracked:  e.books.Size(),
		OpenPositions: len(e.positions.OpenPositions()),
		Meta:          e.meta,
	}
	if !e.lastScanAt.IsZero() {
		at := e.lastScanAt
		st.LastScanAt = &at
	}
	if debug {
		st.MetaFull = e.metaFull
	}
	return st
}

// TradesProposed returns the proposed-plan count from the last scan.
func (e *Engine) TradesProposed() int {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.tradesProposed
}

// collectTokens unions NO and YES token ids across the market set,
// deduplicated on the canonical key. Order follows the market list so WS
// subscription slots under the cap go to the earliest markets.
func collectTokens(markets []types.NormalizedMarket) []string {
	seen := make(map[string]struct{}, len(markets)*2)
	var out []string
	add := func(id string) {
		key := book.NormalizeKey(id)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, m := range markets {
		add(m.NoTokenID)
		add(m.YesTokenID)
	}
	return out
}

// appendWorst keeps the list bounded; the report only prints the top few.
func appendWorst(worst []WorstCandidate, c WorstCandidate) []WorstCandidate {
	const maxWorst = 20
	if len(worst) >= maxWorst {
		return worst
	}
	return append(worst, c)
}
