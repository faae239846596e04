// Package api serves the operator control surface. All handlers read shared
// state through the engine; only the mode endpoints and /confirm mutate
// anything. Every response carries X-Build-Id so curl output can be matched
// to the binary that produced it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/book"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/buildinfo"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/engine"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/plan"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

const (
	defaultPlanLimit = 50
	maxPlanLimit     = 200
	maxFillSizeUSD   = 10000
)

// Server is the control API HTTP server.
type Server struct {
	core   *engine.Engine
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg config.ControlAPIConfig, core *engine.Engine, logger *slog.Logger) *Server {
	s := &Server{
		core:   core,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.withBuildID(s.handleStatus))
	mux.HandleFunc("/plans", s.withBuildID(s.handlePlans))
	mux.HandleFunc("/book", s.withBuildID(s.handleBook))
	mux.HandleFunc("/has-book", s.withBuildID(s.handleHasBook))
	mux.HandleFunc("/fill", s.withBuildID(s.handleFill))
	mux.HandleFunc("/books-debug", s.withBuildID(s.handleBooksDebug))
	mux.HandleFunc("/confirm", s.withBuildID(s.handleConfirm))
	mux.HandleFunc("/disarm", s.withBuildID(s.handleMode(types.ModeDisarmed)))
	mux.HandleFunc("/arm_confirm", s.withBuildID(s.handleMode(types.ModeArmedConfirm)))
	mux.HandleFunc("/arm_auto", s.withBuildID(s.handleMode(types.ModeArmedAuto)))
	mux.HandleFunc("/panic", s.withBuildID(s.handlePanic))

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("control api listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) withBuildID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Build-Id", buildinfo.ID)
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// validateQuery rejects parameters outside the allowed set with a 400 that
// names every offender.
func validateQuery(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var details []string
	for key := range r.URL.Query() {
		if _, ok := set[key]; !ok {
			details = append(details, "unknown parameter: "+key)
		}
	}
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_query",
			"details": details,
		})
		return false
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// Read endpoints
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	debug := r.URL.Query().Get("debug") == "1"
	writeJSON(w, http.StatusOK, s.core.Status(debug))
}

// evSlim is the default /plans EV shape; the full breakdown needs debug=1.
type evSlim struct {
	NetEV            float64 `json:"net_ev"`
	TailRiskCost     float64 `json:"tail_risk_cost"`
	TailBypass       string  `json:"tailByp,omitempty"`
	TailBypassReason string  `json:"tail_bypass_reason,omitempty"`
}

// planView overrides the embedded plan's ev_breakdown with either the slim
// or the full form.
type planView struct {
	types.TradePlan
	EVBreakdown any `json:"ev_breakdown"`
}

type plansQuery struct {
	limit         int
	offset        int
	minEV         *float64
	category      string
	assumptionKey string
	debug         bool
	gate          bool
}

func parsePlansQuery(r *http.Request) (plansQuery, []string) {
	q := plansQuery{limit: defaultPlanLimit, gate: true}
	var details []string
	values := r.URL.Query()

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			details = append(details, "limit: not an integer")
		} else {
			if n < 1 {
				n = 1
			}
			if n > maxPlanLimit {
				n = maxPlanLimit
			}
			q.limit = n
		}
	}
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			details = append(details, "offset: must be a non-negative integer")
		} else {
			q.offset = n
		}
	}
	if raw := values.Get("min_ev"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			details = append(details, "min_ev: not a number")
		} else {
			q.minEV = &f
		}
	}
	q.category = strings.TrimSpace(values.Get("category"))
	q.assumptionKey = strings.TrimSpace(values.Get("assumption_key"))
	q.debug = values.Get("debug") == "1"
	if raw := values.Get("gate"); raw != "" {
		switch raw {
		case "0":
			q.gate = false
		case "1":
			q.gate = true
		default:
			details = append(details, "gate: must be 0 or 1")
		}
	}
	return q, details
}

// gatePlan keeps the rows an operator can act on: NO-side plans in the
// known scan modes plus YES-side carry plans.
func gatePlan(p types.TradePlan) bool {
	switch p.Outcome {
	case types.OutcomeNo:
		switch p.EVBreakdown.Mode {
		case types.ModeCapture, types.ModeBaseline, types.ModeMicroCapture:
			return true
		}
	case types.OutcomeYes:
		return p.EVBreakdown.Mode == types.ModeCarry
	}
	return false
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if !validateQuery(w, r, "limit", "offset", "min_ev", "category", "assumption_key", "debug", "gate") {
		return
	}
	q, details := parsePlansQuery(r)
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_query",
			"details": details,
		})
		return
	}

	store := s.core.Plans()
	all := store.List()
	total := len(all)

	filtered := all[:0:0]
	for _, p := range all {
		if q.gate && !gatePlan(p) {
			continue
		}
		if q.minEV != nil && p.EVBreakdown.NetEV < *q.minEV {
			continue
		}
		if q.category != "" && !strings.EqualFold(p.Category, q.category) {
			continue
		}
		if q.assumptionKey != "" && p.AssumptionKey != q.assumptionKey {
			continue
		}
		filtered = append(filtered, p)
	}
	plan.SortPlans(filtered)

	countTotal := len(filtered)
	start := q.offset
	if start > countTotal {
		start = countTotal
	}
	end := start + q.limit
	if end > countTotal {
		end = countTotal
	}
	page := filtered[start:end]

	views := make([]planView, 0, len(page))
	for _, p := range page {
		v := planView{TradePlan: p}
		if q.debug {
			v.EVBreakdown = p.EVBreakdown
		} else {
			v.EVBreakdown = evSlim{
				NetEV:            p.EVBreakdown.NetEV,
				TailRiskCost:     p.EVBreakdown.TailRiskCost,
				TailBypass:       p.EVBreakdown.TailBypass,
				TailBypassReason: p.EVBreakdown.TailBypassReason,
			}
		}
		views = append(views, v)
	}

	w.Header().Set("X-Plans-Total", strconv.Itoa(total))
	w.Header().Set("X-Plans-Filtered", strconv.Itoa(countTotal))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plans":       views,
		"count":       len(views),
		"count_total": countTotal,
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	tokenID := r.URL.Query().Get("no_token_id")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "missing_no_token_id")
		return
	}

	top := s.core.Books().TopOfBook(tokenID, 5)
	priceSource := types.PriceSourceWS
	fallback := false
	if top == nil || (top.NoBid == nil && top.NoAsk == nil) {
		top = s.core.Clob().FetchTopOfBook(r.Context(), tokenID)
		priceSource = types.PriceSourceHTTP
		fallback = true
	}
	if top == nil {
		writeError(w, http.StatusNotFound, "book_not_found")
		return
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"no_token_id":        tokenID,
		"top":                top,
		"price_source":       priceSource,
		"http_fallback_used": fallback,
	})
}

func (s *Server) handleHasBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	tokenID := r.URL.Query().Get("token_id")
	key := book.NormalizeKey(tokenID)
	has := s.core.Books().Has(tokenID)

	note := "book mirrored from market stream"
	if !has {
		note = "no book for this key; it may not be subscribed yet"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id":       tokenID,
		"normalized_key": key,
		"has_book":       has,
		"note":           note,
	})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	values := r.URL.Query()
	tokenID := values.Get("no_token_id")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "missing_no_token_id")
		return
	}
	side := values.Get("side")
	if side != "buy" && side != "sell" {
		writeError(w, http.StatusBadRequest, "side_must_be_buy_or_sell")
		return
	}
	sizeUSD, err := strconv.ParseFloat(values.Get("size_usd"), 64)
	if err != nil || sizeUSD <= 0 {
		writeError(w, http.StatusBadRequest, "size_usd_must_be_positive")
		return
	}
	if sizeUSD > maxFillSizeUSD {
		sizeUSD = maxFillSizeUSD
	}

	books := s.core.Books()
	priceSource := types.PriceSourceWS

	var fill types.FillResult
	var topPrice float64
	if books.Has(tokenID) {
		if side == "buy" {
			levels := books.Depth(tokenID, types.BUY)
			if len(levels) > 0 {
				topPrice = levels[0].Price
			}
			fill = s.core.Sim().SimulateBuy(levels, sizeUSD)
		} else {
			levels := books.Depth(tokenID, types.SELL)
			if len(levels) > 0 {
				topPrice = levels[0].Price
			}
			fill = s.core.Sim().SimulateSell(levels, sizeUSD)
		}
	} else {
		// HTTP fallback: one synthetic level at the top quote.
		top := s.core.Clob().FetchTopOfBook(r.Context(), tokenID)
		if top == nil {
			writeError(w, http.StatusNotFound, "book_not_found")
			return
		}
		price := top.NoAsk
		if side == "sell" {
			price = top.NoBid
		}
		if price == nil || *price <= 0 {
			writeError(w, http.StatusNotFound, "book_not_found")
			return
		}
		priceSource = types.PriceSourceHTTP
		topPrice = *price
		fill = types.FillResult{
			Filled:         true,
			FillSizeUSD:    sizeUSD,
			FillSizeShares: sizeUSD / *price,
			VWAP:           *price,
			LevelsUsed:     1,
			Reason:         "http fallback top-of-book",
		}
	}

	slippagePct := 0.0
	if priceSource != types.PriceSourceHTTP && fill.Filled && topPrice > 0 {
		if side == "buy" {
			slippagePct = (fill.VWAP - topPrice) / topPrice * 100
		} else {
			slippagePct = (topPrice - fill.VWAP) / topPrice * 100
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"no_token_id":   tokenID,
		"side":          side,
		"filled":        fill.Filled,
		"filled_usd":    fill.FillSizeUSD,
		"filled_shares": fill.FillSizeShares,
		"avg_price":     fill.VWAP,
		"levels_used":   fill.LevelsUsed,
		"slippage_pct":  slippagePct,
		"reason":        fill.Reason,
		"price_source":  priceSource,
	})
}

func (s *Server) handleBooksDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if !validateQuery(w, r) {
		return
	}
	books := s.core.Books()
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"size":       books.Size(),
		"sampleKeys": books.SampleKeys(10),
		"note":       "keys are canonical digits-only token ids",
	})
}

// ————————————————————————————————————————————————————————————————————————
// Mutating endpoints
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var body struct {
		PlanID string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PlanID == "" {
		writeError(w, http.StatusBadRequest, "missing_plan_id")
		return
	}

	res, err := s.core.ConfirmPlan(body.PlanID)
	if errors.Is(err, plan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "confirm_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMode(m types.ExecMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
			return
		}
		s.core.SetMode(m)
		cur, panicStop := s.core.Modes().Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":  cur,
			"panic": panicStop,
		})
	}
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	cleared := s.core.PanicStop()
	cur, panicStop := s.core.Modes().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":          cur,
		"panic":         panicStop,
		"queue_cleared": cleared,
	})
}
