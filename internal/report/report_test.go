package report

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/engine"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/ledger"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/plan"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

func testReporter(t *testing.T) (*Reporter, *engine.Engine, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	audit, err := ledger.OpenLedger(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { audit.Close() })

	positions, err := ledger.OpenPositions(dir, logger)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		API:        config.APIConfig{GammaBaseURL: "http://localhost:1", ClobRestBaseURL: "http://localhost:1"},
		WS:         config.WSConfig{MarketURL: "ws://localhost:1", MaxAssetsSubscribe: 400},
		Scanner:    config.ScannerConfig{PollIntervalMs: 60000},
		Fees:       config.FeesConfig{EVMode: "baseline"},
		Simulation: config.SimulationConfig{DefaultOrderSizeUSD: 100, SlippageBps: 50, MaxFillDepthLevels: 10},
		Risk: config.RiskConfig{
			MaxTotalExposureUSD:     100000,
			MaxExposurePerMarketUSD: 100000,
			MaxPositionsOpen:        25,
		},
	}
	core := engine.New(cfg, logger, audit, positions)

	r := NewReporter(config.ReportingConfig{PrintTopN: 2}, dir, core, logger)
	return r, core, audit
}

func TestRenderEmptyState(t *testing.T) {
	t.Parallel()
	r, _, _ := testReporter(t)

	body, err := r.Render("test")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "scanner report (test)") {
		t.Errorf("missing header: %q", body)
	}
	if !strings.Contains(body, "mode=DISARMED panic=false") {
		t.Errorf("missing status line: %q", body)
	}
	if !strings.Contains(body, "exposure: total=0.00 open_positions=0") {
		t.Errorf("missing exposure line: %q", body)
	}
	if !strings.Contains(body, "open positions (0)") {
		t.Errorf("missing positions section: %q", body)
	}
	if !strings.Contains(body, "top plans by net_ev (0 of 0)") {
		t.Errorf("missing plans section: %q", body)
	}
}

func TestRenderCountsLedgerActions(t *testing.T) {
	t.Parallel()
	r, _, audit := testReporter(t)

	audit.Append(types.ActionScanPass, "m1", nil)
	audit.Append(types.ActionScanPass, "m2", nil)
	audit.Append(types.ActionTradeBlocked, "m3", nil)

	body, err := r.Render("test")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "scan_pass") || !strings.Contains(body, "trade_blocked") {
		t.Errorf("action table missing rows: %q", body)
	}
}

func TestRenderTopPlansHonorsTopN(t *testing.T) {
	t.Parallel()
	r, core, _ := testReporter(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var plans []types.TradePlan
	for i, ev := range []float64{1.0, 3.0, 2.0} {
		marketID := string(rune('a' + i))
		plans = append(plans, types.TradePlan{
			PlanID:      plan.ID(marketID, types.OutcomeNo, types.ModeBaseline),
			MarketID:    marketID,
			Outcome:     types.OutcomeNo,
			SizeUSD:     100,
			EVBreakdown: types.EVResult{NetEV: ev, Mode: types.ModeBaseline},
			Status:      types.PlanProposed,
		})
	}
	core.Plans().SetPlans(plans, now)

	body, err := r.Render("test")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "top plans by net_ev (2 of 3)") {
		t.Errorf("top-N cap not applied: %q", body)
	}
	// The lowest-EV plan falls off the table.
	if strings.Contains(body, "1.0000") {
		t.Errorf("net_ev 1.0 plan should be cut by top-N: %q", body)
	}
	if !strings.Contains(body, "3.0000") || !strings.Contains(body, "2.0000") {
		t.Errorf("top two plans missing: %q", body)
	}
}

func TestRenderOpenPositions(t *testing.T) {
	t.Parallel()
	r, core, _ := testReporter(t)

	if _, err := core.Positions().Open(types.PaperPosition{
		MarketID:   "m1",
		Outcome:    types.OutcomeNo,
		EntryPrice: 0.96,
		SizeUSD:    100,
		SizeShares: 104.17,
	}); err != nil {
		t.Fatal(err)
	}

	body, err := r.Render("test")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "open positions (1)") {
		t.Errorf("position count missing: %q", body)
	}
	if !strings.Contains(body, "0.9600") {
		t.Errorf("entry price missing from table: %q", body)
	}
}
