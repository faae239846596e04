// Package report renders operator summaries: what the ledger recorded, what
// positions are open, and which plans currently lead on net EV. Reports are
// written to the report directory and echoed to the log. A daily report runs
// at the configured local hour, an optional interval report in between, and
// a final one on shutdown.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/engine"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/ledger"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/plan"
)

// Reporter schedules and writes summaries.
type Reporter struct {
	cfg     config.ReportingConfig
	dataDir string
	core    *engine.Engine
	logger  *slog.Logger
	sched   *cron.Cron
}

// NewReporter creates a reporter over the engine and the persisted ledger.
func NewReporter(cfg config.ReportingConfig, dataDir string, core *engine.Engine, logger *slog.Logger) *Reporter {
	return &Reporter{
		cfg:     cfg,
		dataDir: dataDir,
		core:    core,
		logger:  logger.With("component", "report"),
	}
}

// Start registers the cron entries and begins the scheduler.
func (r *Reporter) Start() error {
	r.sched = cron.New()

	daily := fmt.Sprintf("0 %d * * *", r.cfg.DailyReportHourLocal)
	if _, err := r.sched.AddFunc(daily, func() { r.write("daily") }); err != nil {
		return fmt.Errorf("schedule daily report: %w", err)
	}
	if r.cfg.ReportIntervalMin > 0 {
		every := fmt.Sprintf("@every %dm", r.cfg.ReportIntervalMin)
		if _, err := r.sched.AddFunc(every, func() { r.write("interval") }); err != nil {
			return fmt.Errorf("schedule interval report: %w", err)
		}
	}

	r.sched.Start()
	return nil
}

// Stop halts the scheduler and writes the final report.
func (r *Reporter) Stop() {
	if r.sched != nil {
		ctx := r.sched.Stop()
		<-ctx.Done()
	}
	r.write("final")
}

func (r *Reporter) write(label string) {
	body, err := r.Render(label)
	if err != nil {
		r.logger.Error("render report", "label", label, "error", err)
		return
	}

	if err := os.MkdirAll(r.cfg.ReportDir, 0o755); err != nil {
		r.logger.Error("create report dir", "error", err)
		return
	}
	name := fmt.Sprintf("report_%s_%s.txt", label, time.Now().Format("20060102_150405"))
	path := filepath.Join(r.cfg.ReportDir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		r.logger.Error("write report", "path", path, "error", err)
		return
	}
	r.logger.Info("report written", "label", label, "path", path)
	fmt.Println(body)
}

// Render builds the report text without writing it. Exposed for tests.
func (r *Reporter) Render(label string) (string, error) {
	var b strings.Builder

	st := r.core.Status(false)
	fmt.Fprintf(&b, "=== scanner report (%s) %s ===\n", label, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "mode=%s panic=%v proposed=%d queued=%d books=%d open_positions=%d\n\n",
		st.Mode, st.Panic, st.ProposedCount, st.QueueLength, st.BooksTracked, st.OpenPositions)

	entries, err := ledger.ReadAll(r.dataDir)
	if err != nil {
		return "", fmt.Errorf("read ledger: %w", err)
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.Action)]++
	}
	b.WriteString("ledger actions:\n")
	actions := tablewriter.NewWriter(&b)
	actions.Header("Action", "Count")
	for _, action := range []string{
		"scan_pass", "scan_fail", "trade_blocked", "trade_opened",
		"trade_closed", "plan_created", "plan_executed", "mode_change",
	} {
		actions.Append(action, fmt.Sprintf("%d", counts[action]))
	}
	actions.Render()

	exp := r.core.Risk().Snapshot()
	fmt.Fprintf(&b, "\nexposure: total=%.2f open_positions=%d markets=%d categories=%d assumptions=%d windows=%d\n",
		exp.TotalExposureUSD, exp.OpenPositions,
		len(exp.ByMarket), len(exp.ByCategory), len(exp.ByAssumption), len(exp.ByWindow))

	open := r.core.Positions().OpenPositions()
	fmt.Fprintf(&b, "\nopen positions (%d):\n", len(open))
	if len(open) > 0 {
		positions := tablewriter.NewWriter(&b)
		positions.Header("Market", "Outcome", "Entry", "Size USD", "Expected PnL", "Opened")
		for _, p := range open {
			positions.Append(
				p.MarketID,
				string(p.Outcome),
				fmt.Sprintf("%.4f", p.EntryPrice),
				fmt.Sprintf("%.2f", p.SizeUSD),
				fmt.Sprintf("%.4f", p.ExpectedPnL),
				p.OpenedAt.Format("2006-01-02 15:04"),
			)
		}
		positions.Render()
	}

	plans := r.core.Plans().List()
	plan.SortPlans(plans)
	topN := r.cfg.PrintTopN
	if topN <= 0 || topN > len(plans) {
		topN = len(plans)
	}
	fmt.Fprintf(&b, "\ntop plans by net_ev (%d of %d):\n", topN, len(plans))
	if topN > 0 {
		top := tablewriter.NewWriter(&b)
		top.Header("Plan", "Market", "Outcome", "Mode", "Net EV", "Size USD", "Status")
		for _, p := range plans[:topN] {
			top.Append(
				p.PlanID,
				p.MarketID,
				string(p.Outcome),
				string(p.EVBreakdown.Mode),
				fmt.Sprintf("%.4f", p.EVBreakdown.NetEV),
				fmt.Sprintf("%.2f", p.SizeUSD),
				string(p.Status),
			)
		}
		top.Render()
	}

	return b.String(), nil
}
