// Polymarket NO-Carry Scanner — a read-only paper-trading scanner and risk
// governor for binary prediction markets. It mirrors order books, screens
// markets for NO-side entries and YES-side resolution carry, prices them
// with a conservative EV model, and admits paper positions through a
// correlated-exposure risk engine. It holds no credentials and can never
// sign or place a real order.
//
// Architecture:
//
//	main.go              — entry point: safety preflight, config, engine, API, signal wait
//	engine/engine.go     — orchestrator: one scan cycle fetch → filter → EV → fill → risk → plans
//	strategy/filter.go   — NO-side selection filter with near-miss diagnostics
//	strategy/ev.go       — expected-value model (baseline and capture modes)
//	strategy/fill.go     — depth-walking fill simulator
//	strategy/carry.go    — YES-side resolution-carry selector
//	provider/gamma.go    — Gamma API market discovery
//	provider/clob.go     — CLOB REST snapshots and HTTP top-of-book fallback
//	provider/ws.go       — market WebSocket ingest with auto-reconnect
//	book/store.go        — local order book mirror keyed by canonical token ids
//	risk/engine.go       — five-dimension correlated-exposure admission
//	plan/store.go        — atomic plan set with confirm queue and executed ids
//	mode/mode.go         — DISARMED / ARMED_CONFIRM / ARMED_AUTO + panic stop
//	ledger/              — append-only JSONL audit trail and paper positions
//	api/server.go        — operator control surface
//	report/report.go     — scheduled operator summaries
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/api"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/engine"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/ledger"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/report"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/safety"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("NOCARRY_CONFIG"); p != "" {
		cfgPath = p
	}

	// Safety preflight runs before anything touches the network: the
	// scanner refuses to start in an environment holding key material.
	if findings := safety.Check(cfgPath); len(findings) > 0 {
		fmt.Fprintln(os.Stderr, "SAFETY PREFLIGHT FAILED — credential-like material detected:")
		for _, f := range findings {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		fmt.Fprintln(os.Stderr, "this scanner is read-only and must never run with signing capability")
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	audit, err := ledger.OpenLedger(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	positions, err := ledger.OpenPositions(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Error("failed to open positions", "error", err)
		os.Exit(1)
	}

	core := engine.New(cfg, logger, audit, positions)

	apiServer := api.NewServer(cfg.ControlAPI, core, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("control api failed", "error", err)
		}
	}()

	reporter := report.NewReporter(cfg.Reporting, cfg.Store.DataDir, core, logger)
	if err := reporter.Start(); err != nil {
		logger.Error("failed to start reporter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		core.Run(ctx)
		close(runDone)
	}()

	logger.Info("scanner started",
		"ev_mode", cfg.Fees.EVMode,
		"poll_interval", cfg.Scanner.PollInterval(),
		"carry_enabled", cfg.Carry.Enabled,
		"api", fmt.Sprintf("http://localhost:%d", cfg.ControlAPI.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	// A scan in flight when the signal arrived finishes before the final
	// report is written.
	<-runDone
	if err := apiServer.Shutdown(context.Background()); err != nil {
		logger.Error("failed to stop control api", "error", err)
	}
	reporter.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
