package ledger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLedgerAppendAndReadAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	l, err := OpenLedger(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	l.Append(types.ActionScanPass, "m1", map[string]any{"net_ev": 1.5})
	l.Append(types.ActionTradeBlocked, "m2", map[string]any{"reasons": []string{"cap"}})
	l.Append(types.ActionModeChange, "", map[string]any{"mode": "ARMED_AUTO"})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Action != types.ActionScanPass || entries[0].MarketID != "m1" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[2].Action != types.ActionModeChange {
		t.Errorf("third entry = %+v", entries[2])
	}
}

func TestReadAllMissingFile(t *testing.T) {
	t.Parallel()

	entries, err := ReadAll(t.TempDir())
	if err != nil {
		t.Fatalf("missing ledger should not error: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestReadAllSkipsGarbageLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	content := `{"timestamp":"2026-03-01T12:00:00Z","action":"scan_pass","marketId":"m1"}
this is not json
{"timestamp":"2026-03-01T12:01:00Z","action":"scan_fail","marketId":"m2"}
`
	if err := os.WriteFile(filepath.Join(dir, "ledger.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (garbage skipped)", len(entries))
	}
}

func TestPositionsOpenClosePersist(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := OpenPositions(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	pos, err := p.Open(types.PaperPosition{
		MarketID:   "m1",
		Outcome:    types.OutcomeNo,
		EntryPrice: 0.96,
		SizeUSD:    100,
		SizeShares: 104.17,
		Category:   "Politics",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pos.ID == "" {
		t.Error("position should get a generated id")
	}
	if pos.OpenedAt.IsZero() {
		t.Error("opened_at should be stamped")
	}

	// A fresh store over the same directory sees the position.
	p2, err := OpenPositions(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	open := p2.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions after reload = %d, want 1", len(open))
	}
	if open[0].MarketID != "m1" {
		t.Errorf("reloaded position = %+v", open[0])
	}

	if err := p2.Close(pos.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(p2.OpenPositions()) != 0 {
		t.Error("closed position still counted open")
	}
	if len(p2.All()) != 1 {
		t.Error("closed position should remain in history")
	}

	// Double close is an error.
	if err := p2.Close(pos.ID, time.Now()); err == nil {
		t.Error("closing twice should fail")
	}
}

func TestPositionsCloseUnknown(t *testing.T) {
	t.Parallel()

	p, err := OpenPositions(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close("nope", time.Now()); err == nil {
		t.Error("closing unknown position should fail")
	}
}

func TestPositionsNoTempFileLeftBehind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := OpenPositions(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Open(types.PaperPosition{MarketID: "m1", SizeUSD: 10}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "positions.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after flush")
	}
	if _, err := os.Stat(filepath.Join(dir, "positions.json")); err != nil {
		t.Errorf("positions file missing: %v", err)
	}
}
