// Package ledger persists the audit trail and paper positions.
//
// The ledger is append-only JSONL: one LedgerEntry per line, never rewritten.
// Positions live in a single JSON array rewritten atomically (temp file then
// rename) on every change, so a crash leaves either the old or the new file,
// never a torn one.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

const (
	ledgerFile    = "ledger.jsonl"
	positionsFile = "positions.json"
)

// Ledger is the append-only audit writer. Append never fails the caller's
// trading path: write errors are logged and dropped.
type Ledger struct {
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// OpenLedger opens (creating if needed) the JSONL ledger under dataDir.
func OpenLedger(dataDir string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, ledgerFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{
		logger: logger.With("component", "ledger"),
		file:   f,
	}, nil
}

// Append writes one audit record as a single JSON line.
func (l *Ledger) Append(action types.LedgerAction, marketID string, metadata map[string]any) {
	entry := types.LedgerEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		MarketID:  marketID,
		Metadata:  metadata,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("marshal ledger entry", "error", err, "action", action)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.logger.Error("write ledger entry", "error", err, "action", action)
	}
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadAll loads every ledger entry, skipping unparseable lines. Used by the
// report writer; the trading path never reads the ledger back.
func ReadAll(dataDir string) ([]types.LedgerEntry, error) {
	f, err := os.Open(filepath.Join(dataDir, ledgerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []types.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e types.LedgerEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}
