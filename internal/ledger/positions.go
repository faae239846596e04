package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// Positions is the persistent store of paper positions. The in-memory slice
// is authoritative; every mutation rewrites the JSON file atomically.
type Positions struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	positions []types.PaperPosition
}

// OpenPositions loads (or initializes) the positions file under dataDir.
func OpenPositions(dataDir string, logger *slog.Logger) (*Positions, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	p := &Positions{
		path:   filepath.Join(dataDir, positionsFile),
		logger: logger.With("component", "positions"),
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read positions: %w", err)
	}
	if err := json.Unmarshal(data, &p.positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	p.logger.Info("positions loaded", "count", len(p.positions), "open", countOpen(p.positions))
	return p, nil
}

func countOpen(positions []types.PaperPosition) int {
	n := 0
	for _, pos := range positions {
		if pos.Open() {
			n++
		}
	}
	return n
}

// Open records a new paper position and persists the file.
func (p *Positions) Open(pos types.PaperPosition) (types.PaperPosition, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, pos)
	if err := p.flushLocked(); err != nil {
		p.positions = p.positions[:len(p.positions)-1]
		return types.PaperPosition{}, err
	}
	return pos, nil
}

// Close marks a position closed at the given time. Closing an unknown or
// already-closed position is an error.
func (p *Positions) Close(id string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.positions {
		if p.positions[i].ID != id {
			continue
		}
		if !p.positions[i].Open() {
			return fmt.Errorf("position %s already closed", id)
		}
		closed := at
		p.positions[i].ClosedAt = &closed
		return p.flushLocked()
	}
	return fmt.Errorf("position %s not found", id)
}

// All returns a copy of every position, open and closed.
func (p *Positions) All() []types.PaperPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.PaperPosition, len(p.positions))
	copy(out, p.positions)
	return out
}

// OpenPositions returns only the positions still counting toward exposure.
func (p *Positions) OpenPositions() []types.PaperPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []types.PaperPosition
	for _, pos := range p.positions {
		if pos.Open() {
			out = append(out, pos)
		}
	}
	return out
}

// flushLocked writes the positions array to a temp file and renames it over
// the live one. Caller holds the write lock.
func (p *Positions) flushLocked() error {
	data, err := json.MarshalIndent(p.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write positions temp: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("rename positions: %w", err)
	}
	return nil
}
