// Package book maintains a deterministic in-memory mirror of order books for
// a set of outcome tokens.
//
// Books are updated from two sources:
//   - REST snapshots via ApplySnapshot (bootstrap each scan cycle)
//   - WebSocket price_change deltas via ApplyPriceChange (incremental)
//
// Every lookup goes through NormalizeKey, a digits-only projection of the
// asset identifier. Upstream streams deliver ids in formats that may include
// quotes or brackets; a mismatched key would be a silent cache miss, so one
// canonical form is used for both storage and lookup.
package book

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// MaxDepth is the per-side level cap kept in the mirror.
const MaxDepth = 50

// bookState is one asset's mirrored book: bids descending, asks ascending.
type bookState struct {
	bids    []types.OrderLevel
	asks    []types.OrderLevel
	updated time.Time
}

// Store holds mirrored books keyed by canonical asset key. One writer (the
// ingest loop), many readers (scan cycle, control API). Readers get copies.
type Store struct {
	mu    sync.RWMutex
	books map[string]*bookState
}

// NewStore creates an empty order book store.
func NewStore() *Store {
	return &Store{books: make(map[string]*bookState)}
}

// NormalizeKey projects an asset identifier to its digits-only canonical
// form. Idempotent; an empty result means "no book".
func NormalizeKey(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ApplySnapshot replaces both sides of an asset's book, sorting and
// truncating each side. Silently ignored when the key normalizes to empty.
func (s *Store) ApplySnapshot(assetID string, bids, asks []types.OrderLevel) {
	key := NormalizeKey(assetID)
	if key == "" {
		return
	}

	state := &bookState{
		bids:    sanitizeSide(bids, false),
		asks:    sanitizeSide(asks, true),
		updated: time.Now(),
	}

	s.mu.Lock()
	s.books[key] = state
	s.mu.Unlock()
}

// ApplyPriceChange upserts or removes a single level. Size 0 deletes the
// level; otherwise the level is replaced or inserted, then the side is
// re-sorted and re-truncated.
func (s *Store) ApplyPriceChange(assetID string, price, size float64, side types.Side) {
	key := NormalizeKey(assetID)
	if key == "" || price < 0 || size < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.books[key]
	if !ok {
		state = &bookState{}
		s.books[key] = state
	}

	if side == types.BUY {
		state.bids = upsertLevel(state.bids, price, size, false)
	} else {
		state.asks = upsertLevel(state.asks, price, size, true)
	}
	state.updated = time.Now()
}

// TopOfBook returns the best quotes plus a depth summary over the first
// maxLevels levels per side, or nil when no book exists for the id.
func (s *Store) TopOfBook(id string, maxLevels int) *types.TopOfBook {
	if maxLevels <= 0 {
		maxLevels = 5
	}
	key := NormalizeKey(id)
	if key == "" {
		return nil
	}

	s.mu.RLock()
	state, ok := s.books[key]
	if !ok {
		s.mu.RUnlock()
		return nil
	}

	top := &types.TopOfBook{}
	if len(state.bids) > 0 {
		bid := state.bids[0].Price
		top.NoBid = &bid
	}
	if len(state.asks) > 0 {
		ask := state.asks[0].Price
		top.NoAsk = &ask
	}

	levels := 0
	for i, lvl := range state.bids {
		if i >= maxLevels {
			break
		}
		top.Depth.BidLiquidityUSD += lvl.Price * lvl.Size
		levels++
	}
	for i, lvl := range state.asks {
		if i >= maxLevels {
			break
		}
		top.Depth.AskLiquidityUSD += lvl.Price * lvl.Size
		levels++
	}
	top.Depth.LevelsCount = levels
	s.mu.RUnlock()

	if top.NoBid != nil && top.NoAsk != nil {
		spread := *top.NoAsk - *top.NoBid
		top.Spread = &spread
	}
	return top
}

// Depth returns a copy of the levels a taker order in the given direction
// would consume: asks for BUY, bids for SELL. Nil when the book is unknown.
func (s *Store) Depth(id string, side types.Side) []types.OrderLevel {
	key := NormalizeKey(id)
	if key == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.books[key]
	if !ok {
		return nil
	}

	src := state.asks
	if side == types.SELL {
		src = state.bids
	}
	out := make([]types.OrderLevel, len(src))
	copy(out, src)
	return out
}

// Has reports whether a book (possibly empty-sided) exists for the id.
func (s *Store) Has(id string) bool {
	key := NormalizeKey(id)
	if key == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.books[key]
	return ok
}

// Size returns the number of mirrored books.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// SampleKeys returns up to n canonical keys for diagnostics.
func (s *Store) SampleKeys(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, n)
	for k := range s.books {
		if len(keys) >= n {
			break
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeSide drops non-positive sizes, deduplicates prices (last write
// wins), sorts, and truncates to MaxDepth.
func sanitizeSide(levels []types.OrderLevel, ascending bool) []types.OrderLevel {
	byPrice := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		if lvl.Price < 0 || lvl.Size <= 0 {
			continue
		}
		byPrice[lvl.Price] = lvl.Size
	}

	out := make([]types.OrderLevel, 0, len(byPrice))
	for p, sz := range byPrice {
		out = append(out, types.OrderLevel{Price: p, Size: sz})
	}
	sortSide(out, ascending)
	if len(out) > MaxDepth {
		out = out[:MaxDepth]
	}
	return out
}

func upsertLevel(side []types.OrderLevel, price, size float64, ascending bool) []types.OrderLevel {
	out := make([]types.OrderLevel, 0, len(side)+1)
	for _, lvl := range side {
		if lvl.Price != price {
			out = append(out, lvl)
		}
	}
	if size > 0 {
		out = append(out, types.OrderLevel{Price: price, Size: size})
	}
	sortSide(out, ascending)
	if len(out) > MaxDepth {
		out = out[:MaxDepth]
	}
	return out
}

func sortSide(side []types.OrderLevel, ascending bool) {
	sort.Slice(side, func(i, j int) bool {
		if ascending {
			return side[i].Price < side[j].Price
		}
		return side[i].Price > side[j].Price
	})
}
