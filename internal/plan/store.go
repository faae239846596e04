// Package plan holds the in-memory trade plan store and execution queue.
// Plans are derived state: every scan cycle rebuilds them from live books,
// so nothing here touches disk. Executed plan IDs survive replacement so a
// re-proposed plan cannot be executed twice.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// ErrNotFound is returned when a plan ID is unknown to the store.
var ErrNotFound = errors.New("plan not found")

// ID derives the stable plan identity: the first 16 hex characters of
// SHA-256 over market_id|outcome|mode. The same intent upserts across scan
// cycles while NO-side and carry plans for one market keep distinct IDs.
func ID(marketID string, outcome types.Outcome, mode types.StrategyMode) string {
	sum := sha256.Sum256([]byte(marketID + "|" + string(outcome) + "|" + string(mode)))
	return hex.EncodeToString(sum[:])[:16]
}

// Store is the concurrent plan registry. The scan loop replaces the active
// set each cycle; the control API reads and executes against it.
type Store struct {
	mu       sync.RWMutex
	plans    map[string]types.TradePlan
	queue    []string
	executed map[string]time.Time
}

// NewStore creates an empty plan store.
func NewStore() *Store {
	return &Store{
		plans:    make(map[string]types.TradePlan),
		executed: make(map[string]time.Time),
	}
}

// SetPlans atomically replaces the active plan set with the cycle's output.
// A plan whose ID existed before keeps its original created_at; a plan that
// was already executed keeps its executed status and timestamp. Queue
// entries for IDs no longer present are dropped.
func (s *Store) SetPlans(plans []types.TradePlan, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]types.TradePlan, len(plans))
	for _, p := range plans {
		p.UpdatedAt = now
		if prev, ok := s.plans[p.PlanID]; ok {
			p.CreatedAt = prev.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if at, ok := s.executed[p.PlanID]; ok {
			p.Status = types.PlanExecuted
			exec := at
			p.ExecutedAt = &exec
		}
		next[p.PlanID] = p
	}
	s.plans = next

	var queue []string
	for _, id := range s.queue {
		if p, ok := s.plans[id]; ok && p.Status == types.PlanQueued {
			queue = append(queue, id)
		}
	}
	s.queue = queue
}

// Get returns a plan by ID.
func (s *Store) Get(id string) (types.TradePlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	return p, ok
}

// List returns a snapshot of all plans, unsorted.
func (s *Store) List() []types.TradePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TradePlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out
}

// Len returns the number of active plans.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// Enqueue marks a plan queued for execution. Unknown and already-executed
// plans are rejected; re-queueing an already-queued plan is a no-op.
func (s *Store) Enqueue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status == types.PlanExecuted {
		return nil
	}
	if p.Status == types.PlanQueued {
		return nil
	}
	p.Status = types.PlanQueued
	s.plans[id] = p
	s.queue = append(s.queue, id)
	return nil
}

// Queue returns the queued plans in enqueue order.
func (s *Store) Queue() []types.TradePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TradePlan, 0, len(s.queue))
	for _, id := range s.queue {
		if p, ok := s.plans[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ClearQueue drops the queue and the executed-ID set, reverting queued plans
// to proposed. Called on panic stop. Returns the number of queued plans
// cleared. Plans already marked executed keep that status until the next
// scan replaces them.
func (s *Store) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	for _, id := range s.queue {
		if p, ok := s.plans[id]; ok && p.Status == types.PlanQueued {
			p.Status = types.PlanProposed
			s.plans[id] = p
		}
	}
	s.queue = nil
	s.executed = make(map[string]time.Time)
	return n
}

// MarkExecuted transitions a plan to executed. Idempotent: the second call
// for one ID reports executedNow=false with the original execution time
// intact. Returns ErrNotFound for unknown IDs.
func (s *Store) MarkExecuted(id string, now time.Time) (types.TradePlan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return types.TradePlan{}, false, ErrNotFound
	}
	if p.Status == types.PlanExecuted {
		return p, false, nil
	}

	p.Status = types.PlanExecuted
	exec := now
	p.ExecutedAt = &exec
	p.UpdatedAt = now
	s.plans[id] = p
	s.executed[id] = now

	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	return p, true, nil
}

// SortPlans orders plans for the control API: net_ev descending, then
// created_at descending, then plan_id ascending as the final tiebreak.
func SortPlans(plans []types.TradePlan) {
	sort.Slice(plans, func(i, j int) bool {
		a, b := plans[i], plans[j]
		if a.EVBreakdown.NetEV != b.EVBreakdown.NetEV {
			return a.EVBreakdown.NetEV > b.EVBreakdown.NetEV
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.PlanID < b.PlanID
	})
}
