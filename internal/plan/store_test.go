package plan

import (
	"errors"
	"testing"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func testPlan(marketID string, mode types.StrategyMode, netEV float64) types.TradePlan {
	return types.TradePlan{
		PlanID:      ID(marketID, types.OutcomeNo, mode),
		MarketID:    marketID,
		Outcome:     types.OutcomeNo,
		SizeUSD:     100,
		EVBreakdown: types.EVResult{NetEV: netEV, Mode: mode},
		Status:      types.PlanProposed,
	}
}

func TestIDStableAndDistinct(t *testing.T) {
	t.Parallel()

	a := ID("m1", types.OutcomeNo, types.ModeBaseline)
	b := ID("m1", types.OutcomeNo, types.ModeBaseline)
	if a != b {
		t.Errorf("same inputs gave different ids: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16", len(a))
	}

	// Capture and carry plans for one market must coexist.
	if ID("m1", types.OutcomeNo, types.ModeCapture) == ID("m1", types.OutcomeYes, types.ModeCarry) {
		t.Error("different outcome/mode should give different ids")
	}
	if ID("m1", types.OutcomeNo, types.ModeBaseline) == ID("m2", types.OutcomeNo, types.ModeBaseline) {
		t.Error("different markets should give different ids")
	}
}

func TestSetPlansPreservesCreatedAt(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p := testPlan("m1", types.ModeBaseline, 1.0)
	s.SetPlans([]types.TradePlan{p}, t0)

	got, ok := s.Get(p.PlanID)
	if !ok {
		t.Fatal("plan missing after set")
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, t0)
	}

	// Second scan with the same payload: created_at survives, updated_at moves.
	s.SetPlans([]types.TradePlan{p}, t1)
	got, _ = s.Get(p.PlanID)
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("created_at after upsert = %v, want %v", got.CreatedAt, t0)
	}
	if !got.UpdatedAt.Equal(t1) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, t1)
	}
}

func TestSetPlansRemovesAbsent(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p1 := testPlan("m1", types.ModeBaseline, 1.0)
	p2 := testPlan("m2", types.ModeBaseline, 2.0)
	s.SetPlans([]types.TradePlan{p1, p2}, t0)
	s.SetPlans([]types.TradePlan{p1}, t1)

	if _, ok := s.Get(p2.PlanID); ok {
		t.Error("plan absent from new scan should be removed")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestMarkExecutedIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p := testPlan("m1", types.ModeBaseline, 1.0)
	s.SetPlans([]types.TradePlan{p}, t0)

	got, executedNow, err := s.MarkExecuted(p.PlanID, t1)
	if err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if !executedNow {
		t.Fatal("first call should execute")
	}
	if got.Status != types.PlanExecuted || got.ExecutedAt == nil {
		t.Errorf("plan = %+v, want executed with timestamp", got)
	}

	_, executedNow, err = s.MarkExecuted(p.PlanID, t2)
	if err != nil {
		t.Fatalf("second MarkExecuted: %v", err)
	}
	if executedNow {
		t.Error("second call must not execute again")
	}

	got, _ = s.Get(p.PlanID)
	if !got.ExecutedAt.Equal(t1) {
		t.Errorf("executed_at = %v, want original %v", got.ExecutedAt, t1)
	}
}

func TestExecutedSurvivesReplacement(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p := testPlan("m1", types.ModeBaseline, 1.0)
	s.SetPlans([]types.TradePlan{p}, t0)
	if _, _, err := s.MarkExecuted(p.PlanID, t1); err != nil {
		t.Fatal(err)
	}

	// Next scan re-proposes the same plan id; it must stay executed.
	s.SetPlans([]types.TradePlan{testPlan("m1", types.ModeBaseline, 1.5)}, t2)
	got, _ := s.Get(p.PlanID)
	if got.Status != types.PlanExecuted {
		t.Errorf("status after re-propose = %s, want executed", got.Status)
	}
}

func TestMarkExecutedUnknown(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_, _, err := s.MarkExecuted("nope", t0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueueLifecycle(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p1 := testPlan("m1", types.ModeBaseline, 1.0)
	p2 := testPlan("m2", types.ModeBaseline, 2.0)
	s.SetPlans([]types.TradePlan{p1, p2}, t0)

	if err := s.Enqueue(p1.PlanID); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(p2.PlanID); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(p1.PlanID); err != nil {
		t.Fatalf("re-enqueue should be a no-op, got %v", err)
	}
	if got := len(s.Queue()); got != 2 {
		t.Fatalf("queue length = %d, want 2", got)
	}

	if _, _, err := s.MarkExecuted(p1.PlanID, t1); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Queue()); got != 1 {
		t.Errorf("queue length after execute = %d, want 1", got)
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	s := NewStore()

	p1 := testPlan("m1", types.ModeBaseline, 1.0)
	p2 := testPlan("m2", types.ModeBaseline, 2.0)
	s.SetPlans([]types.TradePlan{p1, p2}, t0)
	_ = s.Enqueue(p1.PlanID)
	_ = s.Enqueue(p2.PlanID)

	if cleared := s.ClearQueue(); cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	if got := len(s.Queue()); got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
	got, _ := s.Get(p1.PlanID)
	if got.Status != types.PlanProposed {
		t.Errorf("status after clear = %s, want proposed", got.Status)
	}
}

func TestEnqueueUnknownPlan(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Enqueue("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSortPlansOrdering(t *testing.T) {
	t.Parallel()

	a := testPlan("m1", types.ModeBaseline, 1.0)
	a.CreatedAt = t0
	b := testPlan("m2", types.ModeBaseline, 3.0)
	b.CreatedAt = t0
	c := testPlan("m3", types.ModeBaseline, 1.0)
	c.CreatedAt = t1 // newer, same net_ev as a

	plans := []types.TradePlan{a, b, c}
	SortPlans(plans)

	if plans[0].MarketID != "m2" {
		t.Errorf("first = %s, want m2 (highest net_ev)", plans[0].MarketID)
	}
	if plans[1].MarketID != "m3" {
		t.Errorf("second = %s, want m3 (newer created_at breaks tie)", plans[1].MarketID)
	}
	if plans[2].MarketID != "m1" {
		t.Errorf("third = %s, want m1", plans[2].MarketID)
	}
}
