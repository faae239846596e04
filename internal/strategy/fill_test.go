package strategy

import (
	"math"
	"testing"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

func testSim() *Simulator {
	return NewSimulator(config.SimulationConfig{
		DefaultOrderSizeUSD: 100,
		SlippageBps:         50,
		MaxFillDepthLevels:  10,
	})
}

func asks(levels ...types.OrderLevel) []types.OrderLevel { return levels }

func TestSimulateBuyFullFill(t *testing.T) {
	t.Parallel()

	// $40 into a $50-deep top level fills fully at that price.
	res := testSim().SimulateBuy(asks(
		types.OrderLevel{Price: 0.50, Size: 100},
	), 40)

	if !res.Filled {
		t.Fatalf("expected fill, reason %q", res.Reason)
	}
	if res.Reason != ReasonFullFill {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonFullFill)
	}
	if math.Abs(res.FillSizeUSD-40) > 1e-9 {
		t.Errorf("filled usd = %v, want 40", res.FillSizeUSD)
	}
	if math.Abs(res.FillSizeShares-80) > 1e-9 {
		t.Errorf("filled shares = %v, want 80", res.FillSizeShares)
	}
	if math.Abs(res.VWAP-0.50) > 1e-9 {
		t.Errorf("vwap = %v, want 0.50", res.VWAP)
	}
	if res.LevelsUsed != 1 {
		t.Errorf("levels used = %d, want 1", res.LevelsUsed)
	}
}

func TestSimulateBuyWalksLevels(t *testing.T) {
	t.Parallel()

	// First level holds $50; the remainder walks to the next inside the cap.
	res := testSim().SimulateBuy(asks(
		types.OrderLevel{Price: 0.500, Size: 100},
		types.OrderLevel{Price: 0.502, Size: 100},
	), 80)

	if !res.Filled || res.Reason != ReasonFullFill {
		t.Fatalf("expected full fill, got %+v", res)
	}
	if res.LevelsUsed != 2 {
		t.Errorf("levels used = %d, want 2", res.LevelsUsed)
	}
	if res.VWAP <= 0.500 || res.VWAP >= 0.502 {
		t.Errorf("vwap = %v, want between the two levels", res.VWAP)
	}
}

func TestSimulateBuySlippageCapStopsWalk(t *testing.T) {
	t.Parallel()

	// Cap = 0.50 * 1.005 = 0.5025, so the 0.51 level is unreachable.
	res := testSim().SimulateBuy(asks(
		types.OrderLevel{Price: 0.50, Size: 100},
		types.OrderLevel{Price: 0.51, Size: 1000},
	), 200)

	if !res.Filled {
		t.Fatalf("expected partial fill, reason %q", res.Reason)
	}
	if res.Reason != ReasonPartialFill {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonPartialFill)
	}
	if math.Abs(res.FillSizeUSD-50) > 1e-9 {
		t.Errorf("filled usd = %v, want 50 (one level only)", res.FillSizeUSD)
	}
	if res.LevelsUsed != 1 {
		t.Errorf("levels used = %d, want 1", res.LevelsUsed)
	}
}

func TestSimulateBuyNoLiquidity(t *testing.T) {
	t.Parallel()

	res := testSim().SimulateBuy(nil, 100)
	if res.Filled {
		t.Error("empty book must not fill")
	}
	if res.Reason != ReasonNoLiquidity {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonNoLiquidity)
	}
}

func TestSimulateBuyDepthLevelCap(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(config.SimulationConfig{SlippageBps: 10000, MaxFillDepthLevels: 2})
	res := sim.SimulateBuy(asks(
		types.OrderLevel{Price: 0.50, Size: 10},
		types.OrderLevel{Price: 0.51, Size: 10},
		types.OrderLevel{Price: 0.52, Size: 1000},
	), 1000)

	if res.LevelsUsed != 2 {
		t.Errorf("levels used = %d, want 2 (depth cap)", res.LevelsUsed)
	}
	if res.Reason != ReasonPartialFill {
		t.Errorf("reason = %q, want partial", res.Reason)
	}
}

func TestSimulateSell(t *testing.T) {
	t.Parallel()

	// $48 at top bid 0.96 targets 50 shares, all available at the top level.
	res := testSim().SimulateSell([]types.OrderLevel{
		{Price: 0.96, Size: 100},
	}, 48)

	if !res.Filled || res.Reason != ReasonFullFill {
		t.Fatalf("expected full fill, got %+v", res)
	}
	if math.Abs(res.FillSizeShares-50) > 1e-9 {
		t.Errorf("shares = %v, want 50", res.FillSizeShares)
	}
	if math.Abs(res.FillSizeUSD-48) > 1e-9 {
		t.Errorf("usd = %v, want 48", res.FillSizeUSD)
	}
	if math.Abs(res.VWAP-0.96) > 1e-9 {
		t.Errorf("vwap = %v, want 0.96", res.VWAP)
	}
}

func TestSimulateSellEmptyBook(t *testing.T) {
	t.Parallel()

	res := testSim().SimulateSell(nil, 100)
	if res.Filled {
		t.Error("empty bid book must not fill")
	}
}

func TestRescaleProportional(t *testing.T) {
	t.Parallel()

	fill := types.FillResult{
		Filled:         true,
		FillSizeUSD:    100,
		FillSizeShares: 200,
		VWAP:           0.50,
		LevelsUsed:     2,
		Reason:         ReasonFullFill,
	}
	out := Rescale(fill, 50)
	if math.Abs(out.FillSizeUSD-50) > 1e-9 {
		t.Errorf("usd = %v, want 50", out.FillSizeUSD)
	}
	if math.Abs(out.FillSizeShares-100) > 1e-9 {
		t.Errorf("shares = %v, want 100", out.FillSizeShares)
	}
	if out.VWAP != fill.VWAP {
		t.Errorf("vwap changed: %v", out.VWAP)
	}

	// Upscaling is refused: the original fill is the ceiling.
	same := Rescale(fill, 200)
	if same.FillSizeUSD != 100 {
		t.Errorf("upscale should be a no-op, got %v", same.FillSizeUSD)
	}
}
