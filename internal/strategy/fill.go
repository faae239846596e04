package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// Fill reasons returned by the simulator.
const (
	ReasonFullFill    = "full fill"
	ReasonPartialFill = "partial fill (insufficient depth)"
	ReasonNoLiquidity = "no liquidity within slippage or depth"
)

// Simulator walks order book depth to estimate the fill a taker order would
// get. Cash and share totals accumulate as decimals so a long walk doesn't
// drift; results convert back to float64 at the boundary.
type Simulator struct {
	cfg config.SimulationConfig
}

// NewSimulator creates a fill simulator.
func NewSimulator(cfg config.SimulationConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// SimulateBuy walks ascending ask levels for sizeUSD of notional, capped at
// bestAsk*(1+slippage_bps/10000) and max_fill_depth_levels deep.
func (s *Simulator) SimulateBuy(asks []types.OrderLevel, sizeUSD float64) types.FillResult {
	if len(asks) == 0 || sizeUSD <= 0 {
		return types.FillResult{Reason: ReasonNoLiquidity}
	}

	bestAsk := asks[0].Price
	priceCap := bestAsk * (1 + s.cfg.SlippageBps/10000)

	remaining := decimal.NewFromFloat(sizeUSD)
	totalUSD := decimal.Zero
	shares := decimal.Zero
	levelsUsed := 0

	maxLevels := s.cfg.MaxFillDepthLevels
	if maxLevels <= 0 {
		maxLevels = len(asks)
	}

	for i, lvl := range asks {
		if i >= maxLevels || lvl.Price > priceCap || !remaining.IsPositive() {
			break
		}
		price := decimal.NewFromFloat(lvl.Price)
		levelUSD := price.Mul(decimal.NewFromFloat(lvl.Size))
		take := decimal.Min(remaining, levelUSD)
		if !take.IsPositive() {
			continue
		}

		totalUSD = totalUSD.Add(take)
		shares = shares.Add(take.Div(price))
		remaining = remaining.Sub(take)
		levelsUsed++
	}

	if !shares.IsPositive() {
		return types.FillResult{Reason: ReasonNoLiquidity}
	}

	reason := ReasonFullFill
	if remaining.IsPositive() {
		reason = ReasonPartialFill
	}

	usd, _ := totalUSD.Float64()
	sh, _ := shares.Float64()
	vwap, _ := totalUSD.Div(shares).Float64()

	return types.FillResult{
		Filled:         true,
		FillSizeUSD:    usd,
		FillSizeShares: sh,
		VWAP:           vwap,
		LevelsUsed:     levelsUsed,
		Reason:         reason,
	}
}

// SimulateSell walks descending bid levels, converting sizeUSD to a share
// target at the top bid. Used by the /fill endpoint's sell direction.
func (s *Simulator) SimulateSell(bids []types.OrderLevel, sizeUSD float64) types.FillResult {
	if len(bids) == 0 || sizeUSD <= 0 || bids[0].Price <= 0 {
		return types.FillResult{Reason: ReasonNoLiquidity}
	}

	topBid := bids[0].Price
	floor := topBid * (1 - s.cfg.SlippageBps/10000)

	remaining := decimal.NewFromFloat(sizeUSD / topBid) // target shares
	totalUSD := decimal.Zero
	shares := decimal.Zero
	levelsUsed := 0

	maxLevels := s.cfg.MaxFillDepthLevels
	if maxLevels <= 0 {
		maxLevels = len(bids)
	}

	for i, lvl := range bids {
		if i >= maxLevels || lvl.Price < floor || !remaining.IsPositive() {
			break
		}
		price := decimal.NewFromFloat(lvl.Price)
		take := decimal.Min(remaining, decimal.NewFromFloat(lvl.Size))
		if !take.IsPositive() {
			continue
		}

		shares = shares.Add(take)
		totalUSD = totalUSD.Add(take.Mul(price))
		remaining = remaining.Sub(take)
		levelsUsed++
	}

	if !shares.IsPositive() {
		return types.FillResult{Reason: ReasonNoLiquidity}
	}

	reason := ReasonFullFill
	if remaining.IsPositive() {
		reason = ReasonPartialFill
	}

	usd, _ := totalUSD.Float64()
	sh, _ := shares.Float64()
	vwap, _ := totalUSD.Div(shares).Float64()

	return types.FillResult{
		Filled:         true,
		FillSizeUSD:    usd,
		FillSizeShares: sh,
		VWAP:           vwap,
		LevelsUsed:     levelsUsed,
		Reason:         reason,
	}
}

// Rescale shrinks a fill to a reduced USD size at the same VWAP, used when
// the risk engine admits a proposal at suggested_size.
func Rescale(fill types.FillResult, newSizeUSD float64) types.FillResult {
	if !fill.Filled || fill.FillSizeUSD <= 0 || newSizeUSD >= fill.FillSizeUSD {
		return fill
	}
	ratio := newSizeUSD / fill.FillSizeUSD
	fill.FillSizeUSD = newSizeUSD
	fill.FillSizeShares *= ratio
	return fill
}
