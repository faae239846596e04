package strategy

import (
	"fmt"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// EVModel computes the expected value of buying NO at a given entry price.
//
// The gross term multiplies (1−entry) twice: once as the market-implied NO
// failure probability and once as the per-share payout. That double use is
// the intended conservative estimator and must not be "fixed".
type EVModel struct {
	cfg config.FeesConfig
}

// NewEVModel creates the EV model from the fees config.
func NewEVModel(cfg config.FeesConfig) *EVModel {
	return &EVModel{cfg: cfg}
}

// Mode returns the configured EV mode.
func (e *EVModel) Mode() types.StrategyMode {
	if e.cfg.EVMode == "capture" {
		return types.ModeCapture
	}
	return types.ModeBaseline
}

// Evaluate produces the EV breakdown for a sized entry. filterFlags carries
// the filter's RESOLUTION_AMBIGUOUS flag, which scales the tail probability.
func (e *EVModel) Evaluate(m types.NormalizedMarket, entryPrice, sizeUSD float64, filterFlags []string) types.EVResult {
	mode := e.Mode()
	shares := 0.0
	if entryPrice > 0 {
		shares = sizeUSD / entryPrice
	}

	gross := (1 - entryPrice) * (1 - entryPrice) * shares
	fees := sizeUSD * (e.cfg.FeeBps / 10000)

	ambiguous := false
	for _, fl := range filterFlags {
		if fl == types.FlagResolutionAmbiguous {
			ambiguous = true
		}
	}

	res := types.EVResult{
		GrossEV:      gross,
		FeesEstimate: fees,
		Mode:         mode,
		Assumptions: map[string]any{
			"entry_price":        entryPrice,
			"size_usd":           sizeUSD,
			"shares":             shares,
			"fee_bps":            e.cfg.FeeBps,
			"p_tail":             e.cfg.PTail,
			"tail_loss_fraction": e.cfg.TailLossFraction,
			"ev_mode":            string(mode),
			"ambiguous":          ambiguous,
		},
	}

	if mode == types.ModeCapture {
		res.TailRiskCost = 0
		res.TailBypass = "Y"
		res.TailBypassReason = "capture_mode"
	} else {
		pTail := e.cfg.PTail
		if ambiguous {
			pTail *= e.cfg.AmbiguousPTailMultiplier
			res.Assumptions["p_tail_effective"] = pTail
		}
		res.TailRiskCost = pTail * e.cfg.TailLossFraction * shares
	}

	res.NetEV = res.GrossEV - res.FeesEstimate - res.TailRiskCost

	res.Explanation = []string{
		fmt.Sprintf("entry %.4f, %.4f shares for $%.2f", entryPrice, shares, sizeUSD),
		fmt.Sprintf("gross_ev = (1-%.4f)^2 * shares = %.4f", entryPrice, res.GrossEV),
		fmt.Sprintf("fees = %.4f (%.0f bps)", res.FeesEstimate, e.cfg.FeeBps),
	}
	if res.TailBypass == "Y" {
		res.Explanation = append(res.Explanation, "tail_risk_cost = 0 (capture mode bypass)")
	} else {
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("tail_risk_cost = %.4f (p_tail=%.3f, loss_fraction=%.2f, ambiguous=%v)",
				res.TailRiskCost, e.cfg.PTail, e.cfg.TailLossFraction, ambiguous))
	}
	res.Explanation = append(res.Explanation, fmt.Sprintf("net_ev = %.4f", res.NetEV))

	return res
}
