// Package provider implements the upstream market data adapters: Gamma
// market listing, CLOB REST book snapshots with an HTTP top-of-book
// fallback, and the market WebSocket ingest loop.
//
// All transport failures are absorbed here: callers receive empty data and
// the scan cycle simply yields fewer candidates. Every REST call sits behind
// a token-bucket rate limiter.
package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// gammaMarket is the JSON shape returned by the Gamma API.
type gammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Active       bool    `json:"active"`
	Closed       bool    `json:"closed"`
	EndDate      string  `json:"endDate"`
	EndDateISO   string  `json:"endDateIso"`
	UmaEndDate   string  `json:"umaEndDate"`
	Liquidity    string  `json:"liquidity"`
	Outcomes     string  `json:"outcomes"`
	ClobTokenIds string  `json:"clobTokenIds"`
	Spread       float64 `json:"spread"`
}

// Gamma lists active markets from the Gamma API, paginated.
type Gamma struct {
	http    *resty.Client
	limiter *rate.Limiter
	cfg     config.ScannerConfig
	logger  *slog.Logger
}

// NewGamma creates a Gamma market lister.
func NewGamma(cfg config.Config, logger *slog.Logger) *Gamma {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Gamma{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(4), 10),
		cfg:     cfg.Scanner,
		logger:  logger.With("component", "gamma"),
	}
}

// ActiveMarkets fetches up to MaxPages pages of active, open markets and
// normalizes them. Transport failures return whatever pages succeeded.
func (g *Gamma) ActiveMarkets(ctx context.Context) []types.NormalizedMarket {
	var all []types.NormalizedMarket

	limit := g.cfg.PageSize
	if limit <= 0 {
		limit = 100
	}
	maxPages := g.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	offset := 0
	for page := 0; page < maxPages; page++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return all
		}

		var raw []gammaMarket
		resp, err := g.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&raw).
			Get("/markets")
		if err != nil {
			g.logger.Warn("market page fetch failed", "offset", offset, "error", err)
			return all
		}
		if resp.StatusCode() != 200 {
			g.logger.Warn("market page fetch failed", "offset", offset, "status", resp.StatusCode())
			return all
		}

		for _, gm := range raw {
			all = append(all, normalizeMarket(gm))
		}

		if len(raw) < limit {
			break
		}
		offset += limit
	}

	return all
}

// normalizeMarket transforms a Gamma response row into the internal market
// type: parses JSON-encoded token ids and outcomes, resolves the end time
// from the candidate fields in priority order, and converts string numerics.
func normalizeMarket(gm gammaMarket) types.NormalizedMarket {
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var outcomes []string
	if gm.Outcomes != "" {
		_ = json.Unmarshal([]byte(gm.Outcomes), &outcomes)
	}

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		_ = json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs)
	}
	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	return types.NormalizedMarket{
		ID:            gm.ID,
		ConditionID:   gm.ConditionID,
		Question:      gm.Question,
		Outcomes:      outcomes,
		EndDate:       ResolveEndDate(gm.EndDate, gm.EndDateISO, gm.UmaEndDate),
		Category:      strings.TrimSpace(gm.Category),
		Rules:         gm.Description,
		YesTokenID:    yesToken,
		NoTokenID:     noToken,
		LiquidityHint: liquidity,
		Closed:        gm.Closed || !gm.Active,
	}
}

// ResolveEndDate returns the first parseable candidate, in priority order.
// Zero time when none parse.
func ResolveEndDate(candidates ...string) time.Time {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, c); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
