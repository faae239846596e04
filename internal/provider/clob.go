package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/book"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/config"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

const (
	fallbackCacheSize = 200
	fallbackCacheTTL  = 8 * time.Second
)

// priceLevel is the CLOB wire format: strings preserve decimal precision.
type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookResponse is the REST response from GET /book for a single token.
type bookResponse struct {
	Market  string       `json:"market"`
	AssetID string       `json:"asset_id"`
	Bids    []priceLevel `json:"bids"`
	Asks    []priceLevel `json:"asks"`
}

// Clob is the read-only CLOB REST client. It primes the local book store
// with snapshots and serves the short-TTL top-of-book HTTP fallback used by
// the carry selector and the /book endpoint.
type Clob struct {
	http        *resty.Client
	bookLimiter *rate.Limiter
	fallback    *lru.LRU[string, types.TopOfBook]
	logger      *slog.Logger
}

// NewClob creates a CLOB REST client.
func NewClob(cfg config.Config, logger *slog.Logger) *Clob {
	client := resty.New().
		SetBaseURL(cfg.API.ClobRestBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Clob{
		http:        client,
		bookLimiter: rate.NewLimiter(rate.Limit(15), 50),
		fallback:    lru.NewLRU[string, types.TopOfBook](fallbackCacheSize, nil, fallbackCacheTTL),
		logger:      logger.With("component", "clob"),
	}
}

// PrimeBooks fetches REST snapshots for the given token ids and applies them
// to the store. Failures are logged and skipped; the store keeps whatever it
// had for those assets.
func (c *Clob) PrimeBooks(ctx context.Context, store *book.Store, tokenIDs []string) int {
	primed := 0
	for _, id := range tokenIDs {
		if ctx.Err() != nil {
			return primed
		}
		resp, err := c.fetchBook(ctx, id)
		if err != nil {
			c.logger.Debug("book snapshot failed", "token", id, "error", err)
			continue
		}
		store.ApplySnapshot(id, parseLevels(resp.Bids), parseLevels(resp.Asks))
		primed++
	}
	return primed
}

// FetchTopOfBook fetches a top-of-book view over HTTP, behind a small TTL
// cache so carry retries within one cycle don't hammer the endpoint.
// Returns nil when the book is unavailable.
func (c *Clob) FetchTopOfBook(ctx context.Context, tokenID string) *types.TopOfBook {
	key := book.NormalizeKey(tokenID)
	if key == "" {
		return nil
	}
	if top, ok := c.fallback.Get(key); ok {
		out := top
		return &out
	}

	resp, err := c.fetchBook(ctx, tokenID)
	if err != nil {
		c.logger.Debug("top-of-book fallback failed", "token", tokenID, "error", err)
		return nil
	}

	top := topFromLevels(parseLevels(resp.Bids), parseLevels(resp.Asks))
	if top == nil {
		return nil
	}
	c.fallback.Add(key, *top)
	return top
}

func (c *Clob) fetchBook(ctx context.Context, tokenID string) (*bookResponse, error) {
	if err := c.bookLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d", resp.StatusCode())
	}
	return &result, nil
}

func parseLevels(raw []priceLevel) []types.OrderLevel {
	out := make([]types.OrderLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil || price < 0 || size <= 0 {
			continue
		}
		out = append(out, types.OrderLevel{Price: price, Size: size})
	}
	return out
}

// topFromLevels derives a TopOfBook from raw (unsorted) level slices.
func topFromLevels(bids, asks []types.OrderLevel) *types.TopOfBook {
	if len(bids) == 0 && len(asks) == 0 {
		return nil
	}

	top := &types.TopOfBook{}
	for _, lvl := range bids {
		if top.NoBid == nil || lvl.Price > *top.NoBid {
			p := lvl.Price
			top.NoBid = &p
		}
		top.Depth.BidLiquidityUSD += lvl.Price * lvl.Size
		top.Depth.LevelsCount++
	}
	for _, lvl := range asks {
		if top.NoAsk == nil || lvl.Price < *top.NoAsk {
			p := lvl.Price
			top.NoAsk = &p
		}
		top.Depth.AskLiquidityUSD += lvl.Price * lvl.Size
		top.Depth.LevelsCount++
	}
	if top.NoBid != nil && top.NoAsk != nil {
		spread := *top.NoAsk - *top.NoBid
		top.Spread = &spread
	}
	return top
}
