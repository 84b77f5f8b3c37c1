package price

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

type currentQuote struct {
	price decimal.Decimal
	ok    bool
}

// HistoricalTTL bounds how long a historical quote stays cached
const HistoricalTTL = 24 * time.Hour

// CachedLookup decorates a PriceLookup with an in-process cache and a request
// rate limit. Historical quotes are kept for HistoricalTTL; current quotes
// expire after the configured TTL.
type CachedLookup struct {
	next       domain.PriceLookup
	cache      *cache.Cache
	historyTTL time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewCachedLookup wraps next. ratePerSecond <= 0 disables throttling.
func NewCachedLookup(next domain.PriceLookup, ttl time.Duration, ratePerSecond float64, burst int, logger *slog.Logger) *CachedLookup {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &CachedLookup{
		next:       next,
		cache:      cache.New(ttl, 2*ttl),
		historyTTL: HistoricalTTL,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// HistoricalPrice implements domain.PriceLookup
func (c *CachedLookup) HistoricalPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	key := fmt.Sprintf("hist:%s:%d", token, at.UTC().Unix())
	if v, found := c.cache.Get(key); found {
		return v.(decimal.Decimal), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("price lookup throttled: %w", err)
	}

	price, err := c.next.HistoricalPrice(ctx, token, at)
	if err != nil {
		return decimal.Zero, err
	}

	c.cache.Set(key, price, c.historyTTL)
	c.logger.Debug("historical price cached", "token", token, "at", at.UTC(), "cached_quotes", c.cache.ItemCount())
	return price, nil
}

// CurrentPrice implements domain.PriceLookup
func (c *CachedLookup) CurrentPrice(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	key := "current:" + token
	if v, found := c.cache.Get(key); found {
		q := v.(currentQuote)
		return q.price, q.ok, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, false, fmt.Errorf("price lookup throttled: %w", err)
	}

	price, ok, err := c.next.CurrentPrice(ctx, token)
	if err != nil {
		c.logger.Warn("current price lookup failed", "token", token, "error", err)
		return decimal.Zero, false, err
	}

	c.cache.Set(key, currentQuote{price: price, ok: ok}, cache.DefaultExpiration)
	return price, ok, nil
}
