package venues

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kanpai/internal/types"
)

// Chain runs a venue lookup through the cache and then each provider in
// order. Lookup never returns an error; exhausting the chain yields an
// empty slice and the caller falls back to generated text.
type Chain struct {
	cache       Cache
	providers   []Provider
	ttl         time.Duration
	timeout     time.Duration
	defaultArea string
	logger      *zap.Logger
}

// NewChain builds a lookup chain. Nil providers are dropped so callers can
// pass constructors of unconfigured backends directly.
func NewChain(cache Cache, providers []Provider, ttl, timeout time.Duration, defaultArea string, logger *zap.Logger) *Chain {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if defaultArea == "" {
		defaultArea = "東京"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		cache:       cache,
		providers:   kept,
		ttl:         ttl,
		timeout:     timeout,
		defaultArea: defaultArea,
		logger:      logger,
	}
}

// CacheKey normalizes a query to its cache key. A missing area folds into
// the default region so equivalent queries share one entry.
func (c *Chain) CacheKey(q Query) string {
	area := q.Area
	if area == "" {
		area = c.defaultArea
	}
	return fmt.Sprintf("%s|%s|%s", q.Genre, q.Budget, area)
}

// Lookup resolves a query to venues. Order: fresh cache entry, then each
// provider with a bounded per-call timeout. The first provider result with
// at least one venue is cached and returned.
func (c *Chain) Lookup(ctx context.Context, q Query) []types.Venue {
	if q.Area == "" {
		q.Area = c.defaultArea
	}
	key := c.CacheKey(q)
	now := time.Now()

	if c.cache != nil {
		if cached, hit, err := c.cache.CacheGet(key, now); err != nil {
			c.logger.Warn("venue cache read failed", zap.Error(err))
		} else if hit {
			c.logger.Debug("venue cache hit", zap.String("key", key))
			return cached
		}
	}

	for _, p := range c.providers {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		found, err := p.Search(callCtx, q)
		cancel()
		if err != nil {
			c.logger.Warn("venue provider failed",
				zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if len(found) == 0 {
			c.logger.Debug("venue provider returned nothing",
				zap.String("provider", p.Name()))
			continue
		}

		if c.cache != nil {
			if err := c.cache.CachePut(types.CacheEntry{
				Key:       key,
				Results:   found,
				ExpiresAt: now.Add(c.ttl),
			}); err != nil {
				c.logger.Warn("venue cache write failed", zap.Error(err))
			}
		}
		return found
	}

	c.logger.Debug("venue lookup exhausted", zap.String("key", key))
	return nil
}
