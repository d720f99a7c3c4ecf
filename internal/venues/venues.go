// Package venues resolves aggregated preferences to concrete restaurants.
// A fallback chain tries each configured provider in order behind a
// store-backed 24h cache; lookups degrade to an empty result, never an
// error, so callers can always fall through to generated suggestions.
package venues

import (
	"context"
	"time"

	"kanpai/internal/types"
)

// Query is a normalized venue lookup. Genre is a code "1"-"5", Budget a
// code "1"-"4"; Area is a gazetteer token or empty.
type Query struct {
	Genre  string
	Budget string
	Area   string
	Limit  int
}

// Provider is a single venue search backend.
type Provider interface {
	// Search returns up to Limit venues matching the query. An error means
	// the provider is unavailable; the chain moves on to the next one.
	Search(ctx context.Context, q Query) ([]types.Venue, error)

	// Name identifies the provider in logs.
	Name() string
}

// Cache is the subset of the record store the chain needs.
type Cache interface {
	CacheGet(key string, now time.Time) ([]types.Venue, bool, error)
	CachePut(entry types.CacheEntry) error
}
