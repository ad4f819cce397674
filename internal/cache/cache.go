// Package cache implements the CDN's in-memory caching engine: a bounded
// byte-weighted store with per-entry TTLs in front of an object-storage
// origin, with request coalescing so at most one origin fetch is ever in
// flight per cache key.
package cache

import (
	"context"
	"log/slog"

	"github.com/hivecast/cdncache/pkg/metrics"
)

// Cache orchestrates the durable store, the single-flight registry and the
// origin fetcher behind one HandleRequest operation. One Cache instance is
// shared by all request handlers in the process.
type Cache struct {
	store   *Store
	flights *FlightGroup
	origin  *OriginFetcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New assembles the engine from its parts.
func New(store *Store, origin *OriginFetcher, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		store:   store,
		flights: NewFlightGroup(),
		origin:  origin,
		metrics: m,
		logger:  logger,
	}
}

// HandleRequest resolves key to a response, consulting the durable store
// first and falling back to a coalesced origin fetch. Concurrent requests
// for the same cold key share a single origin call and all receive the same
// settled result.
//
// The origin fetch runs on a context detached from ctx's cancellation: a
// caller that goes away must not cancel work that coalesced followers are
// waiting on.
func (c *Cache) HandleRequest(ctx context.Context, key CacheKey) *CachedResponse {
	if hit, ok := c.store.Get(key); ok {
		c.metrics.RecordAction(metrics.ActionHit)
		return hit
	}

	res, coalesced := c.flights.Do(key, func() *CachedResponse {
		return c.lead(ctx, key)
	})
	if coalesced {
		c.metrics.RecordAction(metrics.ActionCoalesced)
	}
	return res
}

// lead is the leader branch of the coalescing state machine: re-check the
// store, fetch from the origin on a true miss, and durably store cacheable
// results.
func (c *Cache) lead(ctx context.Context, key CacheKey) *CachedResponse {
	// Another request may have settled and stored this key between our
	// store check and winning the registry slot.
	if cached, ok := c.store.Get(key); ok {
		c.logger.Debug("rebound hit", "key", key.String())
		c.metrics.RecordAction(metrics.ActionReboundHit)
		return cached
	}

	c.metrics.RecordAction(metrics.ActionMiss)
	res := c.origin.Fetch(context.WithoutCancel(ctx), key)
	if res.MaxAge > 0 {
		c.store.Insert(key, res)
		c.logger.Debug("cached", "key", key.String(), "max_age", res.MaxAge)
	}
	return res
}

// Purge drops key from the durable store. The next request for it goes back
// to the origin regardless of remaining TTL.
func (c *Cache) Purge(key CacheKey) {
	c.logger.Info("purging key", "key", key.String())
	c.store.Invalidate(key)
}

// Capacity returns the store's byte budget.
func (c *Cache) Capacity() int64 {
	return c.store.Capacity()
}

// Entries returns the number of durably cached entries.
func (c *Cache) Entries() int {
	return c.store.Entries()
}

// Size returns the weighted size of the store in bytes.
func (c *Cache) Size() int64 {
	return c.store.WeightedSize()
}

// Inflight returns the number of origin fetches currently coordinating.
func (c *Cache) Inflight() int {
	return c.flights.Len()
}

// Metrics exposes the engine's counters for the stats surface.
func (c *Cache) Metrics() *metrics.Metrics {
	return c.metrics
}
