package cache

import "sync"

// inflightEntry coordinates one in-progress fetch. The leader writes result
// exactly once and then closes settled; followers block on settled and read
// result afterwards. The channel close is the only synchronization between
// the two sides.
type inflightEntry struct {
	settled chan struct{}
	result  *CachedResponse
}

// FlightGroup guarantees at most one in-flight fetch per cache key. It is
// the engine's single-flight registry: many callers may coordinate on the
// same key simultaneously, but exactly one of them (the leader) runs the
// fetch while the rest (followers) wait for its outcome. Distinct keys
// proceed fully independently.
type FlightGroup struct {
	mu      sync.Mutex
	flights map[CacheKey]*inflightEntry
}

// NewFlightGroup creates an empty registry.
func NewFlightGroup() *FlightGroup {
	return &FlightGroup{flights: make(map[CacheKey]*inflightEntry)}
}

// Do runs fetch for key with single-flight semantics. The first caller for
// a key becomes the leader and executes fetch; concurrent callers for the
// same key block until the leader settles and then receive the same result.
// The second return value reports whether this caller was coalesced onto
// another caller's fetch.
//
// The registry entry is removed and the settle signal fired on every leader
// exit path, including a panic inside fetch. A panicking leader leaves the
// result slot empty; followers observing that get a generic internal-error
// result instead of hanging, and the panic itself propagates only to the
// leader's caller.
func (g *FlightGroup) Do(key CacheKey, fetch func() *CachedResponse) (*CachedResponse, bool) {
	g.mu.Lock()
	if e, ok := g.flights[key]; ok {
		g.mu.Unlock()
		<-e.settled
		if e.result == nil {
			return InternalErrorResponse(), true
		}
		return e.result, true
	}

	e := &inflightEntry{settled: make(chan struct{})}
	g.flights[key] = e
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.flights, key)
		g.mu.Unlock()
		close(e.settled)
	}()

	e.result = fetch()
	return e.result, false
}

// Len reports the number of fetches currently in flight.
func (g *FlightGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}
