package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// entryOverhead approximates the bookkeeping cost of one entry (key, list
// element, timestamps) so zero-length bodies still carry weight against the
// byte budget.
const entryOverhead = 128

type storeEntry struct {
	key       CacheKey
	res       *CachedResponse
	weight    int64
	expiresAt time.Time
}

// Store is a bounded, byte-weighted cache with a per-entry TTL. Eviction is
// recency-based: inserting under capacity pressure discards the least
// recently used entries until the newcomer fits. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	index    map[CacheKey]*list.Element
	order    *list.List // front is most recently used

	now func() time.Time
}

// NewStore creates a store bounded by capacity bytes. A non-positive
// capacity is rejected: an unbounded store is an OOM waiting to happen, not
// a configuration.
func NewStore(capacity int64) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("store capacity must be positive, got %d", capacity)
	}
	return &Store{
		capacity: capacity,
		index:    make(map[CacheKey]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}, nil
}

// Get returns the cached result for key if present and still fresh. Expired
// entries are dropped on sight and reported as absent.
func (s *Store) Get(key CacheKey) (*CachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*storeEntry)
	if !s.now().Before(ent.expiresAt) {
		s.removeLocked(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return ent.res, true
}

// Insert stores res under key. Results with MaxAge == 0 are never durably
// stored and the call is a no-op. Entries too large to fit even in an empty
// store are skipped so the capacity bound holds unconditionally.
func (s *Store) Insert(key CacheKey, res *CachedResponse) {
	if res.MaxAge == 0 {
		return
	}

	weight := int64(res.Response.BodyLen()) + entryOverhead
	if weight > s.capacity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		s.removeLocked(el)
	}
	for s.size+weight > s.capacity {
		s.removeLocked(s.order.Back())
	}

	ent := &storeEntry{
		key:       key,
		res:       res,
		weight:    weight,
		expiresAt: s.now().Add(res.MaxAge),
	}
	s.index[key] = s.order.PushFront(ent)
	s.size += weight
}

// Invalidate removes key from the store if present.
func (s *Store) Invalidate(key CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		s.removeLocked(el)
	}
}

// Entries returns the number of entries currently held, including any whose
// TTL has lapsed but which have not yet been dropped by a lookup or
// eviction.
func (s *Store) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// WeightedSize returns the summed weight of all held entries in bytes.
func (s *Store) WeightedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity returns the configured byte budget.
func (s *Store) Capacity() int64 {
	return s.capacity
}

func (s *Store) removeLocked(el *list.Element) {
	ent := el.Value.(*storeEntry)
	s.order.Remove(el)
	delete(s.index, ent.key)
	s.size -= ent.weight
}
