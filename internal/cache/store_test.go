package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets store tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, capacity int64) (*Store, *fakeClock) {
	t.Helper()
	store, err := NewStore(capacity)
	require.NoError(t, err)
	clock := newFakeClock()
	store.now = clock.Now
	return store, clock
}

func bytesResult(body string, maxAge time.Duration) *CachedResponse {
	return BytesResponse("image/webp", []byte(body), maxAge)
}

func TestNewStoreRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewStore(0)
	assert.Error(t, err)
	_, err = NewStore(-1)
	assert.Error(t, err)
}

func TestStoreInsertAndGet(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	key := EmoteKey("e1", "1x.webp")

	_, ok := store.Get(key)
	assert.False(t, ok)

	res := bytesResult("payload", time.Hour)
	store.Insert(key, res)

	got, ok := store.Get(key)
	require.True(t, ok)
	assert.Same(t, res, got)
	assert.Equal(t, 1, store.Entries())
}

func TestStoreNeverStoresZeroMaxAge(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	key := EmoteKey("e1", "1x.webp")

	store.Insert(key, InternalErrorResponse())

	_, ok := store.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Entries())
	assert.Zero(t, store.WeightedSize())
}

func TestStorePerEntryTTL(t *testing.T) {
	store, clock := newTestStore(t, 1<<20)
	short := EmoteKey("short", "1x.webp")
	long := EmoteKey("long", "1x.webp")

	store.Insert(short, bytesResult("a", 10*time.Second))
	store.Insert(long, bytesResult("b", time.Hour))

	clock.Advance(9 * time.Second)
	_, ok := store.Get(short)
	assert.True(t, ok, "entry should be fresh just before its TTL")

	clock.Advance(time.Second)
	_, ok = store.Get(short)
	assert.False(t, ok, "entry at exactly its TTL is stale")
	_, ok = store.Get(long)
	assert.True(t, ok, "other entries keep their own TTL")
}

func TestStoreExpiredEntryDroppedOnLookup(t *testing.T) {
	store, clock := newTestStore(t, 1<<20)
	key := EmoteKey("e1", "1x.webp")

	store.Insert(key, bytesResult("payload", time.Second))
	require.Equal(t, 1, store.Entries())

	clock.Advance(2 * time.Second)
	_, ok := store.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Entries())
	assert.Zero(t, store.WeightedSize())
}

func TestStoreInvalidate(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	key := BadgeKey("b1", "1x.webp")

	store.Insert(key, bytesResult("payload", time.Hour))
	store.Invalidate(key)

	_, ok := store.Get(key)
	assert.False(t, ok)
	assert.Zero(t, store.WeightedSize())

	// Invalidating a missing key is a no-op.
	store.Invalidate(key)
}

func TestStoreCapacityBoundHolds(t *testing.T) {
	const capacity = 3 * (100 + entryOverhead)
	store, _ := newTestStore(t, capacity)

	body := make([]byte, 100)
	for i := 0; i < 10; i++ {
		store.Insert(EmoteKey("e", string(rune('a'+i))), BytesResponse("", body, time.Hour))
		assert.LessOrEqual(t, store.WeightedSize(), int64(capacity))
	}
	assert.Equal(t, 3, store.Entries())
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	const capacity = 2 * (10 + entryOverhead)
	store, _ := newTestStore(t, capacity)

	a := EmoteKey("a", "1x")
	b := EmoteKey("b", "1x")
	c := EmoteKey("c", "1x")
	body := make([]byte, 10)

	store.Insert(a, BytesResponse("", body, time.Hour))
	store.Insert(b, BytesResponse("", body, time.Hour))

	// Touch a so b becomes the eviction candidate.
	_, ok := store.Get(a)
	require.True(t, ok)

	store.Insert(c, BytesResponse("", body, time.Hour))

	_, ok = store.Get(a)
	assert.True(t, ok, "recently used entry survives")
	_, ok = store.Get(b)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = store.Get(c)
	assert.True(t, ok)
}

func TestStoreSkipsEntryLargerThanCapacity(t *testing.T) {
	store, _ := newTestStore(t, 256)
	small := EmoteKey("small", "1x")
	store.Insert(small, BytesResponse("", make([]byte, 64), time.Hour))

	huge := EmoteKey("huge", "1x")
	store.Insert(huge, BytesResponse("", make([]byte, 1024), time.Hour))

	_, ok := store.Get(huge)
	assert.False(t, ok)
	_, ok = store.Get(small)
	assert.True(t, ok, "oversized insert must not evict existing entries")
	assert.LessOrEqual(t, store.WeightedSize(), store.Capacity())
}

func TestStoreReinsertReplacesWeight(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	key := MiscKey("banner.png")

	store.Insert(key, BytesResponse("", make([]byte, 100), time.Hour))
	first := store.WeightedSize()
	store.Insert(key, BytesResponse("", make([]byte, 300), time.Hour))

	assert.Equal(t, 1, store.Entries())
	assert.Equal(t, first+200, store.WeightedSize())
}
