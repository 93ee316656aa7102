package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for exercising the L2 paths.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (s *memStore) Save(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) Close() error { return nil }

// opaqueStore hides memStore's key listing.
type opaqueStore struct{ s *memStore }

func (o opaqueStore) Load(ctx context.Context, key string) ([]byte, error) { return o.s.Load(ctx, key) }
func (o opaqueStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return o.s.Save(ctx, key, data, ttl)
}
func (o opaqueStore) Delete(ctx context.Context, key string) error { return o.s.Delete(ctx, key) }
func (o opaqueStore) Close() error                                 { return nil }

func okOutcome(id VideoID, text string) Outcome {
	return Succeeded(id, "a", "en", []Entry{{Text: text, Start: 1, Duration: 2}})
}

func TestCacheKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, CacheKey("abc", "en"), CacheKey("abc", "en"))
	})
	t.Run("language matters", func(t *testing.T) {
		assert.NotEqual(t, CacheKey("abc", "en"), CacheKey("abc", "de"))
	})
	t.Run("no separator collisions", func(t *testing.T) {
		assert.NotEqual(t, CacheKey("ab", "cen"), CacheKey("abc", "en"))
	})
	t.Run("has prefix", func(t *testing.T) {
		assert.Equal(t, "tr:", CacheKey("abc", "en")[:3])
	})
	t.Run("parses back", func(t *testing.T) {
		id, lang, ok := parseCacheKey(CacheKey(testVideo, "pt-br"))
		require.True(t, ok)
		assert.Equal(t, VideoID(testVideo), id)
		assert.Equal(t, "pt-br", lang)
		_, _, ok = parseCacheKey("other:key")
		assert.False(t, ok)
	})
}

func TestTieredCache_RoundTrip(t *testing.T) {
	c := NewTieredCache(time.Minute, 10, WithCacheClock(newFakeClock()))
	ctx := context.Background()

	_, ok := c.Get(ctx, testVideo, "en")
	assert.False(t, ok)

	c.Put(ctx, testVideo, "en", okOutcome(testVideo, "hello"))
	got, ok := c.Get(ctx, testVideo, "en")
	require.True(t, ok)
	assert.Equal(t, "hello", got.Entries[0].Text)

	got.Entries[0].Text = "mutated"
	again, _ := c.Get(ctx, testVideo, "en")
	assert.Equal(t, "hello", again.Entries[0].Text, "cached entries are copied out")

	assert.Equal(t, CacheStats{Hits: 2, Misses: 1, Entries: 1}, c.Stats())
}

func TestTieredCache_FailuresNotStored(t *testing.T) {
	c := NewTieredCache(time.Minute, 10)
	c.Put(context.Background(), testVideo, "en", Terminal(testVideo, "a", "en", "nope"))
	_, ok := c.Get(context.Background(), testVideo, "en")
	assert.False(t, ok)
}

func TestTieredCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	c := NewTieredCache(time.Minute, 10, WithStore(store), WithCacheClock(clock))
	ctx := context.Background()

	c.Put(ctx, testVideo, "en", okOutcome(testVideo, "x"))
	clock.Advance(59 * time.Second)
	_, ok := c.Get(ctx, testVideo, "en")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, testVideo, "en")
	assert.False(t, ok, "expired records are misses in both tiers")
	assert.Contains(t, store.deleted, CacheKey(testVideo, "en"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestTieredCache_L2Warmup(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	ctx := context.Background()

	NewTieredCache(time.Hour, 10, WithStore(store), WithCacheClock(clock)).
		Put(ctx, testVideo, "en", okOutcome(testVideo, "persisted"))

	// a fresh process sees only L2
	fresh := NewTieredCache(time.Hour, 10, WithStore(store), WithCacheClock(clock))
	got, ok := fresh.Get(ctx, testVideo, "en")
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Entries[0].Text)
	assert.Equal(t, 1, fresh.Stats().Entries, "L2 hit populates L1")
}

func TestTieredCache_L2WarmupRespectsMaxEntries(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	ctx := context.Background()

	seed := NewTieredCache(time.Hour, 10, WithStore(store), WithCacheClock(clock))
	ids := []VideoID{"video000000", "video000001", "video000002"}
	for _, id := range ids {
		seed.Put(ctx, id, "en", okOutcome(id, "x"))
		clock.Advance(time.Second)
	}

	fresh := NewTieredCache(time.Hour, 2, WithStore(store), WithCacheClock(clock))
	for _, id := range ids {
		_, ok := fresh.Get(ctx, id, "en")
		require.True(t, ok, id)
	}
	assert.Equal(t, 2, fresh.Stats().Entries)
}

func TestTieredCache_CorruptRecordIsMiss(t *testing.T) {
	store := newMemStore()
	key := CacheKey(testVideo, "en")
	store.data[key] = []byte("{not json")
	c := NewTieredCache(time.Hour, 10, WithStore(store))

	_, ok := c.Get(context.Background(), testVideo, "en")
	assert.False(t, ok)
	assert.NotContains(t, store.data, key, "corrupt record is removed")
}

func TestTieredCache_StoredFailureIsMiss(t *testing.T) {
	store := newMemStore()
	key := CacheKey(testVideo, "en")
	store.data[key] = []byte(`{"expires_at":"2999-01-01T00:00:00Z","outcome":{"success":false}}`)
	c := NewTieredCache(time.Hour, 10, WithStore(store))

	_, ok := c.Get(context.Background(), testVideo, "en")
	assert.False(t, ok)
}

func TestTieredCache_EvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := NewTieredCache(time.Hour, 3, WithCacheClock(clock))
	ctx := context.Background()

	for i := range 4 {
		id := VideoID(fmt.Sprintf("video%06d", i))
		c.Put(ctx, id, "en", okOutcome(id, "x"))
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, c.Stats().Entries)
	_, ok := c.Get(ctx, "video000000", "en")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get(ctx, "video000003", "en")
	assert.True(t, ok)
}

func TestTieredCache_EvictsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	c := NewTieredCache(time.Minute, 2, WithCacheClock(clock))
	ctx := context.Background()

	c.Put(ctx, "old00000000", "en", okOutcome("old00000000", "x"))
	clock.Advance(2 * time.Minute)
	c.Put(ctx, "new00000001", "en", okOutcome("new00000001", "x"))
	c.Put(ctx, "new00000002", "en", okOutcome("new00000002", "x"))

	for _, id := range []VideoID{"new00000001", "new00000002"} {
		_, ok := c.Get(ctx, id, "en")
		assert.True(t, ok, id)
	}
}

func TestTieredCache_Invalidate(t *testing.T) {
	store := newMemStore()
	c := NewTieredCache(time.Hour, 10, WithStore(store))
	ctx := context.Background()

	c.Put(ctx, testVideo, "en", okOutcome(testVideo, "x"))
	c.Put(ctx, testVideo, "de", okOutcome(testVideo, "y"))
	c.Invalidate(ctx, testVideo, "en")

	_, ok := c.Get(ctx, testVideo, "en")
	assert.False(t, ok)
	_, ok = c.Get(ctx, testVideo, "de")
	assert.True(t, ok, "other languages untouched")
}

func TestTieredCache_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewTieredCache(time.Minute, 0, WithCacheClock(clock))
	ctx := context.Background()
	c.Put(ctx, "aaaaaaaaaaa", "en", okOutcome("aaaaaaaaaaa", "x"))
	clock.Advance(30 * time.Second)
	c.Put(ctx, "bbbbbbbbbbb", "en", okOutcome("bbbbbbbbbbb", "x"))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, c.purgeExpired())
	assert.Equal(t, 1, c.Stats().Entries)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close is idempotent")
}

func TestTieredCache_Clear(t *testing.T) {
	const other = VideoID("video000001")
	store := newMemStore()
	ctx := context.Background()

	seed := NewTieredCache(time.Hour, 10, WithStore(store))
	seed.Put(ctx, testVideo, "en", okOutcome(testVideo, "a"))
	seed.Put(ctx, testVideo, "de", okOutcome(testVideo, "b"))
	seed.Put(ctx, other, "en", okOutcome(other, "c"))

	// L1 of a fresh cache holds only one record; the rest live in L2
	c := NewTieredCache(time.Hour, 10, WithStore(store))
	_, ok := c.Get(ctx, other, "en")
	require.True(t, ok)

	t.Run("one video, all languages", func(t *testing.T) {
		n, err := c.Clear(ctx, testVideo, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		keys, _ := store.Keys(ctx, "")
		assert.Equal(t, []string{CacheKey(other, "en")}, keys)
	})

	t.Run("one language, all videos", func(t *testing.T) {
		seed.Put(ctx, testVideo, "de", okOutcome(testVideo, "b"))
		n, err := c.Clear(ctx, "", "en")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "L1 and L2 copies count once")
		_, ok := c.Get(ctx, other, "en")
		assert.False(t, ok)
		_, ok = c.Get(ctx, testVideo, "de")
		assert.True(t, ok)
	})

	t.Run("everything", func(t *testing.T) {
		n, err := c.Clear(ctx, "", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, store.data)
		assert.Equal(t, 0, c.Stats().Entries)
	})
}

func TestTieredCache_ClearWithoutKeyListing(t *testing.T) {
	inner := newMemStore()
	c := NewTieredCache(time.Hour, 10, WithStore(opaqueStore{s: inner}))
	ctx := context.Background()
	c.Put(ctx, testVideo, "en", okOutcome(testVideo, "a"))
	c.Put(ctx, testVideo, "de", okOutcome(testVideo, "b"))

	n, err := c.Clear(ctx, testVideo, "en")
	require.NoError(t, err, "exact key needs no listing")
	assert.Equal(t, 1, n)

	n, err = c.Clear(ctx, testVideo, "")
	assert.ErrorIs(t, err, ErrBulkClearUnsupported)
	assert.Equal(t, 1, n, "L1 is still cleared")
	assert.Equal(t, 0, c.Stats().Entries)
}
