package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache maps (video, language) to a previously successful outcome.
type Cache interface {
	// Get returns the live outcome for the key. Expired or unreadable records are misses.
	Get(ctx context.Context, id VideoID, language string) (Outcome, bool)
	// Put stores a successful outcome. Failed outcomes are ignored.
	Put(ctx context.Context, id VideoID, language string, out Outcome)
}

// ErrCacheMiss is returned by Store.Load when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Store is a persistent second cache tier (Redis, SQLite, Postgres).
// Values are opaque serialized records; expiry is enforced by TieredCache on read,
// stores may additionally drop data after ttl.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// cacheRecord is the serialized form of a cached outcome.
type cacheRecord struct {
	VideoID   VideoID   `json:"video_id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Outcome   Outcome   `json:"outcome"`
}

const cacheKeyPrefix = "tr:"

// CacheKey builds the deterministic storage key for (video, language).
// Video ids never contain ':', so the key splits back unambiguously.
func CacheKey(id VideoID, language string) string {
	return cacheKeyPrefix + string(id) + ":" + language
}

// parseCacheKey is the inverse of CacheKey.
func parseCacheKey(key string) (VideoID, string, bool) {
	rest, ok := strings.CutPrefix(key, cacheKeyPrefix)
	if !ok {
		return "", "", false
	}
	id, language, ok := strings.Cut(rest, ":")
	return VideoID(id), language, ok
}

// ErrBulkClearUnsupported is returned when a partial clear cannot reach L2.
var ErrBulkClearUnsupported = errors.New("cache store cannot list keys")

// keyLister is implemented by stores that can enumerate keys for bulk clears.
type keyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// TieredCache implements L1 (memory) + optional L2 (Store) caching with TTL.
// L1 is fast but lost on restart. L2 survives restarts.
type TieredCache struct {
	l1         sync.Map // key → *cacheRecord
	l2         Store    // nil = memory only
	ttl        time.Duration
	maxEntries int
	clock      Clock

	putMu sync.Mutex // orders L1+L2 writes so both tiers agree on the last writer

	hits   atomic.Int64
	misses atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// CacheOption customizes a TieredCache.
type CacheOption func(*TieredCache)

// WithStore adds a persistent L2 tier.
func WithStore(s Store) CacheOption { return func(c *TieredCache) { c.l2 = s } }

// WithCacheClock replaces the clock used for expiry.
func WithCacheClock(clk Clock) CacheOption { return func(c *TieredCache) { c.clock = clk } }

// NewTieredCache creates a cache whose records live for ttl.
// maxEntries <= 0 means L1 is unbounded.
func NewTieredCache(ttl time.Duration, maxEntries int, opts ...CacheOption) *TieredCache {
	c := &TieredCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      SystemClock,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	slog.Info("cache: initialized", slog.Duration("ttl", ttl), slog.Bool("l2", c.l2 != nil), slog.Int("max_entries", maxEntries))
	return c
}

// Get tries L1, then L2. On L2 hit, populates L1.
func (c *TieredCache) Get(ctx context.Context, id VideoID, language string) (Outcome, bool) {
	key := CacheKey(id, language)
	now := c.clock.Now()

	if val, ok := c.l1.Load(key); ok {
		rec := val.(*cacheRecord)
		if now.Before(rec.ExpiresAt) {
			c.hits.Add(1)
			slog.Debug("cache: L1 hit", slog.String("id", string(id)), slog.String("lang", language))
			return rec.outcome(), true
		}
		// Only drop the record we observed; a concurrent Put may have replaced it.
		c.l1.CompareAndDelete(key, val)
	}

	if c.l2 != nil {
		if rec, ok := c.loadL2(ctx, key, now); ok {
			c.putMu.Lock()
			c.evictIfNeeded(key)
			c.l1.Store(key, rec)
			c.putMu.Unlock()
			c.hits.Add(1)
			slog.Debug("cache: L2 hit", slog.String("id", string(id)), slog.String("lang", language))
			return rec.outcome(), true
		}
	}

	c.misses.Add(1)
	return Outcome{}, false
}

func (c *TieredCache) loadL2(ctx context.Context, key string, now time.Time) (*cacheRecord, bool) {
	data, err := c.l2.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Debug("cache: L2 load failed", slog.Any("error", err))
		}
		return nil, false
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil || !rec.Outcome.Success {
		slog.Warn("cache: dropping corrupt L2 record", slog.String("key", key))
		c.deleteL2(ctx, key)
		return nil, false
	}
	if !now.Before(rec.ExpiresAt) {
		c.deleteL2(ctx, key)
		return nil, false
	}
	return &rec, true
}

func (c *TieredCache) deleteL2(ctx context.Context, key string) {
	if err := c.l2.Delete(ctx, key); err != nil {
		slog.Debug("cache: L2 delete failed", slog.Any("error", err))
	}
}

// Put stores out in both tiers. Unsuccessful outcomes are never cached.
func (c *TieredCache) Put(ctx context.Context, id VideoID, language string, out Outcome) {
	if !out.Success {
		return
	}
	now := c.clock.Now()
	rec := &cacheRecord{
		VideoID:   id,
		Language:  language,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Outcome:   out,
	}
	rec.Outcome.Entries = cloneEntries(out.Entries)
	key := CacheKey(id, language)

	c.putMu.Lock()
	defer c.putMu.Unlock()

	c.evictIfNeeded(key)
	c.l1.Store(key, rec)

	if c.l2 != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			slog.Debug("cache: encode failed", slog.Any("error", err))
			return
		}
		if err := c.l2.Save(ctx, key, data, c.ttl); err != nil {
			slog.Debug("cache: L2 set failed", slog.Any("error", err))
		}
	}
}

// Invalidate removes the record for (video, language) from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, id VideoID, language string) {
	key := CacheKey(id, language)
	c.putMu.Lock()
	defer c.putMu.Unlock()
	c.l1.Delete(key)
	if c.l2 != nil {
		c.deleteL2(ctx, key)
	}
}

// Clear removes every record matching id and language from both tiers.
// An empty id matches all videos, an empty language all languages.
// It returns the number of distinct keys removed.
func (c *TieredCache) Clear(ctx context.Context, id VideoID, language string) (int, error) {
	c.putMu.Lock()
	defer c.putMu.Unlock()

	removed := map[string]struct{}{}
	c.l1.Range(func(key, val any) bool {
		rec := val.(*cacheRecord)
		if (id == "" || rec.VideoID == id) && (language == "" || rec.Language == language) {
			c.l1.Delete(key)
			removed[key.(string)] = struct{}{}
		}
		return true
	})
	if c.l2 == nil {
		return len(removed), nil
	}

	if id != "" && language != "" {
		key := CacheKey(id, language)
		if _, err := c.l2.Load(ctx, key); err == nil {
			removed[key] = struct{}{}
		}
		c.deleteL2(ctx, key)
		return len(removed), nil
	}

	kl, ok := c.l2.(keyLister)
	if !ok {
		return len(removed), ErrBulkClearUnsupported
	}
	prefix := cacheKeyPrefix
	if id != "" {
		prefix = CacheKey(id, "")
	}
	keys, err := kl.Keys(ctx, prefix)
	if err != nil {
		return len(removed), fmt.Errorf("list L2 keys: %w", err)
	}
	for _, key := range keys {
		if _, lang, ok := parseCacheKey(key); !ok || (language != "" && lang != language) {
			continue
		}
		if err := c.l2.Delete(ctx, key); err != nil {
			return len(removed), fmt.Errorf("delete L2 key: %w", err)
		}
		removed[key] = struct{}{}
	}
	slog.Info("cache: cleared", slog.String("id", string(id)), slog.String("lang", language), slog.Int("removed", len(removed)))
	return len(removed), nil
}

// Stats returns current hit/miss counters and the L1 size.
func (c *TieredCache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.l1Len()}
}

func (c *TieredCache) l1Len() int {
	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// evictIfNeeded makes room for one more key when L1 is at maxEntries.
// Removes expired entries first, then the oldest. Caller holds putMu.
func (c *TieredCache) evictIfNeeded(incoming string) {
	if c.maxEntries <= 0 {
		return
	}
	if _, ok := c.l1.Load(incoming); ok {
		return // overwrite, size unchanged
	}
	count := c.l1Len()
	if count < c.maxEntries {
		return
	}

	// Phase 1: remove expired
	count -= c.purgeExpired()
	for count >= c.maxEntries {
		// Phase 2: remove oldest entry
		var oldestKey any
		var oldestAt time.Time
		c.l1.Range(func(key, val any) bool {
			rec := val.(*cacheRecord)
			if oldestKey == nil || rec.CreatedAt.Before(oldestAt) {
				oldestKey, oldestAt = key, rec.CreatedAt
			}
			return true
		})
		if oldestKey == nil {
			break
		}
		c.l1.Delete(oldestKey)
		count--
	}
}

// purgeExpired removes expired L1 records and reports how many were dropped.
func (c *TieredCache) purgeExpired() int {
	now := c.clock.Now()
	removed := 0
	c.l1.Range(func(key, val any) bool {
		if rec := val.(*cacheRecord); !now.Before(rec.ExpiresAt) {
			if c.l1.CompareAndDelete(key, val) {
				removed++
			}
		}
		return true
	})
	return removed
}

// purger is implemented by stores that keep expired rows until told otherwise.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// cleanup drops expired records from L1 and, when supported, from L2.
func (c *TieredCache) cleanup(ctx context.Context) {
	if n := c.purgeExpired(); n > 0 {
		slog.Debug("cache: cleanup", slog.Int("removed", n))
	}
	if p, ok := c.l2.(purger); ok {
		if n, err := p.PurgeExpired(ctx); err != nil {
			slog.Debug("cache: L2 purge failed", slog.Any("error", err))
		} else if n > 0 {
			slog.Debug("cache: L2 cleanup", slog.Int64("removed", n))
		}
	}
}

// StartCleanup periodically removes expired entries until Close.
func (c *TieredCache) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup(context.Background())
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the cleanup loop and closes the L2 store.
func (c *TieredCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func (r *cacheRecord) outcome() Outcome {
	out := r.Outcome
	out.Entries = cloneEntries(r.Outcome.Entries)
	return out
}
