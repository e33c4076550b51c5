package audio

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// preloadConcurrency bounds parallel loads during startup preload.
const preloadConcurrency = 4

// warnLogWindow spaces out repeated-failure warnings; occurrences in
// between are counted and reported with the next emitted entry.
const warnLogWindow = 30 * time.Second

// CacheStats is a snapshot of cache usage and effectiveness.
type CacheStats struct {
	Entries       int
	Pinned        int
	Bytes         int64 // total retained, pinned included
	UnpinnedBytes int64 // subject to the MaxCacheBytes budget
	Hits          int64
	Misses        int64
	Evictions     int64
}

// cacheEntry is one retained payload. Pinned entries never join the
// LRU list and are exempt from eviction; unpinned entries hold their
// list element.
type cacheEntry struct {
	key     string
	payload []byte
	size    int64
	pinned  bool
	elem    *list.Element
}

// Cache retains clip payloads under a byte budget with strict LRU
// eviction among unpinned entries. Pinned entries (startup sounds)
// never leave and do not count against the budget, though they are
// reported in Stats. The cache is a pure performance layer; it may be
// cleared at any time without semantic loss.
type Cache struct {
	loader   Loader
	maxBytes int64

	mu            sync.Mutex
	items         map[string]*cacheEntry
	lru           *list.List // unpinned entries, front = most recent
	unpinnedBytes int64
	pinnedBytes   int64
	hits          int64
	misses        int64
	evictions     int64

	// Load failures are expected during content updates; warn once per
	// window and fold the rest into a counter.
	warnLimit  *rate.Limiter
	suppressed int64
}

// NewCache creates a cache over the given loader with a byte budget.
func NewCache(loader Loader, maxBytes int64) *Cache {
	return &Cache{
		loader:    loader,
		maxBytes:  maxBytes,
		items:     make(map[string]*cacheEntry),
		lru:       list.New(),
		warnLimit: rate.NewLimiter(rate.Every(warnLogWindow), 1),
	}
}

// Get returns the payload for a clip, loading it on a miss. Load
// failures return ErrLoadFailure and must never crash playback; the
// caller skips the clip and continues. Non-cacheable clips and writes
// rejected by the budget are served uncached.
func (c *Cache) Get(ctx context.Context, clip AudioClip) ([]byte, error) {
	key := clip.CacheKey()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if e.elem != nil {
			c.lru.MoveToFront(e.elem)
		}
		c.hits++
		c.mu.Unlock()
		return e.payload, nil
	}
	c.misses++
	c.mu.Unlock()

	// Load outside the lock; a racing duplicate load is cheaper than
	// serializing all misses behind one slow read.
	payload, err := c.loader.Load(ctx, clip.Source)
	if err != nil {
		c.warnLoadFailure(clip, err)
		return nil, wrapError(err, ErrLoadFailure, "cache", key)
	}

	if !clip.Cacheable {
		return payload, nil
	}
	if err := c.put(key, payload, clip.Pinned); err != nil {
		// Budget rejection: serve uncached, drop the write.
		log.Warn("cache write dropped", "key", key, "size", humanize.Bytes(uint64(len(payload))), "err", err)
	}
	return payload, nil
}

// put inserts a payload, evicting least-recently-used unpinned entries
// until it fits. Returns ErrCacheFull when even a full sweep cannot
// make room.
func (c *Cache) put(key string, payload []byte, pinned bool) error {
	size := int64(len(payload))
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		// A racing load finished first; keep the existing entry.
		return nil
	}

	e := &cacheEntry{key: key, payload: payload, size: size, pinned: pinned}
	if pinned {
		c.items[key] = e
		c.pinnedBytes += size
		return nil
	}

	if size > c.maxBytes {
		return newError(ErrCacheFull, "cache", key)
	}
	for c.unpinnedBytes+size > c.maxBytes && c.lru.Len() > 0 {
		c.evictLocked(c.lru.Back())
	}
	if c.unpinnedBytes+size > c.maxBytes {
		return newError(ErrCacheFull, "cache", key)
	}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
	c.unpinnedBytes += size
	return nil
}

// evictLocked removes an unpinned entry. Callers hold the lock.
func (c *Cache) evictLocked(elem *list.Element) {
	e := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.items, e.key)
	c.unpinnedBytes -= e.size
	c.evictions++
	log.Debug("cache evicted", "key", e.key, "size", humanize.Bytes(uint64(e.size)))
}

// Preload eagerly loads and pins the given clips (welcome, generic
// success/error, UI click). Failures are collected but do not abort
// the rest of the set.
func (c *Cache) Preload(ctx context.Context, clips []AudioClip) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, clip := range clips {
		g.Go(func() error {
			payload, err := c.loader.Load(ctx, clip.Source)
			if err != nil {
				c.warnLoadFailure(clip, err)
				return wrapError(err, ErrLoadFailure, "cache", "preload "+clip.CacheKey())
			}
			// Preloaded entries are always pinned regardless of the
			// manifest pin flag; the set was chosen to survive.
			if err := c.put(clip.CacheKey(), payload, true); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	st := c.Stats()
	log.Info("preload complete", "pinned", st.Pinned, "bytes", humanize.Bytes(uint64(st.Bytes)))
	return nil
}

// Pin marks an existing entry pinned, removing it from eviction
// pressure.
func (c *Cache) Pin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.pinned {
		return ok
	}
	c.lru.Remove(e.elem)
	e.elem = nil
	e.pinned = true
	c.unpinnedBytes -= e.size
	c.pinnedBytes += e.size
	return true
}

// Clear drops entries. With keepPinned, pinned entries survive.
func (c *Cache) Clear(keepPinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keepPinned {
		for key, e := range c.items {
			if !e.pinned {
				delete(c.items, key)
			}
		}
	} else {
		c.items = make(map[string]*cacheEntry)
		c.pinnedBytes = 0
	}
	c.lru.Init()
	c.unpinnedBytes = 0
}

// Stats returns a usage snapshot.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinned := 0
	for _, e := range c.items {
		if e.pinned {
			pinned++
		}
	}
	return CacheStats{
		Entries:       len(c.items),
		Pinned:        pinned,
		Bytes:         c.unpinnedBytes + c.pinnedBytes,
		UnpinnedBytes: c.unpinnedBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
}

// warnLoadFailure logs a load failure, aggregating repeats into a
// single entry per window instead of one line per occurrence.
func (c *Cache) warnLoadFailure(clip AudioClip, err error) {
	c.mu.Lock()
	allowed := c.warnLimit.Allow()
	suppressed := c.suppressed
	if allowed {
		c.suppressed = 0
	} else {
		c.suppressed++
	}
	c.mu.Unlock()
	if allowed {
		log.Warn("clip load failed, serving silence",
			"key", clip.CacheKey(), "source", clip.Source,
			"suppressed_repeats", suppressed, "err", err)
	}
}
