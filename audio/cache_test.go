package audio

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func cacheClip(key string, size int, loader *mapLoader) AudioClip {
	clip := testClip(key, "en", TypeInstruction, PriorityNormal)
	loader.add(clip.Source, size)
	return clip
}

func TestCacheHitAvoidsReload(t *testing.T) {
	loader := newMapLoader()
	clip := cacheClip("welcome", 100, loader)
	c := NewCache(loader, 1024)
	ctx := context.Background()

	if _, err := c.Get(ctx, clip); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, clip); err != nil {
		t.Fatal(err)
	}

	if n := loader.loadCount(clip.Source); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
}

func TestCacheBoundNeverExceeded(t *testing.T) {
	loader := newMapLoader()
	c := NewCache(loader, 1000)
	ctx := context.Background()

	// Many entries of varying sizes; the unpinned total must stay
	// within budget after every call.
	for i := 0; i < 30; i++ {
		clip := cacheClip(fmt.Sprintf("clip%d", i), 100+i*17, loader)
		if _, err := c.Get(ctx, clip); err != nil {
			t.Fatal(err)
		}
		if st := c.Stats(); st.UnpinnedBytes > 1000 {
			t.Fatalf("after Get %d: unpinned bytes %d exceed budget", i, st.UnpinnedBytes)
		}
	}
	if st := c.Stats(); st.Evictions == 0 {
		t.Error("expected evictions under budget pressure")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	loader := newMapLoader()
	a := cacheClip("a", 400, loader)
	b := cacheClip("b", 400, loader)
	d := cacheClip("d", 400, loader)
	c := NewCache(loader, 1000)
	ctx := context.Background()

	c.Get(ctx, a)
	c.Get(ctx, b)
	c.Get(ctx, a) // refresh a; b is now least recent
	c.Get(ctx, d) // evicts b

	c.Get(ctx, a)
	if n := loader.loadCount(a.Source); n != 1 {
		t.Errorf("a reloaded (%d loads): should have survived eviction", n)
	}
	c.Get(ctx, b)
	if n := loader.loadCount(b.Source); n != 2 {
		t.Errorf("b loads = %d, want 2 (evicted then reloaded)", n)
	}
}

func TestCachePinnedNeverEvicted(t *testing.T) {
	loader := newMapLoader()
	pinned := cacheClip("startup", 800, loader)
	pinned.Pinned = true
	c := NewCache(loader, 1000)
	ctx := context.Background()

	c.Get(ctx, pinned)
	for i := 0; i < 10; i++ {
		c.Get(ctx, cacheClip(fmt.Sprintf("filler%d", i), 500, loader))
	}

	c.Get(ctx, pinned)
	if n := loader.loadCount(pinned.Source); n != 1 {
		t.Errorf("pinned entry reloaded (%d loads)", n)
	}
	st := c.Stats()
	if st.Pinned != 1 {
		t.Errorf("Pinned = %d, want 1", st.Pinned)
	}
	if st.UnpinnedBytes > 1000 {
		t.Errorf("unpinned bytes %d exceed budget", st.UnpinnedBytes)
	}
}

func TestCacheOversizePayloadServedUncached(t *testing.T) {
	loader := newMapLoader()
	big := cacheClip("big", 2000, loader)
	c := NewCache(loader, 1000)
	ctx := context.Background()

	payload, err := c.Get(ctx, big)
	if err != nil {
		t.Fatalf("oversize payload should still be served: %v", err)
	}
	if len(payload) != 2000 {
		t.Errorf("payload size = %d, want 2000", len(payload))
	}
	if st := c.Stats(); st.Entries != 0 {
		t.Errorf("oversize payload was cached: %d entries", st.Entries)
	}
}

func TestCacheUncacheableClip(t *testing.T) {
	loader := newMapLoader()
	clip := cacheClip("click", 50, loader)
	clip.Cacheable = false
	c := NewCache(loader, 1000)
	ctx := context.Background()

	c.Get(ctx, clip)
	c.Get(ctx, clip)
	if n := loader.loadCount(clip.Source); n != 2 {
		t.Errorf("uncacheable clip loaded %d times, want 2", n)
	}
}

func TestCacheLoadFailure(t *testing.T) {
	loader := newMapLoader()
	clip := testClip("broken", "en", TypeInstruction, PriorityNormal)
	loader.failWith(clip.Source, errors.New("disk gone"))
	c := NewCache(loader, 1000)

	_, err := c.Get(context.Background(), clip)
	if !errors.Is(err, ErrLoadFailure) {
		t.Errorf("Get = %v, want ErrLoadFailure", err)
	}
}

func TestCachePreloadPins(t *testing.T) {
	loader := newMapLoader()
	clips := []AudioClip{
		cacheClip("welcome", 100, loader),
		cacheClip("success", 100, loader),
		cacheClip("error", 100, loader),
	}
	c := NewCache(loader, 1000)

	if err := c.Preload(context.Background(), clips); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	st := c.Stats()
	if st.Pinned != 3 {
		t.Errorf("Pinned = %d, want 3", st.Pinned)
	}

	// Preloaded entries survive a pinned-preserving clear.
	c.Clear(true)
	if st := c.Stats(); st.Entries != 3 {
		t.Errorf("entries after Clear(true) = %d, want 3", st.Entries)
	}
	c.Clear(false)
	if st := c.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("entries/bytes after Clear(false) = %d/%d, want 0/0", st.Entries, st.Bytes)
	}
}

func TestCachePreloadReportsFailures(t *testing.T) {
	loader := newMapLoader()
	good := cacheClip("good", 100, loader)
	bad := testClip("bad", "en", TypeInstruction, PriorityNormal)
	loader.failWith(bad.Source, errors.New("missing"))
	c := NewCache(loader, 1000)

	err := c.Preload(context.Background(), []AudioClip{good, bad})
	if !errors.Is(err, ErrLoadFailure) {
		t.Errorf("Preload = %v, want ErrLoadFailure", err)
	}
}
