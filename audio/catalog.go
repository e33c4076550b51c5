package audio

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// manifestEntry is one clip declaration in the YAML manifest. Dynamic
// registrations use the identical shape via EntryToClip.
type manifestEntry struct {
	Key        string `yaml:"key"`
	Language   string `yaml:"language"`
	Type       string `yaml:"type"`
	Priority   string `yaml:"priority"`
	Source     string `yaml:"source"`
	DurationMs int    `yaml:"duration_ms"`
	Cacheable  *bool  `yaml:"cacheable"` // defaults to true
	Preload    bool   `yaml:"preload"`
	Pinned     bool   `yaml:"pinned"`
}

type manifest struct {
	Clips []manifestEntry `yaml:"clips"`
}

// entryToClip validates and converts a manifest entry.
func entryToClip(e manifestEntry) (AudioClip, bool, error) {
	if e.Key == "" || e.Language == "" {
		return AudioClip{}, false, newError(ErrInvalidManifest, "catalog", "entry missing key or language")
	}
	if e.Source == "" {
		return AudioClip{}, false, newError(ErrInvalidManifest, "catalog", "entry "+e.Key+" missing source")
	}
	ct, err := ParseClipType(e.Type)
	if err != nil {
		return AudioClip{}, false, err
	}
	prio := PriorityNormal
	if e.Priority != "" {
		if prio, err = ParsePriority(e.Priority); err != nil {
			return AudioClip{}, false, err
		}
	}
	cacheable := true
	if e.Cacheable != nil {
		cacheable = *e.Cacheable
	}
	clip := AudioClip{
		Key:               e.Key,
		Language:          e.Language,
		Type:              ct,
		Priority:          prio,
		Source:            e.Source,
		EstimatedDuration: time.Duration(e.DurationMs) * time.Millisecond,
		Cacheable:         cacheable,
		Pinned:            e.Pinned,
	}
	return clip, e.Preload, nil
}

// Catalog is the registry mapping content key + language to clip
// metadata. Manifest entries are loaded at startup; dynamic
// registration is additive and keyed the same way. Entries are never
// mutated in place; re-registration replaces wholesale.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[string]AudioClip
	manifest map[string]bool // entries owned by the manifest file
	preload  map[string]bool // entries flagged for startup preload
	path     string
}

// NewCatalog creates an empty catalog for dynamic registration only.
func NewCatalog() *Catalog {
	return &Catalog{
		entries:  make(map[string]AudioClip),
		manifest: make(map[string]bool),
		preload:  make(map[string]bool),
	}
}

// LoadCatalog reads the declarative manifest at path.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	c.path = path
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the manifest file. Manifest-sourced entries are
// replaced wholesale; dynamically registered entries survive. An
// invalid manifest leaves the previous catalog intact.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return newError(ErrInvalidManifest, "catalog", "no manifest path configured")
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return wrapError(err, ErrInvalidManifest, "catalog", "read "+c.path)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return wrapError(err, ErrInvalidManifest, "catalog", "decode "+c.path)
	}

	fresh := make(map[string]AudioClip, len(m.Clips))
	preload := make(map[string]bool)
	for _, e := range m.Clips {
		clip, pre, err := entryToClip(e)
		if err != nil {
			return err
		}
		ck := clip.CacheKey()
		if _, dup := fresh[ck]; dup {
			return newError(ErrInvalidManifest, "catalog", "duplicate entry "+ck)
		}
		fresh[ck] = clip
		if pre {
			preload[ck] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ck := range c.manifest {
		delete(c.entries, ck)
		delete(c.preload, ck)
	}
	c.manifest = make(map[string]bool, len(fresh))
	for ck, clip := range fresh {
		// A dynamic registration with the same key is replaced too;
		// the manifest is authoritative for the keys it declares.
		c.entries[ck] = clip
		c.manifest[ck] = true
		if preload[ck] {
			c.preload[ck] = true
		}
	}
	log.Info("catalog loaded", "path", c.path, "clips", len(fresh), "preload", len(preload))
	return nil
}

// Register adds or replaces a clip (activity-specific registration).
// Replacement is wholesale; existing entries are never mutated.
func (c *Catalog) Register(clip AudioClip) error {
	if clip.Key == "" || clip.Language == "" || clip.Source == "" {
		return newError(ErrInvalidManifest, "catalog", "register: key, language and source are required")
	}
	ck := clip.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ck] = clip
	delete(c.manifest, ck) // now owned by the caller, survives reloads
	log.Debug("clip registered", "key", clip.Key, "language", clip.Language, "type", clip.Type)
	return nil
}

// Resolve looks up (key, language), then (key, fallbackLanguage). A
// fallback hit emits a diagnostic; a double miss returns
// ErrClipNotFound, which callers must treat as non-fatal.
func (c *Catalog) Resolve(key, language, fallbackLanguage string) (AudioClip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if clip, ok := c.entries[key+"/"+language]; ok {
		return clip, nil
	}
	if fallbackLanguage != "" && fallbackLanguage != language {
		if clip, ok := c.entries[key+"/"+fallbackLanguage]; ok {
			log.Warn("clip language fallback used", "key", key, "wanted", language, "served", fallbackLanguage)
			return clip, nil
		}
	}
	return AudioClip{}, newError(ErrClipNotFound, "catalog", key+"/"+language)
}

// PreloadSet returns the clips flagged preload in the manifest.
func (c *Catalog) PreloadSet() []AudioClip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AudioClip, 0, len(c.preload))
	for ck := range c.preload {
		if clip, ok := c.entries[ck]; ok {
			out = append(out, clip)
		}
	}
	return out
}

// Len returns the number of registered clips.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch reloads the manifest whenever the file changes, until ctx is
// done. Editors replace files on save, so Create and Rename count as
// changes alongside Write. Reload failures keep the previous catalog.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return newError(ErrInvalidManifest, "catalog", "watch: no manifest path configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return wrapError(err, ErrInvalidManifest, "catalog", "watch")
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return wrapError(err, ErrInvalidManifest, "catalog", "watch "+c.path)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					log.Warn("manifest reload failed, keeping previous catalog", "path", c.path, "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("manifest watcher error", "err", err)
			}
		}
	}()
	return nil
}
