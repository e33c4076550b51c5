package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// PlayOptions tunes a single Play call. The zero value asks for the
// clip's defaults: type volume lane, configured fades.
type PlayOptions struct {
	// Volume is the requested level before the Governor clamp. 0 means
	// the type default.
	Volume float64

	// FadeIn/FadeOut override the configured defaults when positive.
	FadeIn  time.Duration
	FadeOut time.Duration
}

// Engine is the public audio orchestration surface. It wires the
// catalog, cache, governor, scheduler, sequencer and event bus
// together; the app talks only to this type.
//
// Every method degrades gracefully: audio is an enhancement to the
// learning experience, never a blocking dependency of it. A failed
// play returns a typed error and the activity continues silently.
type Engine struct {
	cfg     Config
	catalog *Catalog
	cache   *Cache
	gov     *Governor
	bus     *Bus
	sched   *Scheduler
	seq     *Sequencer

	closed atomic.Bool
}

// New assembles an engine from its configuration and collaborators.
// The loader reads clip payloads; the player produces sound.
func New(cfg Config, catalog *Catalog, loader Loader, player Player) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	gov := NewGovernor(cfg.SafetyCap)
	cache := NewCache(loader, cfg.MaxCacheBytes)
	bus := NewBus(cfg.SubscriberQueue)
	sched := newScheduler(cfg, gov, cache, player, bus)
	e := &Engine{
		cfg:     cfg,
		catalog: catalog,
		cache:   cache,
		gov:     gov,
		bus:     bus,
		sched:   sched,
		seq:     newSequencer(sched, catalog, cfg.DefaultLanguage),
	}
	log.Debug("engine ready", "safety_cap", cfg.SafetyCap, "cache_bytes", cfg.MaxCacheBytes, "default_language", cfg.DefaultLanguage)
	return e, nil
}

// Play resolves a clip and submits it to the channel's scheduler. It
// returns once the scheduler accepts or rejects the request; playback
// completion is observed via the session or the bus.
//
// An unresolvable key returns ErrClipNotFound; callers skip the sound
// and continue. A request losing arbitration returns ErrRequestDropped.
func (e *Engine) Play(ctx context.Context, key, language string, ch Channel, opts PlayOptions) (*Session, error) {
	if e.closed.Load() {
		return nil, newError(ErrEngineClosed, "engine", "play")
	}
	if language == "" {
		language = e.cfg.DefaultLanguage
	}
	clip, err := e.catalog.Resolve(key, language, e.cfg.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	fadeIn := opts.FadeIn
	if fadeIn <= 0 {
		fadeIn = e.cfg.DefaultFadeIn
	}
	fadeOut := opts.FadeOut
	if fadeOut <= 0 {
		fadeOut = e.cfg.DefaultFadeOut
	}
	req := newRequest(clip, ch, fadeIn, fadeOut)
	req.VolumeOverride = opts.Volume
	return e.sched.Submit(ctx, req)
}

// Stop winds down the channel's active session over the given fade. A
// negative fade means the configured default.
func (e *Engine) Stop(ch Channel, fade time.Duration) {
	if fade < 0 {
		fade = e.cfg.DefaultFadeOut
	}
	e.sched.Stop(ch, fade)
}

// StopSession winds down one session if it is still active or queued.
func (e *Engine) StopSession(sess *Session, fade time.Duration) {
	if fade < 0 {
		fade = e.cfg.DefaultFadeOut
	}
	e.sched.StopSession(sess, fade)
}

// StopAll halts every channel immediately, skipping fades. This is the
// response to OS audio focus loss and app backgrounding.
func (e *Engine) StopAll() {
	e.sched.StopAll()
}

// RunSequence plays the steps in order on the Foreground channel with
// interStepDelay between them. See Sequencer.RunSequence.
func (e *Engine) RunSequence(ctx context.Context, language string, steps []SequenceStep, interStepDelay time.Duration) *SequenceHandle {
	if language == "" {
		language = e.cfg.DefaultLanguage
	}
	return e.seq.RunSequence(ctx, language, steps, interStepDelay)
}

// CancelSequence stops the in-flight step and discards the rest.
func (e *Engine) CancelSequence(h *SequenceHandle) {
	e.seq.Cancel(h)
}

// Sequencer exposes the retry-counter API for encouragement clip
// selection.
func (e *Engine) Sequencer() *Sequencer {
	return e.seq
}

// SetTypeVolume sets the volume lane for a clip type. Values above the
// safety cap are clamped silently; the stored level is returned.
func (e *Engine) SetTypeVolume(t ClipType, level float64) float64 {
	return e.gov.SetTypeVolume(t, level)
}

// TypeVolume returns the current volume lane for a clip type.
func (e *Engine) TypeVolume(t ClipType) float64 {
	return e.gov.TypeVolume(t)
}

// Subscribe registers a predicate-filtered event subscriber. A nil
// predicate receives everything.
func (e *Engine) Subscribe(pred func(Event) bool) *Subscription {
	return e.bus.Subscribe(pred)
}

// Preload eagerly loads and pins the named clips in the default
// language. Unresolvable keys are skipped with a warning.
func (e *Engine) Preload(ctx context.Context, keys []string) error {
	clips := make([]AudioClip, 0, len(keys))
	for _, key := range keys {
		clip, err := e.catalog.Resolve(key, e.cfg.DefaultLanguage, "")
		if err != nil {
			log.Warn("preload key unresolved, skipping", "key", key)
			continue
		}
		clips = append(clips, clip)
	}
	return e.cache.Preload(ctx, clips)
}

// PreloadStartupSet preloads every clip the manifest flags for
// startup.
func (e *Engine) PreloadStartupSet(ctx context.Context) error {
	return e.cache.Preload(ctx, e.catalog.PreloadSet())
}

// ClearCache drops cached payloads. With keepPinned, the startup set
// survives. Purely a performance reset; nothing semantic is lost.
func (e *Engine) ClearCache(keepPinned bool) {
	e.cache.Clear(keepPinned)
}

// CacheStats returns a cache usage snapshot.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Catalog returns the clip registry for dynamic registration.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// ChannelState reports a channel's current scheduler state.
func (e *Engine) ChannelState(ch Channel) ChannelState {
	return e.sched.ChannelState(ch)
}

// Close stops all playback and shuts the engine down. Idempotent.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.sched.StopAll()
	e.sched.close()
	e.bus.Close()
}
