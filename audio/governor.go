package audio

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// FadeCurve selects the shape of a volume ramp.
type FadeCurve int

const (
	// FadeLinear ramps volume at a constant rate.
	FadeLinear FadeCurve = iota
	// FadeSmoothstep eases in and out; gentler on small speakers.
	FadeSmoothstep
)

// fadeStepInterval is the spacing of ramp steps. 10ms keeps fades
// inaudible as steps while bounding the work per fade.
const fadeStepInterval = 10 * time.Millisecond

// Ramp is a monotonic volume ramp from 0 to 1. The scheduler walks
// Levels at Interval spacing, scaling each level by the session's
// effective volume (ascending for fade-in, reversed for fade-out).
type Ramp struct {
	Levels   []float64
	Interval time.Duration
}

// Governor enforces the child-hearing-safety volume ceiling and
// computes fade ramps. It is the single point where the ceiling is
// enforced; no other component sets volume directly. Aside from the
// per-type levels it has no mutable state.
type Governor struct {
	cap float64

	mu         sync.RWMutex
	typeLevels map[ClipType]float64
}

// defaultTypeLevels are the per-type volume lanes. Music sits low so
// narration reads over it even before ducking.
func defaultTypeLevels() map[ClipType]float64 {
	return map[ClipType]float64{
		TypeInstruction:     1.0,
		TypeUIInteraction:   0.8,
		TypeSuccessFeedback: 1.0,
		TypeErrorFeedback:   0.9,
		TypeBackgroundMusic: 0.6,
		TypeAchievement:     1.0,
		TypeNarration:       1.0,
	}
}

// NewGovernor creates a Governor with the given safety cap.
func NewGovernor(safetyCap float64) *Governor {
	return &Governor{
		cap:        safetyCap,
		typeLevels: defaultTypeLevels(),
	}
}

// Cap returns the safety ceiling.
func (g *Governor) Cap() float64 {
	return g.cap
}

// SetTypeVolume sets the volume lane for a clip type, clamped to the
// safety cap. A request above the cap is not an error: it is clamped
// and logged at debug level only. Returns the stored level.
func (g *Governor) SetTypeVolume(t ClipType, level float64) float64 {
	if level < 0 {
		level = 0
	}
	if level > g.cap {
		log.Debug("volume above safety cap clamped", "type", t, "requested", level, "cap", g.cap)
		level = g.cap
	}
	g.mu.Lock()
	g.typeLevels[t] = level
	g.mu.Unlock()
	return level
}

// TypeVolume returns the current volume lane for a clip type.
func (g *Governor) TypeVolume(t ClipType) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.typeLevels[t]
}

// Clamp computes the effective volume for a request:
// min(requested, cap) * typeLevel, never above the cap. A requested
// value of 0 means "type default", i.e. requested = 1.
func (g *Governor) Clamp(t ClipType, requested float64) float64 {
	if requested <= 0 {
		requested = 1
	}
	if requested > g.cap {
		log.Debug("requested volume above safety cap clamped", "type", t, "requested", requested, "cap", g.cap)
		requested = g.cap
	}
	eff := requested * g.TypeVolume(t)
	if eff > g.cap {
		eff = g.cap
	}
	return eff
}

// ComputeFade returns a monotonic 0→1 ramp covering the duration. A
// zero or negative duration yields a single full-volume step, which
// the scheduler applies as an immediate jump.
func (g *Governor) ComputeFade(d time.Duration, curve FadeCurve) Ramp {
	if d <= 0 {
		return Ramp{Levels: []float64{1}, Interval: 0}
	}
	steps := int(d / fadeStepInterval)
	if steps < 2 {
		steps = 2
	}
	levels := make([]float64, steps)
	for i := range levels {
		x := float64(i+1) / float64(steps)
		switch curve {
		case FadeSmoothstep:
			levels[i] = x * x * (3 - 2*x)
		default:
			levels[i] = x
		}
	}
	// Last step lands exactly on 1 regardless of rounding.
	levels[steps-1] = 1
	return Ramp{Levels: levels, Interval: d / time.Duration(steps)}
}
