package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine. Every failure is recoverable at the
// engine boundary: playback calls return a typed error or degrade to
// silence, they never panic out. Audio is an enhancement, not a
// blocking dependency of the app.
var (
	// ErrClipNotFound means a key/language pair is unresolvable even
	// after language fallback. Non-fatal: skip playback and continue.
	ErrClipNotFound = errors.New("clip not found in catalog")

	// ErrLoadFailure means the clip payload could not be read. The
	// caller serves without caching or skips; it never crashes playback.
	ErrLoadFailure = errors.New("clip payload load failed")

	// ErrPlaybackFailure means the player reported a mid-stream error.
	ErrPlaybackFailure = errors.New("player reported playback failure")

	// ErrCacheFull means eviction could not make room even after a full
	// LRU sweep of unpinned entries. The write is dropped and the
	// payload served uncached.
	ErrCacheFull = errors.New("cache cannot admit entry within budget")

	// ErrRequestDropped means a Normal/Low request arrived while the
	// channel was busy with equal or higher priority. Fire-and-forget
	// sounds are expendable; no Started event is emitted.
	ErrRequestDropped = errors.New("request dropped by priority policy")

	// ErrEngineClosed means the engine has been shut down.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrSequenceCancelled means a sequence was cancelled before all
	// steps ran.
	ErrSequenceCancelled = errors.New("sequence cancelled")

	// ErrInvalidManifest means the catalog manifest failed validation.
	ErrInvalidManifest = errors.New("invalid catalog manifest")

	// ErrInvalidConfig means the engine configuration failed validation.
	ErrInvalidConfig = errors.New("invalid engine configuration")
)

// EngineError wraps a sentinel with the component and operation that
// produced it.
type EngineError struct {
	Err       error  // underlying sentinel or cause
	Component string // "catalog", "cache", "scheduler", "sequencer"
	Op        string // operation being performed
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func newError(err error, component, op string) *EngineError {
	return &EngineError{Err: err, Component: component, Op: op}
}

func wrapError(err error, sentinel error, component, op string) *EngineError {
	return &EngineError{
		Err:       fmt.Errorf("%w: %w", sentinel, err),
		Component: component,
		Op:        op,
	}
}
