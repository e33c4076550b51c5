// Package audio provides the audio orchestration engine: catalog
// resolution, payload caching, priority scheduling across two playback
// channels, narration sequencing, and volume safety enforcement.
package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClipType classifies what a clip is for. The type selects the default
// volume lane in the Governor and is reported on bus events.
type ClipType int

const (
	// TypeInstruction is spoken task narration ("count the apples").
	TypeInstruction ClipType = iota
	// TypeUIInteraction is a short interface sound (tap, click).
	TypeUIInteraction
	// TypeSuccessFeedback plays after a correct answer.
	TypeSuccessFeedback
	// TypeErrorFeedback plays after an incorrect answer.
	TypeErrorFeedback
	// TypeBackgroundMusic is looping ambience on the background channel.
	TypeBackgroundMusic
	// TypeAchievement is a celebration sting (badge, level-up).
	TypeAchievement
	// TypeNarration is long-form story narration.
	TypeNarration
)

// String returns the manifest spelling of the clip type.
func (t ClipType) String() string {
	switch t {
	case TypeInstruction:
		return "instruction"
	case TypeUIInteraction:
		return "ui"
	case TypeSuccessFeedback:
		return "success"
	case TypeErrorFeedback:
		return "error"
	case TypeBackgroundMusic:
		return "music"
	case TypeAchievement:
		return "achievement"
	case TypeNarration:
		return "narration"
	default:
		return "unknown"
	}
}

// ParseClipType parses the manifest spelling of a clip type.
func ParseClipType(s string) (ClipType, error) {
	switch s {
	case "instruction":
		return TypeInstruction, nil
	case "ui":
		return TypeUIInteraction, nil
	case "success":
		return TypeSuccessFeedback, nil
	case "error":
		return TypeErrorFeedback, nil
	case "music":
		return TypeBackgroundMusic, nil
	case "achievement":
		return TypeAchievement, nil
	case "narration":
		return TypeNarration, nil
	}
	return 0, newError(ErrInvalidManifest, "catalog", "parse type "+s)
}

// clipTypes lists every valid clip type, for iteration.
var clipTypes = []ClipType{
	TypeInstruction,
	TypeUIInteraction,
	TypeSuccessFeedback,
	TypeErrorFeedback,
	TypeBackgroundMusic,
	TypeAchievement,
	TypeNarration,
}

// Priority orders competing playback requests on a channel.
type Priority int

const (
	// PriorityLow is expendable ambience.
	PriorityLow Priority = iota
	// PriorityNormal is the default for UI sounds and feedback.
	PriorityNormal
	// PriorityHigh preempts Normal and Low sessions.
	PriorityHigh
	// PriorityCritical is never silently dropped; it plays immediately
	// or preempts whatever holds its channel.
	PriorityCritical
)

// String returns the manifest spelling of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority parses the manifest spelling of a priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, newError(ErrInvalidManifest, "catalog", "parse priority "+s)
}

// Channel is an independent playback lane with its own single active
// session. Foreground carries narration and feedback; Background
// carries music and is ducked while Foreground holds a High or
// Critical session.
type Channel int

const (
	// Foreground is the narration/feedback lane.
	Foreground Channel = iota
	// Background is the music/ambience lane.
	Background
)

const numChannels = 2

// String returns a readable channel name.
func (c Channel) String() string {
	if c == Background {
		return "background"
	}
	return "foreground"
}

// AudioClip is an immutable catalog entry describing one playable
// resource. Clips are created at manifest load or dynamic registration
// and never mutated afterwards; re-registration replaces wholesale.
type AudioClip struct {
	Key               string        // content id, e.g. "welcome"
	Language          string        // BCP 47-ish tag, e.g. "en"
	Type              ClipType      // playback classification
	Priority          Priority      // arbitration rank
	Source            string        // locator understood by the Loader
	EstimatedDuration time.Duration // hint for pacing and CLI output
	Cacheable         bool          // payload may be retained in cache
	Pinned            bool          // cache entry exempt from eviction
}

// Zero reports whether the clip is the zero value (an unresolved key).
func (c AudioClip) Zero() bool {
	return c.Key == "" && c.Language == ""
}

// CacheKey identifies the clip's payload in the cache: key + language.
func (c AudioClip) CacheKey() string {
	return c.Key + "/" + c.Language
}

// PlaybackRequest is one playback intent handed to the scheduler. It
// is created per call and consumed immediately; it is never persisted.
type PlaybackRequest struct {
	Clip           AudioClip
	Channel        Channel
	VolumeOverride float64 // 0 means "use the type default"
	FadeIn         time.Duration
	FadeOut        time.Duration
	SequenceID     string // groups steps of one sequence, "" otherwise
	AllowPreempt   bool   // derived from Priority at creation
}

// newRequest builds a request for a resolved clip, deriving the
// preemption consent from the clip priority. Critical sessions may
// still be preempted, but only by a later Critical request.
func newRequest(clip AudioClip, ch Channel, fadeIn, fadeOut time.Duration) PlaybackRequest {
	return PlaybackRequest{
		Clip:         clip,
		Channel:      ch,
		FadeIn:       fadeIn,
		FadeOut:      fadeOut,
		AllowPreempt: clip.Priority < PriorityCritical,
	}
}

// SessionState is the lifecycle state of a playback session.
type SessionState int

const (
	// SessionPending means the scheduler accepted the request but the
	// session has not started playing yet.
	SessionPending SessionState = iota
	// SessionPlaying means audio is audible on the channel.
	SessionPlaying
	// SessionFadingOut means the session is ramping down before stop.
	SessionFadingOut
	// SessionCompleted is terminal: the stream ended naturally.
	SessionCompleted
	// SessionCancelled is terminal: stopped or preempted.
	SessionCancelled
	// SessionFailed is terminal: loading or playback failed.
	SessionFailed
)

// String returns a readable session state name.
func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionPlaying:
		return "playing"
	case SessionFadingOut:
		return "fading-out"
	case SessionCompleted:
		return "completed"
	case SessionCancelled:
		return "cancelled"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionFailed
}

// Session tracks one accepted playback request from acceptance to a
// terminal state. It is safe for concurrent use; the scheduler is the
// only writer.
type Session struct {
	ID        string
	Request   PlaybackRequest
	StartedAt time.Time

	mu    sync.Mutex
	state SessionState
	err   error
	done  chan struct{}
}

func newSession(req PlaybackRequest) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Request: req,
		state:   SessionPending,
		done:    make(chan struct{}),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the session is Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches a terminal state. Callers
// observe completion here or via the event bus; Play never blocks
// until playback finishes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// setState advances the session state. Terminal states close done;
// transitions after a terminal state are ignored.
func (s *Session) setState(st SessionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = st
	if err != nil {
		s.err = err
	}
	if st.Terminal() {
		close(s.done)
	}
}
