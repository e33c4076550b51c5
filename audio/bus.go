package audio

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event on the bus.
type EventType int

const (
	// EventStarted fires when a session becomes audible.
	EventStarted EventType = iota
	// EventCompleted fires when a stream ends naturally.
	EventCompleted
	// EventInterrupted fires when a session is preempted or stopped.
	EventInterrupted
	// EventError fires when loading or playback fails.
	EventError
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one playback lifecycle notification. UI and analytics
// consume these without coupling to engine internals.
type Event struct {
	Type      EventType
	SessionID string
	ClipKey   string
	Channel   Channel
	ByClipKey string // for Interrupted: the clip that took the channel
	Err       error  // for Error
	Time      time.Time
}

// Subscription is one subscriber's bounded event feed. Events arrive
// on C in publish order per channel; when the subscriber lags, the
// oldest queued event is dropped so the publisher never blocks.
type Subscription struct {
	C chan Event

	bus    *Bus
	id     int
	pred   func(Event) bool
	mu     sync.Mutex
	closed bool
}

// Cancel removes the subscription and closes C.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.id)
}

// deliver enqueues an event, dropping the oldest queued event on
// overflow. Delivery is best effort by contract.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.C <- ev:
			return
		default:
		}
		select {
		case <-s.C: // drop oldest
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// Bus is the engine's fire-and-forget event fan-out. Publish never
// blocks on slow subscribers; ordering is preserved per playback
// channel because each channel loop publishes from one goroutine.
type Bus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// NewBus creates a bus with the given per-subscriber queue size.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Bus{
		queueSize: queueSize,
		subs:      make(map[int]*Subscription),
	}
}

// Subscribe registers a predicate-filtered subscriber. A nil predicate
// receives everything.
func (b *Bus) Subscribe(pred func(Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{
		C:    make(chan Event, b.queueSize),
		bus:  b,
		id:   b.nextID,
		pred: pred,
	}
	b.subs[b.nextID] = s
	b.nextID++
	return s
}

// Publish delivers an event to every matching subscriber without
// blocking the publishing path.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.pred == nil || s.pred(ev) {
			s.deliver(ev)
		}
	}
}

// Close cancels all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*Subscription)
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}
