package audio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sproutlearn/chime/audio/player"
)

// mapLoader serves payloads from memory and counts loads per source.
type mapLoader struct {
	mu       sync.Mutex
	payloads map[string][]byte
	fail     map[string]error
	loads    map[string]int
}

func newMapLoader() *mapLoader {
	return &mapLoader{
		payloads: make(map[string][]byte),
		fail:     make(map[string]error),
		loads:    make(map[string]int),
	}
}

func (l *mapLoader) add(source string, size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payloads[source] = make([]byte, size)
}

func (l *mapLoader) failWith(source string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[source] = err
}

func (l *mapLoader) loadCount(source string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[source]
}

func (l *mapLoader) Load(_ context.Context, source string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[source]++
	if err := l.fail[source]; err != nil {
		return nil, err
	}
	p, ok := l.payloads[source]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", source)
	}
	return p, nil
}

// testClip builds a registered, cacheable clip and its payload.
func testClip(key, language string, ct ClipType, prio Priority) AudioClip {
	return AudioClip{
		Key:       key,
		Language:  language,
		Type:      ct,
		Priority:  prio,
		Source:    key + "." + language + ".pcm",
		Cacheable: true,
	}
}

// testEngine wires an engine over a mock player and in-memory loader
// with fast fades so scheduler tests run in milliseconds.
type testEngine struct {
	eng    *Engine
	mock   *player.Mock
	loader *mapLoader
}

func newTestEngine(t *testing.T, clips ...AudioClip) *testEngine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PreemptFade = 20 * time.Millisecond
	cfg.DefaultFadeOut = 20 * time.Millisecond
	cfg.ForceStopTimeout = 200 * time.Millisecond

	loader := newMapLoader()
	catalog := NewCatalog()
	for _, clip := range clips {
		loader.add(clip.Source, 256)
		if err := catalog.Register(clip); err != nil {
			t.Fatal(err)
		}
	}

	mock := player.NewMock(0) // streams end when the test says so
	eng, err := New(cfg, catalog, loader, mock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Close)
	return &testEngine{eng: eng, mock: mock, loader: loader}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitDone waits for a session to reach a terminal state.
func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s never terminated (state %v)", sess.ID, sess.State())
	}
}

// stream returns the i-th started mock stream, waiting for it to
// appear.
func (te *testEngine) stream(t *testing.T, i int) *player.MockStream {
	t.Helper()
	waitFor(t, fmt.Sprintf("stream %d to start", i), func() bool {
		return te.mock.Starts() > i
	})
	return te.mock.Streams()[i]
}

// collect drains all currently queued events from a subscription.
func collect(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, typ EventType, clipKey string) bool {
	for _, ev := range events {
		if ev.Type == typ && (clipKey == "" || ev.ClipKey == clipKey) {
			return true
		}
	}
	return false
}
