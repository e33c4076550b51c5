// Package player provides the platform audio backends: a PCM output
// built on oto and a mock for tests and silent demo runs.
package player

import (
	"sync"
	"time"

	"github.com/sproutlearn/chime/audio"
)

// MockCall records one operation observed by the mock player.
type MockCall struct {
	Op     string // "start", "set_volume", "stop"
	Volume float64
	Size   int // payload size for "start"
	At     time.Time
}

// Mock is an in-memory Player for tests. It records every call,
// completes streams after a configurable duration, and injects start
// or mid-stream failures on demand.
type Mock struct {
	mu           sync.Mutex
	calls        []MockCall
	streams      []*MockStream
	startErr     error
	streamErr    error
	streamErrAt  time.Duration
	playDuration time.Duration
}

// NewMock creates a mock whose streams complete naturally after the
// given duration. A zero duration means streams never complete on
// their own; the test stops them.
func NewMock(playDuration time.Duration) *Mock {
	return &Mock{playDuration: playDuration}
}

// FailNextStart makes the next Start return err.
func (m *Mock) FailNextStart(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

// FailStream makes every subsequent stream fail with err after the
// given playback time, simulating a mid-stream platform failure.
func (m *Mock) FailStream(err error, after time.Duration) {
	m.mu.Lock()
	m.streamErr = err
	m.streamErrAt = after
	m.mu.Unlock()
}

// Start implements audio.Player.
func (m *Mock) Start(payload []byte, volume float64) (audio.Stream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Op: "start", Volume: volume, Size: len(payload), At: time.Now()})
	if err := m.startErr; err != nil {
		m.startErr = nil
		m.mu.Unlock()
		return nil, err
	}
	s := &MockStream{
		p:       m,
		volumes: []float64{volume},
		done:    make(chan error, 1),
	}
	m.streams = append(m.streams, s)
	dur, failErr, failAt := m.playDuration, m.streamErr, m.streamErrAt
	m.mu.Unlock()

	if failErr != nil {
		s.timer = time.AfterFunc(failAt, func() { s.finish(failErr) })
	} else if dur > 0 {
		s.timer = time.AfterFunc(dur, func() { s.finish(nil) })
	}
	return s, nil
}

// Calls returns a copy of the recorded call history.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Starts returns how many streams were started.
func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Streams returns every stream started so far, in order.
func (m *Mock) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

func (m *Mock) record(c MockCall) {
	m.mu.Lock()
	c.At = time.Now()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// MockStream is one live playback on the Mock.
type MockStream struct {
	p     *Mock
	timer *time.Timer

	mu      sync.Mutex
	volumes []float64
	ended   bool
	done    chan error
}

// SetVolume implements audio.Stream, recording the level.
func (s *MockStream) SetVolume(v float64) {
	s.mu.Lock()
	s.volumes = append(s.volumes, v)
	s.mu.Unlock()
	s.p.record(MockCall{Op: "set_volume", Volume: v})
}

// Stop implements audio.Stream.
func (s *MockStream) Stop() error {
	s.p.record(MockCall{Op: "stop"})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.done)
	return nil
}

// Done implements audio.Stream.
func (s *MockStream) Done() <-chan error {
	return s.done
}

// Complete ends the stream as if playback finished naturally.
func (s *MockStream) Complete() {
	s.finish(nil)
}

// Fail ends the stream with a playback error.
func (s *MockStream) Fail(err error) {
	s.finish(err)
}

// Volumes returns every volume the stream was set to, in order,
// starting with the initial level.
func (s *MockStream) Volumes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.volumes))
	copy(out, s.volumes)
	return out
}

// Ended reports whether the stream reached its end by any path.
func (s *MockStream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *MockStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err != nil {
		s.done <- err
	} else {
		s.done <- nil
	}
	close(s.done)
}
