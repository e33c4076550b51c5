package player

import (
	"errors"
	"testing"
	"time"
)

func TestMockStreamCompletesNaturally(t *testing.T) {
	m := NewMock(10 * time.Millisecond)
	s, err := m.Start(make([]byte, 4), 0.5)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err, ok := <-s.Done():
		if !ok {
			t.Fatal("done closed without completion value")
		}
		if err != nil {
			t.Fatalf("natural completion returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream never completed")
	}
	if _, ok := <-s.Done(); ok {
		t.Error("done not closed after completion")
	}
}

func TestMockStreamStopClosesDone(t *testing.T) {
	m := NewMock(0)
	s, err := m.Start(nil, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-s.Done(); ok {
		t.Error("stop should close done without a completion value")
	}
	// Stop again is a no-op.
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMock(0)
	boom := errors.New("boom")

	m.FailNextStart(boom)
	if _, err := m.Start(nil, 0.5); !errors.Is(err, boom) {
		t.Errorf("Start = %v, want injected error", err)
	}
	// The injection is one-shot.
	if _, err := m.Start(nil, 0.5); err != nil {
		t.Errorf("second Start = %v, want nil", err)
	}

	m.FailStream(boom, time.Millisecond)
	s, err := m.Start(nil, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-s.Done():
		if !errors.Is(err, boom) {
			t.Errorf("stream error = %v, want injected error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("injected stream failure never fired")
	}
}

func TestMockRecordsVolumes(t *testing.T) {
	m := NewMock(0)
	s, err := m.Start(nil, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	ms := m.Streams()[0]
	s.SetVolume(0.4)
	s.SetVolume(0.1)

	vols := ms.Volumes()
	want := []float64{0.8, 0.4, 0.1}
	if len(vols) != len(want) {
		t.Fatalf("volumes = %v, want %v", vols, want)
	}
	for i := range want {
		if vols[i] != want[i] {
			t.Fatalf("volumes = %v, want %v", vols, want)
		}
	}
	if m.Starts() != 1 {
		t.Errorf("Starts = %d, want 1", m.Starts())
	}
}
