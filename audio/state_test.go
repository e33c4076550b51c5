package audio

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []ChannelState
		ok   bool
	}{
		{name: "full playback cycle", path: []ChannelState{ChannelLoading, ChannelPlaying, ChannelFadingOut, ChannelIdle}, ok: true},
		{name: "load failure recovers", path: []ChannelState{ChannelLoading, ChannelError, ChannelIdle}, ok: true},
		{name: "natural completion skips fade", path: []ChannelState{ChannelLoading, ChannelPlaying, ChannelIdle}, ok: true},
		{name: "cannot play from idle", path: []ChannelState{ChannelPlaying}, ok: false},
		{name: "cannot fade from idle", path: []ChannelState{ChannelFadingOut}, ok: false},
		{name: "cannot skip loading", path: []ChannelState{ChannelLoading, ChannelFadingOut}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newStateMachine()
			ok := true
			for _, st := range tt.path {
				if !sm.transition(st) {
					ok = false
					break
				}
			}
			if ok != tt.ok {
				t.Errorf("path %v: got ok=%v, want %v", tt.path, ok, tt.ok)
			}
		})
	}
}

func TestStateMachineEnterHook(t *testing.T) {
	sm := newStateMachine()
	entered := 0
	sm.enter(ChannelPlaying, func() { entered++ })

	sm.transition(ChannelLoading)
	sm.transition(ChannelPlaying)
	if entered != 1 {
		t.Errorf("enter hook fired %d times, want 1", entered)
	}
	if sm.state() != ChannelPlaying {
		t.Errorf("state = %v, want playing", sm.state())
	}
}
