package audio

// ChannelState is the scheduler's per-channel playback state.
type ChannelState int

const (
	// ChannelIdle means no active session holds the channel.
	ChannelIdle ChannelState = iota
	// ChannelLoading means the channel is fetching the clip payload.
	ChannelLoading
	// ChannelPlaying means a session is audible on the channel.
	ChannelPlaying
	// ChannelFadingOut means the active session is ramping down.
	ChannelFadingOut
	// ChannelError is terminal for the current session; the loop
	// recovers to Idle for the next request.
	ChannelError
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelLoading:
		return "loading"
	case ChannelPlaying:
		return "playing"
	case ChannelFadingOut:
		return "fading-out"
	case ChannelError:
		return "error"
	default:
		return "unknown"
	}
}

// stateMachine validates channel state transitions. Each channel loop
// owns exactly one; it is not safe for concurrent use and does not
// need to be, all transitions happen on the loop goroutine.
type stateMachine struct {
	current     ChannelState
	transitions map[ChannelState][]ChannelState
	onEnter     map[ChannelState]func()
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: ChannelIdle,
		transitions: map[ChannelState][]ChannelState{
			ChannelIdle:      {ChannelLoading, ChannelError},
			ChannelLoading:   {ChannelPlaying, ChannelIdle, ChannelError},
			ChannelPlaying:   {ChannelFadingOut, ChannelIdle, ChannelError},
			ChannelFadingOut: {ChannelIdle, ChannelError},
			ChannelError:     {ChannelIdle},
		},
		onEnter: make(map[ChannelState]func()),
	}
}

// transition moves to the target state if the transition table allows
// it, firing the target's enter hook. It reports whether the move
// happened.
func (sm *stateMachine) transition(to ChannelState) bool {
	valid := false
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}
	sm.current = to
	if fn, ok := sm.onEnter[to]; ok && fn != nil {
		fn()
	}
	return true
}

// state returns the current channel state.
func (sm *stateMachine) state() ChannelState {
	return sm.current
}

// enter registers a hook fired whenever the machine enters st.
func (sm *stateMachine) enter(st ChannelState, fn func()) {
	sm.onEnter[st] = fn
}
