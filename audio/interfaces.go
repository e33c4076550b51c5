package audio

// Player is the abstract audio output the scheduler drives. The engine
// does not decode or mix; it hands a complete payload to the platform
// player and controls the live stream's volume and lifetime.
// Implementations live in audio/player.
type Player interface {
	// Start begins playback of the payload at the given volume and
	// returns the live stream handle. The volume has already passed
	// the Governor; implementations must not raise it.
	Start(payload []byte, volume float64) (Stream, error)
}

// Stream is one live playback started on a Player.
type Stream interface {
	// SetVolume adjusts the live volume. Used for fades and ducking.
	SetVolume(v float64)

	// Stop halts the stream immediately.
	Stop() error

	// Done reports end of stream: it receives nil on natural
	// completion, a non-nil error on mid-stream failure, and is closed
	// after Stop.
	Done() <-chan error
}
