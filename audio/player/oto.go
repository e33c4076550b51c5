//go:build !nocgo && cgo
// +build !nocgo,cgo

package player

import (
	"bytes"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/sproutlearn/chime/audio"
)

// Default PCM format for clip payloads.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// streamPollInterval is how often a live stream checks for natural
// completion. oto has no completion callback.
const streamPollInterval = 20 * time.Millisecond

// PCM plays raw signed 16-bit little-endian PCM payloads through the
// platform audio device via oto. One PCM instance owns the device
// context for the process lifetime; oto v3 contexts cannot be closed.
type PCM struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
}

// NewPCM initializes the platform audio device. Initialization waits
// for the device to report ready, bounded by a timeout; CoreAudio in
// particular can take a while after wake.
func NewPCM(sampleRate, channels int) (*PCM, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	options := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	case "windows":
		options.BufferSize = 80 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	log.Debug("initializing audio device",
		"sample_rate", options.SampleRate,
		"channels", options.ChannelCount,
		"buffer_size", options.BufferSize)

	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("audio device init: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("audio device init timeout")
	}
	return &PCM{ctx: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// Start implements audio.Player. The payload must be raw PCM in the
// context format; the volume has already passed the Governor.
func (p *PCM) Start(payload []byte, volume float64) (audio.Stream, error) {
	op := p.ctx.NewPlayer(bytes.NewReader(payload))
	op.SetVolume(volume)
	op.Play()
	s := &pcmStream{
		player: op,
		done:   make(chan error, 1),
	}
	go s.watch()
	return s, nil
}

// pcmStream is one live oto playback. Completion is detected by
// polling IsPlaying.
type pcmStream struct {
	player *oto.Player

	mu    sync.Mutex
	ended bool
	done  chan error
}

func (s *pcmStream) watch() {
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		playing := s.player.IsPlaying()
		s.mu.Unlock()
		if !playing {
			s.finish()
			return
		}
	}
}

func (s *pcmStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err := s.player.Close(); err != nil {
		s.done <- err
	} else {
		s.done <- nil
	}
	close(s.done)
}

// SetVolume implements audio.Stream.
func (s *pcmStream) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.player.SetVolume(v)
}

// Stop implements audio.Stream.
func (s *pcmStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	err := s.player.Close()
	close(s.done)
	return err
}

// Done implements audio.Stream.
func (s *pcmStream) Done() <-chan error {
	return s.done
}
