//go:build nocgo || !cgo
// +build nocgo !cgo

package player

import (
	"fmt"

	"github.com/sproutlearn/chime/audio"
)

const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// PCM is unavailable without cgo; use the mock instead.
type PCM struct{}

func NewPCM(sampleRate, channels int) (*PCM, error) {
	return nil, fmt.Errorf("audio device unavailable in nocgo builds")
}

func (p *PCM) Start(payload []byte, volume float64) (audio.Stream, error) {
	return nil, fmt.Errorf("audio device unavailable in nocgo builds")
}
