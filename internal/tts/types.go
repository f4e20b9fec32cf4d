package tts

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/resilience"
)

// ErrEmptyAudio is returned when a provider answers with no samples
var ErrEmptyAudio = errors.New("tts returned empty audio")

// Synthesizer converts text to mono PCM
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.PCMClip, error)
}

// Speaker turns text into a packet sequence ready for the paced sender
type Speaker struct {
	synth         Synthesizer
	guard         *resilience.Guard
	sampleRate    int
	frameDuration time.Duration
}

// NewSpeaker creates a Speaker encoding at sampleRate. guard may be nil.
func NewSpeaker(synth Synthesizer, guard *resilience.Guard, sampleRate int, frameDuration time.Duration) *Speaker {
	return &Speaker{
		synth:         synth,
		guard:         guard,
		sampleRate:    sampleRate,
		frameDuration: frameDuration,
	}
}

// Speak synthesizes text and encodes it into opus packets
func (s *Speaker) Speak(ctx context.Context, text string) (*audio.PacketSequence, error) {
	var clip audio.PCMClip
	call := func(ctx context.Context) error {
		var err error
		clip, err = s.synth.Synthesize(ctx, text)
		return err
	}

	var err error
	if s.guard != nil {
		err = s.guard.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyAudio
	}

	pcm := audio.Resample(clip.Samples, clip.SampleRate, s.sampleRate)
	return audio.Encode(pcm, s.sampleRate, s.frameDuration)
}
