package wakeword

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/observability"
)

// ErrAssetUnavailable wraps every asset load failure
var ErrAssetUnavailable = errors.New("wake asset unavailable")

// Transcoder turns a non-WAV asset into WAV bytes at sampleRate mono
type Transcoder func(ctx context.Context, path string, sampleRate int) ([]byte, error)

// FFmpeg transcodes through the ffmpeg binary on PATH
func FFmpeg(ctx context.Context, path string, sampleRate int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Assets converts wake reply files into packet sequences on first use and
// caches them process-wide. Concurrent loads of the same file share one
// conversion.
type Assets struct {
	sampleRate    int
	frameDuration time.Duration
	transcode     Transcoder
	logger        zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*audio.PacketSequence
}

// NewAssets creates an asset cache producing packets at sampleRate
func NewAssets(sampleRate int, frameDuration time.Duration, transcode Transcoder) *Assets {
	if transcode == nil {
		transcode = FFmpeg
	}
	return &Assets{
		sampleRate:    sampleRate,
		frameDuration: frameDuration,
		transcode:     transcode,
		logger:        observability.WithComponent("wake_assets"),
		cache:         make(map[string]*audio.PacketSequence),
	}
}

// Load returns the packets for path. The returned sequence is the caller's
// own; the cache keeps its copy.
func (a *Assets) Load(ctx context.Context, path string) (*audio.PacketSequence, error) {
	a.mu.RLock()
	seq, ok := a.cache[path]
	a.mu.RUnlock()
	if ok {
		return clone(seq), nil
	}

	v, err, _ := a.group.Do(path, func() (interface{}, error) {
		a.mu.RLock()
		seq, ok := a.cache[path]
		a.mu.RUnlock()
		if ok {
			return seq, nil
		}

		seq, err := a.convert(ctx, path)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.cache[path] = seq
		a.mu.Unlock()
		a.logger.Debug().
			Str("asset", path).
			Int("packets", seq.Len()).
			Dur("duration", seq.Duration()).
			Msg("Wake asset cached")
		return seq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetUnavailable, path, err)
	}
	return clone(v.(*audio.PacketSequence)), nil
}

// Warm loads every path in the background set, logging failures
func (a *Assets) Warm(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range paths {
		g.Go(func() error {
			if _, err := a.Load(ctx, p); err != nil {
				a.logger.Warn().Err(err).Str("asset", p).Msg("Wake asset failed to preload")
			}
			return ctx.Err()
		})
	}
	return g.Wait()
}

func (a *Assets) convert(ctx context.Context, path string) (*audio.PacketSequence, error) {
	var clip audio.PCMClip
	var err error
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err = audio.ReadWAVFile(path)
	} else if Supported(path) {
		var data []byte
		if data, err = a.transcode(ctx, path, a.sampleRate); err == nil {
			clip, err = audio.DecodeWAV(data)
		}
	} else {
		err = fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(clip.Samples) == 0 {
		return nil, errors.New("asset contains no audio")
	}

	pcm := audio.Resample(clip.Samples, clip.SampleRate, a.sampleRate)
	return audio.Encode(pcm, a.sampleRate, a.frameDuration)
}

func clone(seq *audio.PacketSequence) *audio.PacketSequence {
	return &audio.PacketSequence{Packets: seq.Packets, FrameDuration: seq.FrameDuration}
}
