package wakeword

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/device-gateway/internal/audio"
)

func writeTone(t *testing.T, path string, rate int, ms int) {
	t.Helper()
	pcm := make([]int16, rate*ms/1000)
	for i := range pcm {
		pcm[i] = int16(6000 * math.Sin(2*math.Pi*330*float64(i)/float64(rate)))
	}
	if err := audio.WriteWAVFile(path, pcm, rate); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestAssets_LoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greet.wav")
	writeTone(t, path, 16000, 300)

	a := NewAssets(24000, 60*time.Millisecond, nil)
	seq, err := a.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if seq.Len() != 5 {
		t.Errorf("Expected 5 packets for 300ms, got %d", seq.Len())
	}
	if seq.FrameDuration != 60*time.Millisecond {
		t.Errorf("Expected 60ms frames, got %v", seq.FrameDuration)
	}
}

func TestAssets_CachesAndDedupes(t *testing.T) {
	var calls atomic.Int32
	dir := t.TempDir()
	src := filepath.Join(dir, "tone.wav")
	writeTone(t, src, 24000, 120)

	transcode := func(ctx context.Context, path string, rate int) ([]byte, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		clip, err := audio.ReadWAVFile(src)
		if err != nil {
			return nil, err
		}
		return audio.EncodeWAV(clip.Samples, clip.SampleRate)
	}
	a := NewAssets(24000, 60*time.Millisecond, transcode)
	mp3 := filepath.Join(dir, "hello.mp3")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Load(context.Background(), mp3); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}
	wg.Wait()
	a.Load(context.Background(), mp3)

	if calls.Load() != 1 {
		t.Errorf("Expected one conversion, got %d", calls.Load())
	}
}

func TestAssets_MissingFile(t *testing.T) {
	a := NewAssets(24000, 60*time.Millisecond, nil)

	_, err := a.Load(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	if !errors.Is(err, ErrAssetUnavailable) {
		t.Errorf("Expected ErrAssetUnavailable, got %v", err)
	}
}

func TestAssets_UnsupportedExtension(t *testing.T) {
	a := NewAssets(24000, 60*time.Millisecond, nil)

	_, err := a.Load(context.Background(), "greeting.aiff")
	if !errors.Is(err, ErrAssetUnavailable) {
		t.Errorf("Expected ErrAssetUnavailable, got %v", err)
	}
}

func TestAssets_Warm(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.wav")
	writeTone(t, good, 24000, 60)
	a := NewAssets(24000, 60*time.Millisecond, nil)

	if err := a.Warm(context.Background(), []string{good, filepath.Join(dir, "missing.wav")}); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	a.mu.RLock()
	_, cached := a.cache[good]
	a.mu.RUnlock()
	if !cached {
		t.Error("Expected warmed asset to be cached")
	}
}
