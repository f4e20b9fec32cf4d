package audio

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func sine(n, rate int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := sine(1600, 16000, 440)

	data, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("Expected RIFF/WAVE header, got %q", data[:12])
	}

	clip, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", clip.SampleRate)
	}
	if len(clip.Samples) != len(pcm) {
		t.Fatalf("Expected %d samples, got %d", len(pcm), len(clip.Samples))
	}
	if clip.Samples[100] != pcm[100] {
		t.Errorf("Expected sample %d, got %d", pcm[100], clip.Samples[100])
	}
}

func TestWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteWAVFile(path, sine(2400, 24000, 220), 24000); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	clip, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}
	if clip.Duration() != 0.1 {
		t.Errorf("Expected 0.1s clip, got %f", clip.Duration())
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Error("Expected error for invalid data")
	}
}

func TestOpusEncodeDecode(t *testing.T) {
	pcm := sine(24000*150/1000, 24000, 440) // 150ms

	seq, err := Encode(pcm, 24000, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if seq.Len() != 3 {
		t.Fatalf("Expected 3 packets for 150ms at 60ms, got %d", seq.Len())
	}
	if seq.Duration() != 180*time.Millisecond {
		t.Errorf("Expected 180ms nominal duration, got %v", seq.Duration())
	}

	dec, err := NewDecoder(24000, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	out, err := dec.Decode(seq.Packets[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out) != 1440 {
		t.Errorf("Expected 1440 samples, got %d", len(out))
	}
}

func TestPCMOf(t *testing.T) {
	frames := []Frame{{PCM: []int16{1, 2}}, {PCM: []int16{3}}}

	got := PCMOf(frames)
	if len(got) != 3 || got[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", got)
	}
}
