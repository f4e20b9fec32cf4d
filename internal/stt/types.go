package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/resilience"
)

// Transcript is the result of transcribing one utterance
type Transcript struct {
	// Text is the transcribed text
	Text string

	// ArtifactPath is the WAV file the utterance was saved to
	ArtifactPath string

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Transcriber turns a finished utterance into text
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, frames []audio.Frame) (Transcript, error)
}

// ArtifactWriter saves utterances as WAV files
type ArtifactWriter struct {
	dir        string
	sampleRate int
}

// NewArtifactWriter creates dir if needed
func NewArtifactWriter(dir string, sampleRate int) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &ArtifactWriter{dir: dir, sampleRate: sampleRate}, nil
}

// Write stores frames and returns the file path
func (w *ArtifactWriter) Write(sessionID string, frames []audio.Frame) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("asr_%s_%s.wav", sessionID, uuid.NewString()))
	if err := audio.WriteWAVFile(path, audio.PCMOf(frames), w.sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// SampleRate returns the rate artifacts are written at
func (w *ArtifactWriter) SampleRate() int {
	return w.sampleRate
}

// Guarded runs a Transcriber under a resilience guard
type Guarded struct {
	next  Transcriber
	guard *resilience.Guard
}

// WithGuard wraps t
func WithGuard(t Transcriber, g *resilience.Guard) *Guarded {
	return &Guarded{next: t, guard: g}
}

// Transcribe implements Transcriber
func (g *Guarded) Transcribe(ctx context.Context, sessionID string, frames []audio.Frame) (Transcript, error) {
	var out Transcript
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Transcribe(ctx, sessionID, frames)
		return err
	})
	return out, err
}
