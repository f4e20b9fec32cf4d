package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/config"
	"github.com/lexiqai/device-gateway/internal/observability"
	"github.com/lexiqai/device-gateway/internal/resilience"
)

const (
	deepgramChunkBytes = 8192
	// deepgramSettle is how long to wait for more results after the last one
	deepgramSettle = 1200 * time.Millisecond
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// finals accumulates final transcript segments for one utterance
type finals struct {
	mu         sync.Mutex
	parts      []string
	confidence float64
	notify     chan struct{}
	errs       chan error
}

func newFinals() *finals {
	return &finals{notify: make(chan struct{}, 1), errs: make(chan error, 1)}
}

func (f *finals) handle(msg *msginterfaces.MessageResponse) {
	if msg == nil || msg.Type != "Results" || !msg.IsFinal {
		return
	}
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]

	f.mu.Lock()
	if alt.Transcript != "" {
		f.parts = append(f.parts, alt.Transcript)
		if alt.Confidence > f.confidence {
			f.confidence = alt.Confidence
		}
	}
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *finals) fail(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

func (f *finals) result() (string, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.TrimSpace(strings.Join(f.parts, "")), f.confidence
}

// DeepgramClient transcribes each utterance over its own Deepgram live connection
type DeepgramClient struct {
	apiKey    string
	model     string
	language  string
	artifacts *ArtifactWriter
	reconnect *resilience.ReconnectConfig
	settle    time.Duration
	logger    zerolog.Logger
}

// NewDeepgramClient creates a new Deepgram client
func NewDeepgramClient(cfg *config.Config, artifacts *ArtifactWriter) *DeepgramClient {
	return &DeepgramClient{
		apiKey:    cfg.DeepgramAPIKey,
		model:     cfg.DeepgramModel,
		language:  cfg.DeepgramLanguage,
		artifacts: artifacts,
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  5 * time.Second,
		},
		settle: deepgramSettle,
		logger: observability.WithComponent("deepgram"),
	}
}

// Transcribe implements Transcriber
func (d *DeepgramClient) Transcribe(ctx context.Context, sessionID string, frames []audio.Frame) (Transcript, error) {
	path, err := d.artifacts.Write(sessionID, frames)
	if err != nil {
		return Transcript{}, fmt.Errorf("deepgram: save utterance: %w", err)
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:      d.model,
		Language:   d.language,
		Punctuate:  true,
		Encoding:   "linear16",
		Channels:   1,
		SampleRate: d.artifacts.SampleRate(),
	}

	results := newFinals()
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                results.handle,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			results.fail(fmt.Errorf("deepgram: %+v", *errorResponse))
			return nil
		},
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := listenClient.NewWSUsingCallback(connCtx, d.apiKey, nil, tOptions, callback)
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	err = resilience.Reconnect(ctx, func() error {
		if !client.Connect() {
			return resilience.NewRetryableError(errors.New("deepgram: connect failed"))
		}
		return nil
	}, d.reconnect)
	if err != nil {
		return Transcript{}, err
	}
	defer client.Finish()

	pcm := audio.Int16ToBytes(audio.PCMOf(frames))
	for off := 0; off < len(pcm); off += deepgramChunkBytes {
		end := min(off+deepgramChunkBytes, len(pcm))
		if _, err := client.Write(pcm[off:end]); err != nil {
			return Transcript{}, fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
	}

	timer := time.NewTimer(d.settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		case err := <-results.errs:
			return Transcript{}, err
		case <-results.notify:
			timer.Reset(d.settle)
		case <-timer.C:
			text, confidence := results.result()
			d.logger.Debug().
				Str("session_id", sessionID).
				Str("text", text).
				Float64("confidence", confidence).
				Msg("Deepgram final transcription")
			return Transcript{Text: text, ArtifactPath: path, Confidence: confidence}, nil
		}
	}
}
