// Package session runs one device connection: it segments inbound audio into
// utterances, routes each utterance through transcription and the reply
// pipeline, and paces synthesized audio back to the device.
//
// A session has one owner goroutine (Run). It owns the segmenter and decoder.
// A separate reader goroutine only parses inbound messages and sets the abort
// flag. Turns run on their own goroutine, one at a time; the next turn is
// started only after the previous one reported on turnDone.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/chat"
	"github.com/lexiqai/device-gateway/internal/config"
	"github.com/lexiqai/device-gateway/internal/observability"
	"github.com/lexiqai/device-gateway/internal/playback"
	"github.com/lexiqai/device-gateway/internal/stt"
	"github.com/lexiqai/device-gateway/internal/voiceprint"
	"github.com/lexiqai/device-gateway/internal/wakeword"
)

// ErrSessionClosed is returned by writes after the session has ended
var ErrSessionClosed = errors.New("session closed")

const inboundQueue = 64

// Transport is the device connection. Writes may be called concurrently.
type Transport interface {
	ReadMessage() (binary bool, data []byte, err error)
	WriteJSON(v interface{}) error
	SendAudio(packet []byte) error
	Close() error
}

// FrameDecoder turns one inbound packet into PCM
type FrameDecoder interface {
	Decode(packet []byte) ([]int16, error)
}

// Speaker synthesizes text into packets
type Speaker interface {
	Speak(ctx context.Context, text string) (*audio.PacketSequence, error)
}

// AssetLoader loads prerecorded wake replies
type AssetLoader interface {
	Load(ctx context.Context, path string) (*audio.PacketSequence, error)
}

// ImageSource finds or stores images for visual questions
type ImageSource interface {
	Capture(ctx context.Context) (string, error)
	Save(encoded string) (string, error)
}

// Voiceprint registers and identifies speakers
type Voiceprint interface {
	Register(ctx context.Context, userID string, frames []audio.Frame) error
	Identify(ctx context.Context, frames []audio.Frame) (voiceprint.Identity, error)
}

// Deps are the shared collaborators a session uses
type Deps struct {
	STT        stt.Transcriber
	TTS        Speaker
	Chat       chat.Client
	Vision     chat.Client // Answers image questions; Chat when nil
	Images     ImageSource // nil disables visual questions
	Voiceprint Voiceprint  // nil disables registration and identification
	Wake       *wakeword.Table
	Assets     AssetLoader
	Clock      playback.Clock
	NewDecoder func() (FrameDecoder, error)
}

// Options are the per-session settings
type Options struct {
	Mode             audio.ListenMode
	MinFrames        int
	MaxFrames        int
	IdleTimeout      time.Duration
	RingFrames       int
	VAD              *audio.VADConfig
	MaxCmdLength     int
	ExitCommands     []string
	RegisterTrigger  string
	VisionKeywords   []string
	FarewellPrompt   string
	HistoryTurns     int
	OutputSampleRate int
	FrameDuration    time.Duration
}

// OptionsFromConfig builds Options from the service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:        audio.ParseListenMode(cfg.ListenMode),
		MinFrames:   cfg.MinUtteranceFrames,
		MaxFrames:   cfg.MaxUtteranceFrames(),
		IdleTimeout: cfg.IdleTimeout(),
		RingFrames:  cfg.SuppressRingFrames,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			NoiseMultiplier: cfg.VADNoiseMultiplier,
			SilenceFrames:   cfg.VADSilenceFrames,
		},
		MaxCmdLength:     cfg.MaxCmdLength,
		ExitCommands:     cfg.TrimmedExitCommands(),
		RegisterTrigger:  cfg.RegisterTrigger,
		VisionKeywords:   cfg.VisionKeywords,
		FarewellPrompt:   cfg.FarewellPrompt,
		HistoryTurns:     cfg.ChatHistoryTurns,
		OutputSampleRate: cfg.OutputSampleRate,
		FrameDuration:    cfg.FrameDuration(),
	}
}

type inbound struct {
	audio   []byte
	control *ControlMessage
}

type turnKind int

const (
	turnUtterance turnKind = iota
	turnText
	turnVision
	turnFarewell
)

type turn struct {
	kind   turnKind
	frames []audio.Frame
	text   string
	image  string
}

type turnResult struct {
	close bool
}

// Session is one device connection
type Session struct {
	id        string
	deviceID  string
	opts      Options
	deps      Deps
	transport Transport
	clock     playback.Clock
	sender    *playback.Sender
	logger    zerolog.Logger
	metrics   *observability.Metrics

	// Owned by Run
	seg      *audio.Segmenter
	decoder  FrameDecoder
	turnBusy bool

	// Owned by whichever turn is running
	history     *chat.History
	pendingName []audio.Frame // Registration audio waiting for a name
	speakerID   string

	abort    atomic.Bool
	turnDone chan turnResult
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	cancel    context.CancelFunc
}

// New creates a session for transport
func New(transport Transport, deviceID string, opts Options, deps Deps) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = playback.SystemClock{}
	}
	if deps.Vision == nil {
		deps.Vision = deps.Chat
	}
	if deps.NewDecoder == nil {
		return nil, errors.New("session: decoder factory is required")
	}
	decoder, err := deps.NewDecoder()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := deps.Clock.Now()
	return &Session{
		id:        id,
		deviceID:  deviceID,
		opts:      opts,
		deps:      deps,
		transport: transport,
		clock:     deps.Clock,
		sender:    playback.NewSender(deps.Clock),
		logger:    observability.WithSession(id, deviceID),
		metrics:   observability.NewSessionMetrics(),
		seg: audio.NewSegmenter(audio.SegmenterConfig{
			Mode:        opts.Mode,
			MinFrames:   opts.MinFrames,
			MaxFrames:   opts.MaxFrames,
			IdleTimeout: opts.IdleTimeout,
			RingFrames:  opts.RingFrames,
		}, audio.NewEnergyDetector(opts.VAD), now),
		decoder:  decoder,
		history:  chat.NewHistory(opts.HistoryTurns),
		turnDone: make(chan turnResult, 1),
		done:     make(chan struct{}),
	}, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// DeviceID returns the device id given at connect time
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Done is closed when the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until the device disconnects, the session closes
// itself, or ctx is cancelled. The transport is closed on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer s.Close()

	s.metrics.RecordSessionStart()
	s.logger.Info().Str("mode", s.opts.Mode.String()).Msg("Session started")

	events := make(chan inbound, inboundQueue)
	readErr := make(chan error, 1)
	go s.readLoop(events, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case err := <-readErr:
			s.logger.Debug().Err(err).Msg("Device connection read ended")
			return err
		case ev := <-events:
			if ev.control != nil {
				s.handleControl(ctx, ev.control)
			} else {
				s.handleAudio(ctx, ev.audio)
			}
		case res := <-s.turnDone:
			s.turnBusy = false
			if res.close {
				return nil
			}
			if n := len(s.seg.Recent()); n > 0 {
				s.logger.Debug().Int("frames", n).Msg("Dropping audio received during turn")
			}
			s.seg.Resume(s.clock.Now())
		}
	}
}

// Close ends the session. It is safe to call more than once and from any
// goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.abort.Store(true)
		close(s.done)
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		if err := s.transport.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Transport close")
		}
		d := s.metrics.RecordSessionEnd()
		s.logger.Info().Dur("duration", d).Msg("Session ended")
	})
}

func (s *Session) readLoop(events chan<- inbound, errs chan<- error) {
	for {
		binary, data, err := s.transport.ReadMessage()
		if err != nil {
			errs <- err
			return
		}

		var ev inbound
		if binary {
			ev.audio = data
		} else {
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Debug().Err(err).Msg("Dropping malformed control message")
				continue
			}
			if msg.Type == TypeAbort {
				s.abort.Store(true)
			}
			ev.control = &msg
		}

		select {
		case events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleAudio(ctx context.Context, packet []byte) {
	s.metrics.RecordAudioBytes("in", int64(len(packet)))
	pcm, err := s.decoder.Decode(packet)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}
	s.handleResult(ctx, s.seg.Push(audio.Frame{Payload: packet, PCM: pcm, At: s.clock.Now()}))
}

func (s *Session) handleResult(ctx context.Context, res audio.Result) {
	switch res.Event {
	case audio.EventUtterance:
		s.logger.Debug().Int("frames", len(res.Frames)).Msg("Utterance complete")
		s.startTurn(ctx, turn{kind: turnUtterance, frames: res.Frames})
	case audio.EventDiscarded:
		s.metrics.RecordDiscarded()
		s.logger.Debug().Msg("Utterance too short, discarded")
	case audio.EventIdleTimeout:
		s.metrics.RecordIdleTimeout()
		s.logger.Info().Dur("idle_timeout", s.opts.IdleTimeout).Msg("Idle timeout, saying goodbye")
		s.startTurn(ctx, turn{kind: turnFarewell})
	}
}

func (s *Session) handleControl(ctx context.Context, msg *ControlMessage) {
	switch msg.Type {
	case TypeHello:
		s.writeJSON(HelloMessage{
			Type:      TypeHello,
			Transport: "websocket",
			SessionID: s.id,
			AudioParams: AudioParams{
				Format:        "opus",
				SampleRate:    s.opts.OutputSampleRate,
				Channels:      1,
				FrameDuration: int(s.opts.FrameDuration / time.Millisecond),
			},
		})

	case TypeListen:
		if msg.Mode != "" {
			s.seg.SetMode(audio.ParseListenMode(msg.Mode))
		}
		switch msg.State {
		case ListenStart:
			if s.seg.Mode() == audio.ModeManual {
				s.seg.Start(s.clock.Now())
			}
		case ListenStop:
			if s.seg.Mode() == audio.ModeManual {
				s.handleResult(ctx, s.seg.Stop())
			}
		case ListenDetect:
			if s.turnBusy {
				s.logger.Debug().Msg("Detect ignored while a turn is running")
				return
			}
			s.seg.Suppress()
			if msg.Text == "" {
				s.seg.Resume(s.clock.Now())
				return
			}
			s.startTurn(ctx, turn{kind: turnText, text: msg.Text})
		}

	case TypeAbort:
		s.logger.Info().Str("reason", msg.Reason).Msg("Playback aborted by device")

	case TypeVision:
		if s.turnBusy || s.deps.Images == nil {
			s.logger.Debug().Msg("Vision message ignored")
			return
		}
		path, err := s.deps.Images.Save(msg.Image)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rejected vision image")
			return
		}
		s.seg.Suppress()
		s.startTurn(ctx, turn{kind: turnVision, text: msg.Text, image: path})

	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Unknown message type")
	}
}

func (s *Session) startTurn(ctx context.Context, t turn) {
	if s.turnBusy {
		s.logger.Warn().Msg("Turn already running, dropping new turn")
		return
	}
	s.turnBusy = true
	go s.runTurn(context.WithoutCancel(ctx), t)
}

func (s *Session) writeJSON(v interface{}) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := s.transport.WriteJSON(v); err != nil {
		s.metrics.RecordError("write_error", "session")
		return err
	}
	return nil
}

// SendAudio implements playback.Emitter
func (s *Session) SendAudio(packet []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := s.transport.SendAudio(packet); err != nil {
		return err
	}
	s.metrics.RecordAudioBytes("out", int64(len(packet)))
	return nil
}
