package audio

import (
	"time"
)

// ListenMode selects who decides where utterances start and stop
type ListenMode int

const (
	ModeAuto   ListenMode = iota // Energy detector decides
	ModeManual                   // Device sends explicit start and stop
)

// ParseListenMode maps a wire value to a mode. Unknown values are auto.
func ParseListenMode(s string) ListenMode {
	if s == "manual" {
		return ModeManual
	}
	return ModeAuto
}

func (m ListenMode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "auto"
}

// SegmenterState is the segmentation phase of a connection
type SegmenterState int

const (
	StateIdle       SegmenterState = iota // Waiting for voice
	StateCollecting                       // Buffering an utterance
	StateStopped                          // Utterance closed, being handed off
	StateSuppressed                       // Reception paused while a turn runs
)

func (s SegmenterState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateStopped:
		return "stopped"
	case StateSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Event is what a pushed frame or control signal produced
type Event int

const (
	EventNone        Event = iota
	EventUtterance         // Frames holds a complete utterance
	EventDiscarded         // Utterance was too short and was dropped
	EventIdleTimeout       // Silence exceeded the idle threshold
)

// Result carries an Event and, for EventUtterance, the utterance frames
type Result struct {
	Event  Event
	Frames []Frame
}

// SegmenterConfig configures a Segmenter
type SegmenterConfig struct {
	Mode        ListenMode
	MinFrames   int           // Utterances shorter than this are noise
	MaxFrames   int           // Utterances are cut at this length; zero means unbounded
	IdleTimeout time.Duration // Zero disables the idle timer
	RingFrames  int           // Frames retained while suppressed
}

// Segmenter owns one connection's utterance buffer and decides where
// utterances begin and end. It is not safe for concurrent use; the session
// goroutine is its only caller.
type Segmenter struct {
	cfg      SegmenterConfig
	detector *EnergyDetector
	th       Thresholds

	mode        ListenMode
	state       SegmenterState
	buf         []Frame
	silentRun   int
	manualVoice bool // manual start received and not yet stopped

	lastActivity time.Time
	idleFired    bool

	ring *FrameRing
}

// NewSegmenter creates a segmenter in StateIdle. now seeds the idle timer.
func NewSegmenter(cfg SegmenterConfig, detector *EnergyDetector, now time.Time) *Segmenter {
	if cfg.MinFrames < 1 {
		cfg.MinFrames = 1
	}
	if detector == nil {
		detector = NewEnergyDetector(nil)
	}
	return &Segmenter{
		cfg:          cfg,
		detector:     detector,
		mode:         cfg.Mode,
		state:        StateIdle,
		lastActivity: now,
		ring:         NewFrameRing(cfg.RingFrames),
	}
}

// Push feeds one frame
func (s *Segmenter) Push(f Frame) Result {
	if s.state == StateSuppressed {
		s.ring.Push(f)
		return Result{}
	}

	var voice bool
	if s.mode == ModeAuto {
		voice = s.detector.Classify(&s.th, f.PCM)
	} else {
		voice = s.manualVoice
	}

	if voice {
		s.buf = append(s.buf, f)
		s.state = StateCollecting
		s.silentRun = 0
		s.lastActivity = f.At
		if s.full() {
			return s.finish()
		}
		return Result{}
	}

	if s.state == StateCollecting {
		// Trailing silence belongs to the utterance until the hangover ends it
		s.buf = append(s.buf, f)
		s.silentRun++
		if (s.mode == ModeAuto && s.silentRun >= s.detector.SilenceFrames()) || s.full() {
			return s.finish()
		}
		return Result{}
	}

	// Neither this frame nor the current segment has voice
	s.buf = nil
	if s.cfg.IdleTimeout > 0 && !s.idleFired && f.At.Sub(s.lastActivity) > s.cfg.IdleTimeout {
		s.idleFired = true
		s.state = StateSuppressed
		return Result{Event: EventIdleTimeout}
	}
	return Result{}
}

// Start handles a manual start signal. A start received while suppressed
// stays armed for when reception resumes.
func (s *Segmenter) Start(now time.Time) {
	s.manualVoice = true
	s.lastActivity = now
}

// Stop handles a manual stop signal and closes the current utterance
func (s *Segmenter) Stop() Result {
	s.manualVoice = false
	if s.state == StateSuppressed {
		return Result{}
	}
	return s.finish()
}

func (s *Segmenter) full() bool {
	return s.cfg.MaxFrames > 0 && len(s.buf) >= s.cfg.MaxFrames
}

func (s *Segmenter) finish() Result {
	s.state = StateStopped
	frames := s.buf
	s.buf = nil
	s.silentRun = 0

	if len(frames) < s.cfg.MinFrames {
		s.state = StateIdle
		return Result{Event: EventDiscarded}
	}
	s.state = StateSuppressed
	return Result{Event: EventUtterance, Frames: frames}
}

// Suppress pauses segmentation and drops any partial utterance
func (s *Segmenter) Suppress() {
	s.state = StateSuppressed
	s.buf = nil
	s.silentRun = 0
}

// Resume re-enables reception. It always lands in StateIdle with an empty
// buffer; an armed manual start is kept.
func (s *Segmenter) Resume(now time.Time) {
	s.state = StateIdle
	s.buf = nil
	s.silentRun = 0
	s.lastActivity = now
	s.ring.Clear()
}

// SetMode switches the listening mode
func (s *Segmenter) SetMode(m ListenMode) {
	s.mode = m
	if m == ModeAuto {
		s.manualVoice = false
	}
}

// Mode returns the listening mode
func (s *Segmenter) Mode() ListenMode {
	return s.mode
}

// State returns the current state
func (s *Segmenter) State() SegmenterState {
	return s.state
}

// Buffered returns the number of frames in the current utterance
func (s *Segmenter) Buffered() int {
	return len(s.buf)
}

// Recent returns the frames received while suppressed, oldest first
func (s *Segmenter) Recent() []Frame {
	return s.ring.Snapshot()
}
