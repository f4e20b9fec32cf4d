package audio

import (
	"testing"
	"time"
)

const testFrame = 60 * time.Millisecond

type frameClock struct {
	now time.Time
}

func (c *frameClock) next(pcm []int16) Frame {
	c.now = c.now.Add(testFrame)
	return Frame{Payload: []byte{0}, PCM: pcm, At: c.now}
}

func newTestSegmenter(mode ListenMode, idle time.Duration) (*Segmenter, *frameClock) {
	clock := &frameClock{now: time.Unix(1000, 0)}
	d := NewEnergyDetector(&VADConfig{EnergyThreshold: 500, NoiseMultiplier: 3, SilenceFrames: 3})
	s := NewSegmenter(SegmenterConfig{
		Mode:        mode,
		MinFrames:   3,
		IdleTimeout: idle,
		RingFrames:  8,
	}, d, clock.now)
	return s, clock
}

var (
	loud  = constantFrame(960, 5000)
	quiet = constantFrame(960, 0)
)

func TestSegmenter_AllSilenceStaysIdle(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, time.Hour)

	for i := 0; i < 200; i++ {
		if r := s.Push(clock.next(quiet)); r.Event != EventNone {
			t.Fatalf("Expected no event on silent frame %d, got %v", i, r.Event)
		}
	}

	if s.State() != StateIdle {
		t.Errorf("Expected state idle, got %v", s.State())
	}
	if s.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d frames", s.Buffered())
	}
}

func TestSegmenter_AutoUtterance(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, time.Hour)

	for i := 0; i < 5; i++ {
		s.Push(clock.next(loud))
	}
	if s.State() != StateCollecting {
		t.Fatalf("Expected collecting, got %v", s.State())
	}

	var r Result
	for i := 0; i < 3; i++ {
		r = s.Push(clock.next(quiet))
	}

	if r.Event != EventUtterance {
		t.Fatalf("Expected utterance, got %v", r.Event)
	}
	if len(r.Frames) != 8 {
		t.Errorf("Expected 8 frames including trailing silence, got %d", len(r.Frames))
	}
	if s.State() != StateSuppressed {
		t.Errorf("Expected suppressed after handoff, got %v", s.State())
	}
	if s.Buffered() != 0 {
		t.Errorf("Expected buffer handed off, got %d frames", s.Buffered())
	}
}

func TestSegmenter_ShortAutoUtteranceDiscarded(t *testing.T) {
	clock := &frameClock{now: time.Unix(0, 0)}
	d := NewEnergyDetector(&VADConfig{EnergyThreshold: 500, SilenceFrames: 1})
	s := NewSegmenter(SegmenterConfig{MinFrames: 3}, d, clock.now)

	s.Push(clock.next(loud))
	r := s.Push(clock.next(quiet))

	if r.Event != EventDiscarded {
		t.Fatalf("Expected discarded, got %v", r.Event)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after discard, got %v", s.State())
	}
}

func TestSegmenter_ManualUtterance(t *testing.T) {
	s, clock := newTestSegmenter(ModeManual, time.Hour)

	// Voice is ignored until the device says start
	s.Push(clock.next(loud))
	if s.Buffered() != 0 {
		t.Fatalf("Expected no buffering before start, got %d", s.Buffered())
	}

	s.Start(clock.now)
	for i := 0; i < 4; i++ {
		s.Push(clock.next(quiet))
	}
	r := s.Stop()

	if r.Event != EventUtterance {
		t.Fatalf("Expected utterance, got %v", r.Event)
	}
	if len(r.Frames) != 4 {
		t.Errorf("Expected 4 frames, got %d", len(r.Frames))
	}
}

func TestSegmenter_ManualStopTooShort(t *testing.T) {
	s, clock := newTestSegmenter(ModeManual, time.Hour)

	s.Start(clock.now)
	s.Push(clock.next(loud))
	s.Push(clock.next(loud))
	r := s.Stop()

	if r.Event != EventDiscarded {
		t.Errorf("Expected two frames to be discarded, got %v", r.Event)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle, got %v", s.State())
	}
}

func TestSegmenter_ManualStopEmpty(t *testing.T) {
	s, _ := newTestSegmenter(ModeManual, time.Hour)

	if r := s.Stop(); r.Event != EventDiscarded {
		t.Errorf("Expected empty stop to be discarded, got %v", r.Event)
	}
}

func TestSegmenter_SuppressedFramesGoToRing(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, time.Hour)
	s.Suppress()

	for i := 0; i < 20; i++ {
		if r := s.Push(clock.next(loud)); r.Event != EventNone {
			t.Fatalf("Expected no event while suppressed, got %v", r.Event)
		}
	}

	if s.Buffered() != 0 {
		t.Errorf("Expected no segmentation while suppressed, got %d", s.Buffered())
	}
	if got := len(s.Recent()); got != 8 {
		t.Errorf("Expected ring bounded at 8, got %d", got)
	}
	if r := s.Stop(); r.Event != EventNone {
		t.Errorf("Expected stop to be ignored while suppressed, got %v", r.Event)
	}
}

func TestSegmenter_ResumeResetsToIdle(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, time.Hour)
	s.Push(clock.next(loud))
	s.Suppress()
	s.Push(clock.next(loud))

	s.Resume(clock.now)

	if s.State() != StateIdle {
		t.Errorf("Expected idle after resume, got %v", s.State())
	}
	if s.Buffered() != 0 || len(s.Recent()) != 0 {
		t.Error("Expected buffers cleared after resume")
	}
}

func TestSegmenter_ManualStartWhileSuppressedStaysArmed(t *testing.T) {
	s, clock := newTestSegmenter(ModeManual, time.Hour)
	s.Suppress()
	s.Start(clock.now)
	s.Resume(clock.now)

	s.Push(clock.next(quiet))
	if s.Buffered() != 1 {
		t.Errorf("Expected armed start to buffer after resume, got %d", s.Buffered())
	}
}

func TestSegmenter_IdleTimeoutFiresOnce(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, 120*time.Second)

	fired := 0
	// 130 seconds of silence
	for i := 0; i < int(130*time.Second/testFrame); i++ {
		if s.Push(clock.next(quiet)).Event == EventIdleTimeout {
			fired++
		}
	}

	if fired != 1 {
		t.Errorf("Expected exactly one idle timeout, got %d", fired)
	}
	if s.State() != StateSuppressed {
		t.Errorf("Expected suppressed after idle timeout, got %v", s.State())
	}
}

func TestSegmenter_VoiceResetsIdleTimer(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, 10*time.Second)

	for i := 0; i < int(8*time.Second/testFrame); i++ {
		s.Push(clock.next(quiet))
	}
	for i := 0; i < 3; i++ {
		s.Push(clock.next(loud))
	}
	s.Push(clock.next(quiet))
	s.Push(clock.next(quiet))
	s.Push(clock.next(quiet))
	s.Resume(clock.now)

	for i := 0; i < int(8*time.Second/testFrame); i++ {
		if s.Push(clock.next(quiet)).Event == EventIdleTimeout {
			t.Fatal("Expected idle timer to restart after the utterance")
		}
	}
}

func TestSegmenter_IdleTimeoutNeedsSilenceBeyondThreshold(t *testing.T) {
	s, clock := newTestSegmenter(ModeAuto, 10*testFrame)

	for i := 0; i < 10; i++ {
		if s.Push(clock.next(quiet)).Event == EventIdleTimeout {
			t.Fatalf("Expected no timeout at %v of silence", time.Duration(i+1)*testFrame)
		}
	}
	if r := s.Push(clock.next(quiet)); r.Event != EventIdleTimeout {
		t.Errorf("Expected timeout once silence exceeds the threshold, got %v", r.Event)
	}
}

func TestSegmenter_MaxFramesCutsEndlessVoice(t *testing.T) {
	clock := &frameClock{now: time.Unix(1000, 0)}
	d := NewEnergyDetector(&VADConfig{EnergyThreshold: 500, NoiseMultiplier: 3, SilenceFrames: 3})
	s := NewSegmenter(SegmenterConfig{
		Mode:        ModeAuto,
		MinFrames:   3,
		MaxFrames:   20,
		IdleTimeout: time.Minute,
		RingFrames:  8,
	}, d, clock.now)

	// Steady hum just above the threshold never reads as silence
	hum := constantFrame(960, 600)
	for i := 1; i < 20; i++ {
		if r := s.Push(clock.next(hum)); r.Event != EventNone {
			t.Fatalf("Frame %d: expected no event, got %v", i, r.Event)
		}
	}
	r := s.Push(clock.next(hum))
	if r.Event != EventUtterance {
		t.Fatalf("Expected utterance at the frame cap, got %v", r.Event)
	}
	if len(r.Frames) != 20 {
		t.Errorf("Expected 20 frames, got %d", len(r.Frames))
	}
	if s.Buffered() != 0 {
		t.Errorf("Expected empty buffer after cut, got %d", s.Buffered())
	}
}

func TestSegmenter_MaxFramesAppliesToManualMode(t *testing.T) {
	clock := &frameClock{now: time.Unix(1000, 0)}
	s := NewSegmenter(SegmenterConfig{Mode: ModeManual, MinFrames: 3, MaxFrames: 5}, nil, clock.now)
	s.Start(clock.now)

	var r Result
	for i := 0; i < 5; i++ {
		r = s.Push(clock.next(quiet))
	}
	if r.Event != EventUtterance || len(r.Frames) != 5 {
		t.Errorf("Expected 5-frame utterance, got %v with %d frames", r.Event, len(r.Frames))
	}
}

func TestSegmenter_SetModeAutoDisarms(t *testing.T) {
	s, clock := newTestSegmenter(ModeManual, time.Hour)
	s.Start(clock.now)
	s.SetMode(ModeAuto)

	s.Push(clock.next(quiet))
	if s.Buffered() != 0 {
		t.Errorf("Expected silent frame to be dropped in auto mode, got %d", s.Buffered())
	}
	if s.Mode() != ModeAuto {
		t.Errorf("Expected auto mode, got %v", s.Mode())
	}
}

func TestParseListenMode(t *testing.T) {
	if ParseListenMode("manual") != ModeManual {
		t.Error("Expected manual")
	}
	if ParseListenMode("realtime") != ModeAuto {
		t.Error("Expected realtime to map to auto")
	}
}
