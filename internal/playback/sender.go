// Package playback delivers outbound audio packets to a device at real-time
// pace.
package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/device-gateway/internal/audio"
)

// Clock is the time source used for pacing
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock paces against the monotonic wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Emitter writes one packet to the device
type Emitter interface {
	SendAudio(packet []byte) error
}

// Outcome is how a send ended
type Outcome int

const (
	Completed Outcome = iota
	Aborted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "error"
}

// Sender paces packets so packet i leaves at t0 + i*d, where t0 is taken
// once at the start. Measuring against a fixed start keeps per-packet
// overhead from accumulating into drift.
type Sender struct {
	clock Clock
}

// NewSender creates a sender. A nil clock means the system clock.
func NewSender(clock Clock) *Sender {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sender{clock: clock}
}

// Send delivers seq through out. aborted is polled before every sleep and
// again before every emission; once it reports true no further packet is
// sent. A transport error ends the send and is returned without retry.
func (s *Sender) Send(ctx context.Context, out Emitter, seq *audio.PacketSequence, aborted func() bool) (Outcome, error) {
	if seq.Len() == 0 {
		return Completed, nil
	}

	d := seq.FrameDuration
	t0 := s.clock.Now()

	for i, packet := range seq.Packets {
		if aborted() {
			return Aborted, nil
		}

		target := t0.Add(time.Duration(i) * d)
		if wait := target.Sub(s.clock.Now()); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return Aborted, nil
			}
		}

		if aborted() {
			return Aborted, nil
		}
		if err := out.SendAudio(packet); err != nil {
			return Failed, fmt.Errorf("playback: send packet %d/%d: %w", i+1, len(seq.Packets), err)
		}
	}
	return Completed, nil
}
