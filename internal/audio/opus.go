package audio

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Devices speak mono opus; the inbound and outbound rates are configured
// separately.
const opusChannels = 1

// maxOpusPacket bounds a single encoded packet
const maxOpusPacket = 4000

// PacketSequence is a finite run of compressed packets of equal nominal
// duration, ready for paced delivery. It is consumed by exactly one playback.
type PacketSequence struct {
	Packets       [][]byte
	FrameDuration time.Duration
}

// Len returns the number of packets
func (p *PacketSequence) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Packets)
}

// Duration returns the nominal playback length
func (p *PacketSequence) Duration() time.Duration {
	return time.Duration(p.Len()) * p.FrameDuration
}

// Decoder turns inbound opus packets into PCM. Each connection owns one so
// decoder state carries across consecutive frames.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a decoder for mono audio at sampleRate
func NewDecoder(sampleRate int, frameDuration time.Duration) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: samplesFor(sampleRate, frameDuration)}, nil
}

// Decode decodes one packet
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return pcm, nil
}

// Encode packetizes mono PCM at sampleRate into opus packets of
// frameDuration each. The final partial frame is padded with silence.
func Encode(pcm []int16, sampleRate int, frameDuration time.Duration) (*PacketSequence, error) {
	enc, err := gopus.NewEncoder(sampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}

	frameSize := samplesFor(sampleRate, frameDuration)
	if frameSize == 0 {
		return nil, fmt.Errorf("audio: invalid frame duration %v at %d Hz", frameDuration, sampleRate)
	}

	seq := &PacketSequence{FrameDuration: frameDuration}
	for off := 0; off < len(pcm); off += frameSize {
		frame := pcm[off:min(off+frameSize, len(pcm))]
		if len(frame) < frameSize {
			padded := make([]int16, frameSize)
			copy(padded, frame)
			frame = padded
		}
		packet, err := enc.Encode(frame, frameSize, maxOpusPacket)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		seq.Packets = append(seq.Packets, packet)
	}
	return seq, nil
}

func samplesFor(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}
