package audio

import "time"

// Frame is one inbound audio packet: the compressed payload as received and
// the PCM it decodes to.
type Frame struct {
	Payload []byte
	PCM     []int16
	At      time.Time
}

// PCMOf concatenates the decoded samples of frames
func PCMOf(frames []Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f.PCM)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f.PCM...)
	}
	return out
}
