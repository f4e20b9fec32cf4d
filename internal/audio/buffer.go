package audio

import (
	"sync"
)

// FrameRing is a thread-safe bounded ring of frames. Once full, each push
// overwrites the oldest frame.
type FrameRing struct {
	frames []Frame
	size   int
	start  int
	count  int
	mu     sync.RWMutex
}

// NewFrameRing creates a ring holding at most size frames
func NewFrameRing(size int) *FrameRing {
	if size < 1 {
		size = 1
	}
	return &FrameRing{
		frames: make([]Frame, size),
		size:   size,
	}
}

// Push appends a frame, evicting the oldest when full.
// Returns true if a frame was evicted.
func (r *FrameRing) Push(f Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.size {
		r.frames[(r.start+r.count)%r.size] = f
		r.count++
		return false
	}

	r.frames[r.start] = f
	r.start = (r.start + 1) % r.size
	return true
}

// Snapshot returns the buffered frames, oldest first
func (r *FrameRing) Snapshot() []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Frame, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.frames[(r.start+i)%r.size]
	}
	return out
}

// Len returns the number of buffered frames
func (r *FrameRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear empties the ring
func (r *FrameRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.frames {
		r.frames[i] = Frame{}
	}
	r.start = 0
	r.count = 0
}
