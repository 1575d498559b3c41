package audio

import (
	"sync"
	"time"
)

// RollingBuffer retains the most recent frames of an audio stream up to a
// configurable total duration. When appending a frame would exceed the cap,
// the oldest frames are evicted first (FIFO).
//
// The wake-word detector uses a RollingBuffer for its evaluation window and
// pre-roll context; the command recorder uses one for the captured utterance.
//
// All methods are safe for concurrent use.
type RollingBuffer struct {
	mu     sync.Mutex
	frames []Frame
	total  time.Duration
	cap    time.Duration
}

// NewRollingBuffer creates a buffer that retains at most cap of audio.
// A non-positive cap is treated as unbounded.
func NewRollingBuffer(cap time.Duration) *RollingBuffer {
	return &RollingBuffer{cap: cap}
}

// Append adds a frame and evicts the oldest frames until the retained
// duration is within the cap again.
func (b *RollingBuffer) Append(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, f)
	b.total += f.Duration()
	b.evict()
}

// Duration returns the total play time of all retained frames.
func (b *RollingBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Len returns the number of retained frames.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Bytes returns the retained PCM concatenated oldest-first. The returned
// slice is a fresh copy; the caller may keep or modify it freely.
func (b *RollingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := 0
	for _, f := range b.frames {
		size += len(f.Data)
	}
	out := make([]byte, 0, size)
	for _, f := range b.frames {
		out = append(out, f.Data...)
	}
	return out
}

// Frames returns a snapshot of the retained frames, oldest first.
func (b *RollingBuffer) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Bounds returns the timestamps of the oldest and newest retained frames.
// ok is false when the buffer is empty.
func (b *RollingBuffer) Bounds() (start, end time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return 0, 0, false
	}
	first := b.frames[0]
	last := b.frames[len(b.frames)-1]
	return first.Timestamp, last.Timestamp + last.Duration(), true
}

// TrimTo evicts frames from the oldest end until at most keep of audio
// remains. Used by the detector to retain a short trailing window for overlap
// continuity after a rejected evaluation.
func (b *RollingBuffer) TrimTo(keep time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.frames) > 0 && b.total > keep {
		b.total -= b.frames[0].Duration()
		b.frames = b.frames[1:]
	}
	b.compact()
}

// Clear drops all retained frames.
func (b *RollingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.total = 0
}

// SetCap changes the retention cap at runtime and immediately evicts any
// excess. A non-positive cap is treated as unbounded.
func (b *RollingBuffer) SetCap(cap time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cap = cap
	b.evict()
}

// evict drops oldest frames until the retained duration is within the cap.
// Must be called with b.mu held.
func (b *RollingBuffer) evict() {
	if b.cap <= 0 {
		return
	}
	for len(b.frames) > 0 && b.total > b.cap {
		b.total -= b.frames[0].Duration()
		b.frames = b.frames[1:]
	}
	b.compact()
}

// compact reallocates the backing array when the slice header has drifted far
// from its origin, so evicted frames do not pin memory for the stream's
// lifetime. Must be called with b.mu held.
func (b *RollingBuffer) compact() {
	if cap(b.frames) > 64 && len(b.frames) < cap(b.frames)/4 {
		fresh := make([]Frame, len(b.frames))
		copy(fresh, b.frames)
		b.frames = fresh
	}
}
