// Package audio defines the frame types, buffering primitives, and device
// abstractions shared by every stage of the earshot voice pipeline.
//
// The two core data types are [Frame] — an immutable slice of captured PCM —
// and [RollingBuffer], a duration-capped FIFO used by the wake-word detector
// for pre-roll context and by the command recorder for the captured utterance.
//
// Device access goes through the [Backend], [CaptureDevice], and
// [PlaybackDevice] interfaces so that the pipeline can run against the real
// miniaudio backend (audio/malgodev) in production and a scripted backend
// (audio/mock) in tests.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement the device interfaces.
package audio

import "time"

// Frame is a single fixed-size frame of PCM audio flowing through the
// pipeline. Frames are the atomic unit of audio transport: captured from the
// input device, gated by the wake-word detector, and buffered by the command
// recorder.
//
// A Frame is immutable after creation. Consumers must not modify Data;
// components that need a mutable copy take one explicitly.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz. The pipeline runs at 16000 throughout.
	SampleRate int

	// Channels is the channel count. 1 everywhere in the pipeline; the
	// converter downmixes devices that only open in stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	// It is monotonic: frames from one stream carry strictly increasing values.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data, derived from its
// byte length, sample rate, and channel count. Returns 0 for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of the format (16-bit samples).
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
