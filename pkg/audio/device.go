package audio

import (
	"context"
	"fmt"
)

// DataCallback receives raw PCM from a capture device. It is invoked on the
// device's real-time thread and must never block; hand the data off and
// return.
type DataCallback func(pcm []byte)

// CaptureConfig describes the stream a capture device should open.
type CaptureConfig struct {
	// Format is the requested sample rate and channel count.
	Format Format

	// FrameSize is the requested frame length in samples per channel.
	// Backends deliver data in multiples of this where the hardware allows;
	// callers must tolerate other chunk sizes.
	FrameSize int

	// OnStop, if set, is invoked when the device stops outside an explicit
	// Stop or Close call, e.g. when the hardware disconnects mid-session.
	OnStop func()
}

// CaptureDevice is an open handle on an audio input device.
//
// The handle owns the device exclusively until Close. Start and Stop may be
// called repeatedly; Close releases the device and is safe to call more than
// once.
type CaptureDevice interface {
	// Start begins delivering PCM to the callback registered at open time.
	Start() error

	// Stop halts capture without releasing the device.
	Stop() error

	// Close stops capture if running and releases the device.
	Close() error
}

// PlaybackDevice is an open handle on an audio output device. Writers enqueue
// PCM; the device drains the queue at the hardware rate.
//
// Implementations must be safe for concurrent use.
type PlaybackDevice interface {
	// Write enqueues PCM for playback. It buffers internally and does not
	// block for the duration of the audio.
	Write(pcm []byte) error

	// WaitDrained blocks until every queued byte has been played, or until
	// ctx is done. It is the sink's sequencing signal for returning the
	// pipeline to listening.
	WaitDrained(ctx context.Context) error

	// Stop immediately halts playback and discards any queued audio.
	Stop() error

	// Close stops playback and releases the device.
	Close() error
}

// Backend opens capture and playback devices. Implementations wrap a
// platform audio library (see audio/malgodev) or provide scripted devices
// for tests (see audio/mock).
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// OpenCapture opens the default input device with the given stream
	// configuration. cb receives captured PCM once Start is called.
	OpenCapture(cfg CaptureConfig, cb DataCallback) (CaptureDevice, error)

	// OpenPlayback opens the default output device for the given format.
	OpenPlayback(format Format) (PlaybackDevice, error)

	// Close releases the backend and any platform resources. Devices opened
	// from the backend must be closed first.
	Close() error
}

// DeviceError reports an input or output hardware failure: the device could
// not be opened, or it disconnected mid-session. It is fatal to the current
// listening session but the device is retried on the next start.
type DeviceError struct {
	// Op is the operation that failed ("open capture", "start playback", …).
	Op string

	// Err is the underlying platform error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying platform error.
func (e *DeviceError) Unwrap() error { return e.Err }
