// Package source turns a raw capture device into a stream of fixed-duration
// pipeline frames. It owns format conversion (downmix and resample to the
// pipeline rate), frame slicing, and backpressure: when the consumer lags the
// device, the oldest buffered frame is dropped so the stream stays live.
package source

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// DefaultFrameDuration is the pipeline frame length when none is configured.
const DefaultFrameDuration = 20 * time.Millisecond

// DefaultBufferFrames is the channel depth between the device thread and the
// consumer. At 20ms frames this is about 1.3s of slack.
const DefaultBufferFrames = 64

var errDeviceStopped = errors.New("device stopped unexpectedly")

// Config configures a Source.
type Config struct {
	// Backend opens the capture device.
	Backend audio.Backend

	// DeviceFormat is the format requested from the hardware.
	DeviceFormat audio.Format

	// PipelineFormat is the format frames are converted to before emission.
	PipelineFormat audio.Format

	// FrameDuration is the length of each emitted frame.
	FrameDuration time.Duration

	// BufferFrames is the frame channel capacity.
	BufferFrames int

	// Logger receives drop and device diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// OnDrop is invoked once per dropped frame, outside any lock. Optional.
	OnDrop func()
}

// Source is a running frame producer. Create with New, begin capture with
// Start, and consume Frames until Close.
type Source struct {
	cfg    Config
	logger *slog.Logger

	frames chan audio.Frame
	errs   chan error

	mu       sync.Mutex
	dev      audio.CaptureDevice
	pending  []byte
	elapsed  time.Duration
	started  bool
	closed   bool
	dropped  atomic.Uint64
	emitted  atomic.Uint64
	frameLen int
}

// New validates the configuration and prepares a source. The capture device
// is not opened until Start.
func New(cfg Config) (*Source, error) {
	if cfg.Backend == nil {
		return nil, errors.New("source: backend is required")
	}
	if cfg.PipelineFormat.SampleRate <= 0 || cfg.PipelineFormat.Channels <= 0 {
		return nil, errors.New("source: pipeline format is required")
	}
	if cfg.DeviceFormat.SampleRate <= 0 {
		cfg.DeviceFormat = cfg.PipelineFormat
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	frameLen := int(cfg.FrameDuration.Seconds() * float64(cfg.PipelineFormat.BytesPerSecond()))
	// Keep frame boundaries sample-aligned.
	frameLen -= frameLen % (2 * cfg.PipelineFormat.Channels)
	if frameLen == 0 {
		return nil, errors.New("source: frame duration too short for format")
	}

	return &Source{
		cfg:      cfg,
		logger:   cfg.Logger,
		frames:   make(chan audio.Frame, cfg.BufferFrames),
		errs:     make(chan error, 1),
		frameLen: frameLen,
	}, nil
}

// Start opens the capture device and begins emitting frames.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("source: closed")
	}
	if s.started {
		return errors.New("source: already started")
	}

	samplesPerFrame := s.frameLen / (2 * s.cfg.PipelineFormat.Channels)
	dev, err := s.cfg.Backend.OpenCapture(audio.CaptureConfig{
		Format:    s.cfg.DeviceFormat,
		FrameSize: samplesPerFrame,
		OnStop: func() {
			s.reportErr(&audio.DeviceError{Op: "capture", Err: errDeviceStopped})
		},
	}, s.onData)
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return err
	}

	s.dev = dev
	s.started = true
	s.logger.Info("audio source started",
		"device_rate", s.cfg.DeviceFormat.SampleRate,
		"pipeline_rate", s.cfg.PipelineFormat.SampleRate,
		"frame_ms", s.cfg.FrameDuration.Milliseconds())
	return nil
}

// Frames returns the stream of pipeline frames. The channel is closed by
// Close.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Errors returns asynchronous device failures. At most one error is buffered.
func (s *Source) Errors() <-chan error { return s.errs }

// Dropped returns the number of frames discarded because the consumer lagged.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Close stops capture, releases the device, and closes the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()

	var err error
	if dev != nil {
		err = dev.Close()
	}
	close(s.frames)
	return err
}

// onData runs on the device thread. It converts the chunk to the pipeline
// format, appends to the partial-frame carry, and emits every complete frame.
func (s *Source) onData(pcm []byte) {
	converted := audio.ToPipelineFormat(pcm, s.cfg.DeviceFormat, s.cfg.PipelineFormat)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, converted...)

	var out []audio.Frame
	for len(s.pending) >= s.frameLen {
		data := make([]byte, s.frameLen)
		copy(data, s.pending)
		s.pending = s.pending[s.frameLen:]

		f := audio.Frame{
			Data:       data,
			SampleRate: s.cfg.PipelineFormat.SampleRate,
			Channels:   s.cfg.PipelineFormat.Channels,
			Timestamp:  s.elapsed,
		}
		s.elapsed += f.Duration()
		out = append(out, f)
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()

	for _, f := range out {
		s.emit(f)
	}
}

// emit sends without blocking the device thread. When the channel is full
// the oldest buffered frame is discarded to make room, keeping the stream
// current rather than stalling capture.
func (s *Source) emit(f audio.Frame) {
	select {
	case s.frames <- f:
		s.emitted.Add(1)
		return
	default:
	}

	select {
	case <-s.frames:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			s.logger.Warn("consumer lagging, dropping oldest frames", "dropped_total", n)
		}
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop()
		}
	default:
	}

	select {
	case s.frames <- f:
		s.emitted.Add(1)
	default:
		// Still full after eviction: another producer call won the slot.
		s.dropped.Add(1)
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop()
		}
	}
}

// reportErr delivers an asynchronous device failure without blocking.
func (s *Source) reportErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
