// Package recorder captures the spoken command that follows a wake-word
// detection.
//
// Capture runs on the audio timeline, not the wall clock: durations are sums
// of frame durations, which keeps behaviour identical between live capture
// and accelerated test playback. Recording ends on the first of three
// conditions: the hard maximum is reached, or sustained trailing silence is
// observed after an initial grace period. Trailing silence is trimmed from
// the emitted segment, and segments shorter than the minimum are discarded.
package recorder

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// ErrSegmentTooShort reports that capture ended before the minimum of usable
// audio was collected. Callers discard the segment and return to listening.
var ErrSegmentTooShort = errors.New("recorder: segment below minimum duration")

// ErrNotDone reports that Segment was called while capture is still running.
var ErrNotDone = errors.New("recorder: capture still in progress")

// Config holds the capture parameters. The zero value of any field is
// replaced by its default.
type Config struct {
	// MaxDuration is the hard cap on a single capture.
	MaxDuration time.Duration

	// GracePeriod is the initial span during which silence never ends the
	// capture, giving the speaker time to begin the command.
	GracePeriod time.Duration

	// SilenceDuration is the span of sustained silence that ends the
	// capture once the grace period has passed.
	SilenceDuration time.Duration

	// SilenceThreshold is the per-frame RMS (16-bit sample units) at or
	// below which a frame counts as silent.
	SilenceThreshold float64

	// MinDuration is the least amount of audio, after trailing-silence
	// trimming, for a segment to be worth transcribing.
	MinDuration time.Duration
}

// DefaultConfig returns the capture parameters used when the configuration
// does not override them.
func DefaultConfig() Config {
	return Config{
		MaxDuration:      10 * time.Second,
		GracePeriod:      3 * time.Second,
		SilenceDuration:  1500 * time.Millisecond,
		SilenceThreshold: 300,
		MinDuration:      500 * time.Millisecond,
	}
}

// validate fills zero fields from defaults and rejects inconsistent values.
func (c *Config) validate() error {
	def := DefaultConfig()
	if c.MaxDuration == 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = def.SilenceDuration
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = def.SilenceThreshold
	}
	if c.MinDuration == 0 {
		c.MinDuration = def.MinDuration
	}

	var errs []error
	if c.MaxDuration <= 0 {
		errs = append(errs, errors.New("max duration must be positive"))
	}
	if c.GracePeriod < 0 || c.GracePeriod >= c.MaxDuration {
		errs = append(errs, errors.New("grace period must be shorter than max duration"))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, errors.New("silence duration must be positive"))
	}
	if c.MinDuration < 0 || c.MinDuration > c.MaxDuration {
		errs = append(errs, errors.New("min duration must fit within max duration"))
	}
	return errors.Join(errs...)
}

// Reason explains why a capture ended.
type Reason int

const (
	// ReasonNone means capture has not ended.
	ReasonNone Reason = iota

	// ReasonMaxDuration means the hard cap was hit.
	ReasonMaxDuration

	// ReasonSilence means sustained trailing silence ended the capture.
	ReasonSilence
)

func (r Reason) String() string {
	switch r {
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonSilence:
		return "silence"
	default:
		return "none"
	}
}

// Segment is a finished command capture.
type Segment struct {
	// PCM is 16-bit mono audio with trailing silence removed.
	PCM []byte

	// SampleRate of the PCM.
	SampleRate int

	// Start and End bound the kept audio on the stream timeline.
	Start time.Duration
	End   time.Duration

	// Reason records what ended the capture.
	Reason Reason
}

// Duration returns the length of the kept audio.
func (s *Segment) Duration() time.Duration { return s.End - s.Start }

// Recorder captures one command at a time. Begin starts a capture, Feed
// consumes frames until it reports done, Segment yields the result.
//
// Feed must be called from a single goroutine; SetConfig may be called
// concurrently from the configuration watcher.
type Recorder struct {
	logger *slog.Logger

	mu  sync.Mutex
	cfg Config

	buf        *audio.RollingBuffer
	captured   time.Duration
	silentTail time.Duration
	sampleRate int
	active     bool
	reason     Reason
}

// New creates a recorder.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger: logger,
		cfg:    cfg,
		buf:    audio.NewRollingBuffer(0),
	}, nil
}

// Begin starts a fresh capture, discarding any previous state.
func (r *Recorder) Begin() {
	r.buf.Clear()
	r.captured = 0
	r.silentTail = 0
	r.sampleRate = 0
	r.active = true
	r.reason = ReasonNone
}

// Feed consumes one frame and reports whether the capture is complete.
// Feeding an inactive recorder is a no-op that reports true.
func (r *Recorder) Feed(f audio.Frame) (done bool) {
	if !r.active {
		return true
	}
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	r.buf.Append(f)
	r.captured += f.Duration()
	r.sampleRate = f.SampleRate

	if audio.RMS(f.Data) <= cfg.SilenceThreshold {
		r.silentTail += f.Duration()
	} else {
		r.silentTail = 0
	}

	switch {
	case r.captured >= cfg.MaxDuration:
		r.finish(ReasonMaxDuration)
		return true
	case r.captured > cfg.GracePeriod && r.silentTail >= cfg.SilenceDuration:
		r.finish(ReasonSilence)
		return true
	}
	return false
}

// Segment returns the finished capture with trailing silence trimmed, or
// ErrSegmentTooShort when too little usable audio remains. Either way the
// recorder is left inactive and ready for the next Begin.
func (r *Recorder) Segment() (*Segment, error) {
	if r.active {
		return nil, ErrNotDone
	}
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	frames := r.buf.Frames()

	// Drop the silent tail frame by frame.
	trim := r.silentTail
	for len(frames) > 0 && trim >= frames[len(frames)-1].Duration() {
		trim -= frames[len(frames)-1].Duration()
		frames = frames[:len(frames)-1]
	}

	total := sumDuration(frames)
	if total < cfg.MinDuration {
		r.logger.Debug("discarding short segment",
			"captured", r.captured,
			"kept", total,
			"reason", r.reason.String())
		r.buf.Clear()
		return nil, ErrSegmentTooShort
	}

	var pcm []byte
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	seg := &Segment{
		PCM:        pcm,
		SampleRate: r.sampleRate,
		Start:      frames[0].Timestamp,
		End:        frames[0].Timestamp + total,
		Reason:     r.reason,
	}
	r.buf.Clear()
	r.logger.Debug("command segment captured",
		"duration", total,
		"reason", r.reason.String())
	return seg, nil
}

// Active reports whether a capture is in progress.
func (r *Recorder) Active() bool { return r.active }

// SetConfig replaces the capture parameters for subsequent frames. Invalid
// configuration is rejected and the previous values stay in effect.
func (r *Recorder) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

// Config returns the current capture parameters.
func (r *Recorder) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *Recorder) finish(reason Reason) {
	r.active = false
	r.reason = reason
}

func sumDuration(frames []audio.Frame) time.Duration {
	var total time.Duration
	for _, f := range frames {
		total += f.Duration()
	}
	return total
}
