// Package wakeword implements two-stage wake-word detection over a frame
// stream.
//
// Stage 1 is a cheap per-window gate built on RMS energy and zero-crossing
// rate: windows that cannot plausibly contain speech never reach stage 2.
// Stage 2 is a pluggable Scorer that verifies the wake phrase and produces a
// confidence. A detection fires only when the confidence clears the
// configured threshold.
//
// Between evaluations the detector keeps a trailing overlap of audio, so a
// phrase that straddles a window boundary is still seen whole in the next
// evaluation.
package wakeword

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Tuning holds the detector parameters that may change at runtime via
// configuration reload.
type Tuning struct {
	// Threshold is the stage-2 confidence required for a detection.
	Threshold float64

	// Window is the audio span evaluated at once. It should comfortably
	// cover the spoken wake phrase.
	Window time.Duration

	// Overlap is the trailing audio retained after a rejected window.
	Overlap time.Duration

	// EnergyThreshold is the per-frame RMS (in 16-bit sample units) above
	// which a frame counts as voiced.
	EnergyThreshold float64

	// ZCRMin and ZCRMax bound the zero-crossing rate of a voiced frame,
	// rejecting hum below and broadband noise above the speech band.
	ZCRMin float64
	ZCRMax float64

	// VoicedRatio is the fraction of a window's frames that must be voiced
	// before the scorer runs.
	VoicedRatio float64
}

// DefaultTuning returns the tuning used when the configuration does not
// override it.
func DefaultTuning() Tuning {
	return Tuning{
		Threshold:       0.85,
		Window:          1500 * time.Millisecond,
		Overlap:         time.Second,
		EnergyThreshold: 300,
		ZCRMin:          0.02,
		ZCRMax:          0.35,
		VoicedRatio:     0.3,
	}
}

// validate fills zero fields from defaults and rejects inconsistent values.
func (t *Tuning) validate() error {
	def := DefaultTuning()
	if t.Threshold == 0 {
		t.Threshold = def.Threshold
	}
	if t.Window == 0 {
		t.Window = def.Window
	}
	if t.Overlap == 0 {
		t.Overlap = def.Overlap
	}
	if t.EnergyThreshold == 0 {
		t.EnergyThreshold = def.EnergyThreshold
	}
	if t.ZCRMin == 0 {
		t.ZCRMin = def.ZCRMin
	}
	if t.ZCRMax == 0 {
		t.ZCRMax = def.ZCRMax
	}
	if t.VoicedRatio == 0 {
		t.VoicedRatio = def.VoicedRatio
	}

	var errs []error
	if t.Threshold < 0 || t.Threshold > 1 {
		errs = append(errs, errors.New("threshold must be in [0, 1]"))
	}
	if t.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	}
	if t.Overlap < 0 || t.Overlap >= t.Window {
		errs = append(errs, errors.New("overlap must be shorter than the window"))
	}
	if t.ZCRMin >= t.ZCRMax {
		errs = append(errs, errors.New("zcr band is empty"))
	}
	if t.VoicedRatio <= 0 || t.VoicedRatio > 1 {
		errs = append(errs, errors.New("voiced ratio must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// Detector accumulates frames and reports wake-word detections.
//
// ProcessFrame is synchronous and must be called from a single goroutine;
// SetTuning may be called concurrently from the configuration watcher.
type Detector struct {
	scorer Scorer
	logger *slog.Logger

	mu       sync.Mutex
	tuning   Tuning
	buf      *audio.RollingBuffer
	degraded bool
}

// New creates a detector with the given stage-2 scorer.
func New(scorer Scorer, tuning Tuning, logger *slog.Logger) (*Detector, error) {
	if scorer == nil {
		return nil, errors.New("wakeword: scorer is required")
	}
	if err := tuning.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		scorer: scorer,
		logger: logger,
		tuning: tuning,
		buf:    audio.NewRollingBuffer(0),
	}, nil
}

// ProcessFrame feeds one pipeline frame. It returns a non-nil Detection when
// the wake word is confirmed; the internal window is cleared so the caller
// can hand the stream to command capture without replaying wake-word audio.
//
// A scorer failure is returned as an error, but the detector stays usable:
// it enters degraded mode, retries the scorer on the next full window, and
// confirms on stage-1 evidence alone if the scorer fails again.
func (d *Detector) ProcessFrame(ctx context.Context, f audio.Frame) (*Detection, error) {
	d.mu.Lock()
	tuning := d.tuning
	d.mu.Unlock()

	d.buf.Append(f)
	if d.buf.Duration() < tuning.Window {
		return nil, nil
	}
	return d.evaluate(ctx, tuning, f.SampleRate)
}

// Reset discards buffered audio, e.g. after playback finishes so the
// assistant does not trigger on its own speech.
func (d *Detector) Reset() {
	d.buf.Clear()
}

// SetTuning replaces the runtime parameters. Invalid tuning is rejected and
// the previous values stay in effect.
func (d *Detector) SetTuning(t Tuning) error {
	if err := t.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.tuning = t
	d.mu.Unlock()
	d.logger.Info("wake-word tuning updated",
		"threshold", t.Threshold,
		"window_ms", t.Window.Milliseconds(),
		"overlap_ms", t.Overlap.Milliseconds())
	return nil
}

// Tuning returns the current runtime parameters.
func (d *Detector) Tuning() Tuning {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tuning
}

// Degraded reports whether the detector is operating without a working
// stage-2 scorer.
func (d *Detector) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

// evaluate runs the two-stage check on the current window.
func (d *Detector) evaluate(ctx context.Context, tuning Tuning, sampleRate int) (*Detection, error) {
	frames := d.buf.Frames()
	voiced := 0
	for _, f := range frames {
		rms := audio.RMS(f.Data)
		zcr := audio.ZeroCrossingRate(f.Data)
		if rms >= tuning.EnergyThreshold && zcr >= tuning.ZCRMin && zcr <= tuning.ZCRMax {
			voiced++
		}
	}
	ratio := float64(voiced) / float64(len(frames))

	if ratio < tuning.VoicedRatio {
		// No plausible speech; the scorer never runs.
		d.buf.TrimTo(tuning.Overlap)
		return nil, nil
	}

	start, end, _ := d.buf.Bounds()
	confidence, err := d.scorer.Score(ctx, d.buf.Bytes(), sampleRate)
	if err != nil {
		return d.handleScorerFailure(tuning, ratio, start, end, err)
	}

	d.mu.Lock()
	if d.degraded {
		d.degraded = false
		d.logger.Info("wake-word scorer recovered")
	}
	d.mu.Unlock()

	if confidence > tuning.Threshold {
		d.buf.Clear()
		d.logger.Debug("wake word detected",
			"confidence", confidence,
			"window_start", start,
			"window_end", end)
		return &Detection{Confidence: confidence, WindowStart: start, WindowEnd: end}, nil
	}

	d.buf.TrimTo(tuning.Overlap)
	return nil, nil
}

// handleScorerFailure implements degraded-mode detection: the first failure
// arms degraded mode, a repeat failure on a speech-bearing window confirms
// on stage-1 evidence alone.
func (d *Detector) handleScorerFailure(tuning Tuning, ratio float64, start, end time.Duration, err error) (*Detection, error) {
	d.mu.Lock()
	wasDegraded := d.degraded
	d.degraded = true
	d.mu.Unlock()

	if !wasDegraded {
		d.buf.TrimTo(tuning.Overlap)
		d.logger.Warn("wake-word scorer failed, entering degraded mode", "error", err)
		return nil, err
	}

	d.buf.Clear()
	d.logger.Warn("wake-word scorer still failing, confirming on energy gate alone",
		"voiced_ratio", ratio, "error", err)
	return &Detection{
		Confidence:  ratio,
		WindowStart: start,
		WindowEnd:   end,
		Degraded:    true,
	}, nil
}
