package wakeword

import (
	"context"
	"time"
)

// Detection reports a confirmed wake-word occurrence.
type Detection struct {
	// Confidence is the stage-2 score in [0, 1] that cleared the threshold.
	// In degraded mode it is the stage-1 voiced ratio instead.
	Confidence float64

	// WindowStart and WindowEnd bound the evaluated audio on the stream
	// timeline.
	WindowStart time.Duration
	WindowEnd   time.Duration

	// Degraded marks a detection confirmed on stage-1 evidence alone while
	// the scorer was unavailable.
	Degraded bool
}

// Scorer is the stage-2 wake-word verifier. Given a window of 16-bit mono
// PCM it returns a confidence in [0, 1] that the window contains the wake
// phrase.
//
// Scorers may be expensive (model inference, a transcription round-trip);
// the detector's stage-1 gate ensures they only run on windows that plausibly
// contain speech. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, pcm []byte, sampleRate int) (float64, error)
}
