package wakeword

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// envelopeBin is the resolution of the energy envelope used for template
// matching. Coarse enough to tolerate speaking-rate variation, fine enough
// to keep the phrase's syllable rhythm.
const envelopeBin = 50 * time.Millisecond

// TemplateScorer verifies the wake phrase by correlating the energy envelope
// of the candidate window against the envelope of a recorded reference
// utterance. It needs no network and no model, making it the zero-dependency
// default scorer.
//
// The score is the maximum normalized cross-correlation of the mean-centred
// envelopes over all alignments of the template within the window, mapped to
// [0, 1].
type TemplateScorer struct {
	template []float64
}

var _ Scorer = (*TemplateScorer)(nil)

// NewTemplateScorer builds a scorer from a reference recording of the wake
// phrase (16-bit mono PCM).
func NewTemplateScorer(referencePCM []byte, sampleRate int) (*TemplateScorer, error) {
	if sampleRate <= 0 {
		return nil, errors.New("wakeword: sample rate must be positive")
	}
	env := envelope(referencePCM, sampleRate)
	if len(env) < 2 {
		return nil, errors.New("wakeword: reference recording too short")
	}
	return &TemplateScorer{template: normalize(env)}, nil
}

// Score correlates the window's energy envelope against the template.
func (s *TemplateScorer) Score(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	window := normalize(envelope(pcm, sampleRate))
	if len(window) < len(s.template) {
		return 0, nil
	}

	best := 0.0
	for offset := 0; offset+len(s.template) <= len(window); offset++ {
		c := correlation(s.template, window[offset:offset+len(s.template)])
		if c > best {
			best = c
		}
	}
	return best, nil
}

// envelope computes per-bin RMS energy over fixed 50ms bins.
func envelope(pcm []byte, sampleRate int) []float64 {
	binBytes := int(envelopeBin.Seconds()*float64(sampleRate)) * 2
	if binBytes < 2 {
		return nil
	}

	var env []float64
	for off := 0; off+binBytes <= len(pcm); off += binBytes {
		env = append(env, audio.RMS(pcm[off:off+binBytes]))
	}
	return env
}

// normalize scales an envelope so its peak is 1, making the correlation
// loudness-invariant.
func normalize(env []float64) []float64 {
	peak := 0.0
	for _, v := range env {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return env
	}
	out := make([]float64, len(env))
	for i, v := range env {
		out[i] = v / peak
	}
	return out
}

// correlation returns the Pearson correlation of two equal-length envelopes,
// clamped to [0, 1]. Anti-correlated shapes score 0.
func correlation(a, b []float64) float64 {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var num, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	c := num / math.Sqrt(varA*varB)
	if c < 0 {
		return 0
	}
	return c
}
