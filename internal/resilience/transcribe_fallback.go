package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
)

// TranscribeFallback implements [transcribe.Provider] with automatic failover
// across multiple speech-to-text backends. Each backend has its own circuit
// breaker.
type TranscribeFallback struct {
	group *FallbackGroup[transcribe.Provider]
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a [TranscribeFallback] with primary as the
// preferred backend.
func NewTranscribeFallback(primary transcribe.Provider, primaryName string, cfg FallbackConfig) *TranscribeFallback {
	return &TranscribeFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *TranscribeFallback) AddFallback(name string, provider transcribe.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the segment through the first healthy provider. If the
// primary fails or its breaker is open, subsequent fallbacks are tried with
// the same segment.
func (f *TranscribeFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcribe.Result, error) {
	return ExecuteWithResult(f.group, func(p transcribe.Provider) (transcribe.Result, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}
