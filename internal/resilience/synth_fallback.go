package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
)

// SynthFallback implements [synth.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// All entries should be configured for the same output format: the playback
// sink is opened once with [SynthFallback.Format], which always reports the
// primary's format regardless of which entry actually served the stream.
type SynthFallback struct {
	group *FallbackGroup[synth.Provider]
}

// Compile-time interface assertion.
var _ synth.Provider = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *SynthFallback) AddFallback(name string, provider synth.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize starts synthesis on the first healthy provider. Only stream
// setup is covered by failover; once a stream is established, mid-stream
// errors surface through [synth.Stream.Err] as usual.
func (f *SynthFallback) Synthesize(ctx context.Context, text string) (synth.Stream, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) (synth.Stream, error) {
		return p.Synthesize(ctx, text)
	})
}

// Format reports the primary's output format. This is static metadata and
// does not participate in failover.
func (f *SynthFallback) Format() audio.Format {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Format()
	}
	return audio.Format{}
}
