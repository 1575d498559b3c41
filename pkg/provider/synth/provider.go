// Package synth defines the Provider interface for speech synthesis
// backends.
//
// A synthesis provider turns reply text into a stream of raw PCM chunks.
// Streaming matters here: playback starts on the first chunk, so the user
// hears the beginning of the reply while the tail is still being generated.
//
// Implementations must be safe for concurrent use.
package synth

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Stream is an in-flight synthesis. Chunks emits raw PCM in the provider's
// output format and is closed when synthesis finishes, fails, or ctx is
// cancelled. After the channel closes, Err reports what ended the stream.
type Stream interface {
	// Chunks returns the PCM chunk channel. The caller must drain it.
	Chunks() <-chan []byte

	// Err returns nil after a complete synthesis, or the error that
	// terminated the stream early. Only valid once Chunks is closed.
	Err() error
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize starts synthesis of the given text. A non-nil error means
	// the stream could not be started at all; mid-stream failures surface
	// through Stream.Err.
	Synthesize(ctx context.Context, text string) (Stream, error)

	// Format reports the PCM format of emitted chunks, fixed per provider
	// configuration.
	Format() audio.Format
}
