// Package transcribe defines the Provider interface for speech-to-text
// backends.
//
// A transcription provider converts a finished utterance (raw PCM captured by
// the command recorder) into text in a single call. This is deliberately a
// batch interface rather than a streaming one: the pipeline always has the
// complete segment in hand before transcription starts, and batch endpoints
// are the common denominator across local Whisper servers, the in-process
// whisper.cpp bindings, and hosted APIs.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"time"
)

// Result is the outcome of transcribing one audio segment.
type Result struct {
	// Text is the recognised transcript, whitespace-trimmed. May be empty
	// when the segment contained no intelligible speech.
	Text string

	// Language is the BCP-47 tag of the detected or configured language.
	// Empty when the provider does not report one.
	Language string

	// Elapsed is how long the provider took to produce the result.
	Elapsed time.Duration
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts 16-bit signed little-endian mono PCM at the given
	// sample rate into text. It blocks until the result is available or ctx
	// is done; callers bound latency with a deadline on ctx.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)
}
