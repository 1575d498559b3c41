// Package mock provides a scriptable synth.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
)

// Provider emits scripted PCM chunks and records every synthesis request.
type Provider struct {
	mu sync.Mutex

	// Chunks is the PCM emitted per request, in order.
	Chunks [][]byte

	// StartErr, when set, makes Synthesize fail immediately.
	StartErr error

	// StreamErr, when set, terminates the stream after FailAfter chunks
	// (all chunks when FailAfter is zero or out of range).
	StreamErr error

	// FailAfter is the number of chunks emitted before StreamErr applies.
	FailAfter int

	// ChunkDelay is waited before each chunk, honouring ctx.
	ChunkDelay time.Duration

	// OutputFormat reported by Format. Defaults to 16kHz mono.
	OutputFormat audio.Format

	texts []string
}

var _ synth.Provider = (*Provider)(nil)

// Synthesize records the text and returns a stream replaying the scripted
// chunks.
func (p *Provider) Synthesize(ctx context.Context, text string) (synth.Stream, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	if p.StartErr != nil {
		err := p.StartErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.Chunks...)
	streamErr := p.StreamErr
	failAfter := p.FailAfter
	delay := p.ChunkDelay
	p.mu.Unlock()

	s := &stream{chunks: make(chan []byte)}
	go func() {
		defer close(s.chunks)
		for i, chunk := range chunks {
			if streamErr != nil && failAfter > 0 && i >= failAfter {
				s.setErr(streamErr)
				return
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					s.setErr(ctx.Err())
					return
				}
			}
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		if streamErr != nil && failAfter <= 0 {
			s.setErr(streamErr)
		}
	}()
	return s, nil
}

// Format reports the configured output format.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OutputFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.OutputFormat
}

// Texts returns every synthesis request recorded so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type stream struct {
	chunks chan []byte

	mu  sync.Mutex
	err error
}

var _ synth.Stream = (*stream)(nil)

func (s *stream) Chunks() <-chan []byte { return s.chunks }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
