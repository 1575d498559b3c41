// Package mock provides a scriptable transcribe.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	PCMBytes   int
	SampleRate int
}

// Provider returns scripted results and records every call.
//
// Results are consumed in order; when the script is exhausted the last entry
// repeats. With an empty script the zero Result is returned. Set Err to make
// every call fail, or Delay to simulate a slow backend (Delay still respects
// ctx cancellation).
type Provider struct {
	mu sync.Mutex

	// Results is the script of return values, consumed in order.
	Results []transcribe.Result

	// Err, when set, is returned by every call.
	Err error

	// Delay is waited before returning, honouring ctx.
	Delay time.Duration

	calls []Call
	next  int
}

var _ transcribe.Provider = (*Provider)(nil)

// Transcribe returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcribe.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{PCMBytes: len(pcm), SampleRate: sampleRate})
	res := transcribe.Result{}
	if len(p.Results) > 0 {
		idx := min(p.next, len(p.Results)-1)
		res = p.Results[idx]
		p.next++
	}
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return transcribe.Result{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return transcribe.Result{}, ctxErr
	}
	return res, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
