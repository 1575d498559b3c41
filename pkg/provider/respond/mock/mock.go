// Package mock provides a scriptable respond.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/respond"
)

// Call records the arguments of one Respond invocation.
type Call struct {
	Transcript   string
	HistoryLen   int
	SystemPrompt string
}

// Provider echoes a scripted reply and records every call.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by every call. When empty, the transcript is echoed
	// back with a prefix so tests can correlate input and output.
	Reply string

	// Err, when set, is returned by every call.
	Err error

	// Delay is waited before returning, honouring ctx.
	Delay time.Duration

	calls []Call
}

var _ respond.Provider = (*Provider)(nil)

// Respond returns the configured reply.
func (p *Provider) Respond(ctx context.Context, transcript string, conv respond.Conversation) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{
		Transcript:   transcript,
		HistoryLen:   len(conv.History),
		SystemPrompt: conv.SystemPrompt,
	})
	reply := p.Reply
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if reply == "" {
		reply = "you said: " + transcript
	}
	return reply, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
