// Package respond defines the Provider interface for response generation
// backends.
//
// A responder turns a transcribed voice command into the assistant's spoken
// reply, given the conversation so far. Implementations wrap an LLM gateway
// or return canned output for tests.
//
// Implementations must be safe for concurrent use.
package respond

import (
	"context"
	"time"
)

// Exchange is one completed command/reply pair.
type Exchange struct {
	Transcript string
	Reply      string
	At         time.Time
}

// Conversation carries the context a responder may draw on.
type Conversation struct {
	// SystemPrompt frames the assistant's persona and constraints.
	SystemPrompt string

	// History holds recent exchanges, oldest first. Implementations may
	// truncate it to fit their context window.
	History []Exchange
}

// Provider is the abstraction over any response backend.
type Provider interface {
	// Respond generates the reply text for a transcribed command. It blocks
	// until the full reply is available or ctx is done.
	Respond(ctx context.Context, transcript string, conv Conversation) (string, error)
}
