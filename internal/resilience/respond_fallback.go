package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/provider/respond"
)

// RespondFallback implements [respond.Provider] with automatic failover across
// multiple response backends. Each backend has its own circuit breaker; when
// the primary fails or its breaker is open, the next healthy fallback is
// tried.
type RespondFallback struct {
	group *FallbackGroup[respond.Provider]
}

// Compile-time interface assertion.
var _ respond.Provider = (*RespondFallback)(nil)

// NewRespondFallback creates a [RespondFallback] with primary as the preferred
// backend.
func NewRespondFallback(primary respond.Provider, primaryName string, cfg FallbackConfig) *RespondFallback {
	return &RespondFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional response provider as a fallback.
func (f *RespondFallback) AddFallback(name string, provider respond.Provider) {
	f.group.AddFallback(name, provider)
}

// Respond generates the reply using the first healthy provider. Fallbacks
// receive the same transcript and conversation context.
func (f *RespondFallback) Respond(ctx context.Context, transcript string, conv respond.Conversation) (string, error) {
	return ExecuteWithResult(f.group, func(p respond.Provider) (string, error) {
		return p.Respond(ctx, transcript, conv)
	})
}
