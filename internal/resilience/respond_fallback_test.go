package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/respond"
	rspmock "github.com/earshot-ai/earshot/pkg/provider/respond/mock"
)

func TestRespondFallback_PrimarySuccess(t *testing.T) {
	primary := &rspmock.Provider{Reply: "It is ten past three."}
	secondary := &rspmock.Provider{}

	fb := NewRespondFallback(primary, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	reply, err := fb.Respond(context.Background(), "what time is it", respond.Conversation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "It is ten past three." {
		t.Fatalf("reply = %q, want primary's reply", reply)
	}
	if got := len(secondary.Calls()); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestRespondFallback_FailoverKeepsConversation(t *testing.T) {
	primary := &rspmock.Provider{Err: errors.New("gateway timeout")}
	secondary := &rspmock.Provider{Reply: "Done."}

	fb := NewRespondFallback(primary, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	conv := respond.Conversation{
		SystemPrompt: "You are a home assistant.",
		History: []respond.Exchange{
			{Transcript: "hello", Reply: "Hi there.", At: time.Now()},
		},
	}
	reply, err := fb.Respond(context.Background(), "turn off the lights", conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Done." {
		t.Fatalf("reply = %q, want fallback's reply", reply)
	}

	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(calls))
	}
	if calls[0].SystemPrompt != conv.SystemPrompt || calls[0].HistoryLen != 1 {
		t.Fatalf("fallback did not receive the conversation context: %+v", calls[0])
	}
}

func TestRespondFallback_AllFail(t *testing.T) {
	primary := &rspmock.Provider{Err: errors.New("primary down")}
	secondary := &rspmock.Provider{Err: errors.New("secondary down")}

	fb := NewRespondFallback(primary, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	_, err := fb.Respond(context.Background(), "anyone there", respond.Conversation{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
