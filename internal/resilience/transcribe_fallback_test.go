package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
	tscmock "github.com/earshot-ai/earshot/pkg/provider/transcribe/mock"
)

func TestTranscribeFallback_PrimarySuccess(t *testing.T) {
	primary := &tscmock.Provider{
		Results: []transcribe.Result{{Text: "turn on the lights"}},
	}
	secondary := &tscmock.Provider{}

	fb := NewTranscribeFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	res, err := fb.Transcribe(context.Background(), make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Fatalf("text = %q, want transcript from primary", res.Text)
	}
	if got := len(primary.Calls()); got != 1 {
		t.Fatalf("primary called %d times, want 1", got)
	}
	if got := len(secondary.Calls()); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestTranscribeFallback_Failover(t *testing.T) {
	primary := &tscmock.Provider{Err: errors.New("whisper server down")}
	secondary := &tscmock.Provider{
		Results: []transcribe.Result{{Text: "what time is it"}},
	}

	fb := NewTranscribeFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	res, err := fb.Transcribe(context.Background(), make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "what time is it" {
		t.Fatalf("text = %q, want transcript from fallback", res.Text)
	}
	// The fallback must see the same segment.
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].PCMBytes != 3200 || calls[0].SampleRate != 16000 {
		t.Fatalf("fallback calls = %+v, want one call with the original segment", calls)
	}
}

func TestTranscribeFallback_AllFail(t *testing.T) {
	primary := &tscmock.Provider{Err: errors.New("primary down")}
	secondary := &tscmock.Provider{Err: errors.New("secondary down")}

	fb := NewTranscribeFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	_, err := fb.Transcribe(context.Background(), make([]byte, 320), 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
