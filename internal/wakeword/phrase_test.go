package wakeword

import (
	"context"
	"errors"
	"testing"

	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
	transcribemock "github.com/earshot-ai/earshot/pkg/provider/transcribe/mock"
)

func TestPhraseScorerExactPhrase(t *testing.T) {
	tp := &transcribemock.Provider{Results: []transcribe.Result{{Text: "um hey sparrow what time is it"}}}
	s, err := NewPhraseScorer(tp, "hey sparrow")
	if err != nil {
		t.Fatalf("NewPhraseScorer: %v", err)
	}

	score, err := s.Score(context.Background(), make([]byte, 3200), testRate)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score < 0.99 {
		t.Fatalf("score for exact phrase = %v, want ~1", score)
	}
}

func TestPhraseScorerMisrecognition(t *testing.T) {
	// "hey sparrow" misheard with merged words still scores above the usual
	// detection threshold thanks to the concatenated comparison.
	tp := &transcribemock.Provider{Results: []transcribe.Result{{Text: "heysparrow turn on the lights"}}}
	s, err := NewPhraseScorer(tp, "hey sparrow")
	if err != nil {
		t.Fatalf("NewPhraseScorer: %v", err)
	}

	score, err := s.Score(context.Background(), make([]byte, 3200), testRate)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score < 0.85 {
		t.Fatalf("score for merged-word transcript = %v, want >= 0.85", score)
	}
}

func TestPhraseScorerUnrelatedSpeech(t *testing.T) {
	tp := &transcribemock.Provider{Results: []transcribe.Result{{Text: "completely unrelated kitchen banter"}}}
	s, err := NewPhraseScorer(tp, "hey sparrow")
	if err != nil {
		t.Fatalf("NewPhraseScorer: %v", err)
	}

	score, err := s.Score(context.Background(), make([]byte, 3200), testRate)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score >= 0.85 {
		t.Fatalf("score for unrelated speech = %v, want below threshold", score)
	}
}

func TestPhraseScorerEmptyTranscript(t *testing.T) {
	tp := &transcribemock.Provider{}
	s, err := NewPhraseScorer(tp, "hey sparrow")
	if err != nil {
		t.Fatalf("NewPhraseScorer: %v", err)
	}

	score, err := s.Score(context.Background(), make([]byte, 3200), testRate)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0 {
		t.Fatalf("score for empty transcript = %v, want 0", score)
	}
}

func TestPhraseScorerTranscriptionError(t *testing.T) {
	tp := &transcribemock.Provider{Err: errors.New("backend down")}
	s, err := NewPhraseScorer(tp, "hey sparrow")
	if err != nil {
		t.Fatalf("NewPhraseScorer: %v", err)
	}

	if _, err := s.Score(context.Background(), make([]byte, 3200), testRate); err == nil {
		t.Fatal("transcription failure not propagated")
	}
}

func TestNewPhraseScorerValidation(t *testing.T) {
	if _, err := NewPhraseScorer(nil, "hey sparrow"); err == nil {
		t.Fatal("accepted nil provider")
	}
	if _, err := NewPhraseScorer(&transcribemock.Provider{}, "   "); err == nil {
		t.Fatal("accepted empty phrase")
	}
}
