package wakeword

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
)

// PhraseScorer verifies the wake phrase by transcribing the candidate window
// and fuzzy-matching the transcript against the configured phrase. It is the
// most accurate scorer but also the most expensive, so it depends entirely on
// the stage-1 gate to keep invocation rates low.
//
// Matching combines Double Metaphone phonetic codes with Jaro-Winkler string
// similarity: candidate n-grams of the transcript are ranked by Jaro-Winkler,
// and candidates without any phonetic code overlap are discounted. This
// tolerates the misrecognitions short out-of-context phrases suffer
// ("hey sparrow" heard as "hays pero").
type PhraseScorer struct {
	provider transcribe.Provider
	phrase   string
	tokens   []string
	codes    map[string]struct{}
}

var _ Scorer = (*PhraseScorer)(nil)

// noPhoneticOverlapPenalty discounts candidates whose Double Metaphone codes
// share nothing with the wake phrase.
const noPhoneticOverlapPenalty = 0.8

// NewPhraseScorer builds a scorer for the given wake phrase.
func NewPhraseScorer(provider transcribe.Provider, phrase string) (*PhraseScorer, error) {
	if provider == nil {
		return nil, errors.New("wakeword: transcription provider is required")
	}
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return nil, errors.New("wakeword: wake phrase is empty")
	}
	tokens := strings.Fields(phrase)
	return &PhraseScorer{
		provider: provider,
		phrase:   phrase,
		tokens:   tokens,
		codes:    metaphoneCodes(tokens),
	}, nil
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens
// and for their concatenation, so "heysparrow" and "hey sparrow" share codes.
// Empty codes are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, (len(tokens)+1)*2)
	add := func(word string) {
		p, sec := matchr.DoubleMetaphone(word)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	for _, t := range tokens {
		add(t)
	}
	if len(tokens) > 1 {
		add(strings.Join(tokens, ""))
	}
	return codes
}

// Score transcribes the window and returns the best fuzzy-match score of any
// transcript n-gram against the wake phrase.
func (s *PhraseScorer) Score(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	res, err := s.provider.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		return 0, fmt.Errorf("wakeword: window transcription: %w", err)
	}

	heard := strings.Fields(strings.ToLower(res.Text))
	if len(heard) == 0 {
		return 0, nil
	}

	best := 0.0
	// Slide an n-gram of the phrase's length across the transcript; also try
	// one token more and one fewer, since recognisers split and merge words.
	for _, n := range []int{len(s.tokens), len(s.tokens) + 1, len(s.tokens) - 1} {
		if n < 1 || n > len(heard) {
			continue
		}
		for i := 0; i+n <= len(heard); i++ {
			if score := s.scoreNgram(heard[i : i+n]); score > best {
				best = score
			}
		}
	}
	return best, nil
}

// scoreNgram rates one candidate token window against the wake phrase.
func (s *PhraseScorer) scoreNgram(tokens []string) float64 {
	full := strings.Join(tokens, " ")
	score := matchr.JaroWinkler(full, s.phrase, false)
	// Recognisers merge or split words; comparing without spaces catches
	// "heysparrow" vs "hey sparrow".
	if concat := matchr.JaroWinkler(strings.Join(tokens, ""), strings.Join(s.tokens, ""), false); concat > score {
		score = concat
	}

	if !codesOverlap(metaphoneCodes(tokens), s.codes) {
		score *= noPhoneticOverlapPenalty
	}
	return score
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
