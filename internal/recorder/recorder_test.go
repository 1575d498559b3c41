package recorder

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

const frameDur = 20 * time.Millisecond

func voicedFrame(ts time.Duration) audio.Frame {
	const samples = 320
	data := make([]byte, samples*2)
	for i := range samples {
		s := int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func silentFrame(ts time.Duration) audio.Frame {
	return audio.Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1, Timestamp: ts}
}

// runScript feeds alternating spans of speech and silence described as
// (duration, voiced) pairs, returning the timestamp at which Feed reported
// done, or -1 if it never did.
type span struct {
	dur    time.Duration
	voiced bool
}

func runScript(t *testing.T, r *Recorder, script []span) time.Duration {
	t.Helper()
	ts := time.Duration(0)
	for _, sp := range script {
		for elapsed := time.Duration(0); elapsed < sp.dur; elapsed += frameDur {
			var f audio.Frame
			if sp.voiced {
				f = voicedFrame(ts)
			} else {
				f = silentFrame(ts)
			}
			ts += frameDur
			if r.Feed(f) {
				return ts
			}
		}
	}
	return -1
}

func TestRecorderStopsOnTrailingSilence(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()

	stopped := runScript(t, r, []span{
		{1200 * time.Millisecond, true},
		{5 * time.Second, false},
	})
	if stopped < 0 {
		t.Fatal("capture never ended")
	}
	// Silence may only end the capture once the grace period has passed.
	if stopped <= 3*time.Second {
		t.Fatalf("capture ended at %v, inside the grace period", stopped)
	}

	seg, err := r.Segment()
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if seg.Reason != ReasonSilence {
		t.Errorf("reason = %v, want silence", seg.Reason)
	}
	if seg.Duration() != 1200*time.Millisecond {
		t.Errorf("trimmed duration = %v, want 1.2s of speech", seg.Duration())
	}
	if seg.Start != 0 {
		t.Errorf("start = %v, want 0", seg.Start)
	}
}

func TestRecorderHardCap(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()

	stopped := runScript(t, r, []span{{15 * time.Second, true}})
	if stopped != 10*time.Second {
		t.Fatalf("capture ended at %v, want exactly 10s", stopped)
	}

	seg, err := r.Segment()
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if seg.Reason != ReasonMaxDuration {
		t.Errorf("reason = %v, want max_duration", seg.Reason)
	}
	if seg.Duration() != 10*time.Second {
		t.Errorf("duration = %v, want 10s", seg.Duration())
	}
}

func TestRecorderSpeechResetsSilenceCounter(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()

	// A mid-command pause shorter than the silence window must not end the
	// capture; the pause after the second burst does.
	stopped := runScript(t, r, []span{
		{time.Second, true},
		{time.Second, false},
		{time.Second, true},
		{5 * time.Second, false},
	})
	if stopped != 4500*time.Millisecond {
		t.Fatalf("capture ended at %v, want 4.5s", stopped)
	}

	seg, err := r.Segment()
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if seg.Duration() != 3*time.Second {
		t.Errorf("trimmed duration = %v, want 3s (speech plus inner pause)", seg.Duration())
	}
}

func TestRecorderDiscardsPureSilence(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()

	if stopped := runScript(t, r, []span{{6 * time.Second, false}}); stopped < 0 {
		t.Fatal("capture never ended")
	}

	if _, err := r.Segment(); !errors.Is(err, ErrSegmentTooShort) {
		t.Fatalf("Segment error = %v, want ErrSegmentTooShort", err)
	}
}

func TestRecorderDiscardsBelowMinDuration(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()

	runScript(t, r, []span{
		{300 * time.Millisecond, true},
		{5 * time.Second, false},
	})

	if _, err := r.Segment(); !errors.Is(err, ErrSegmentTooShort) {
		t.Fatalf("Segment error = %v, want ErrSegmentTooShort", err)
	}
}

func TestRecorderSegmentWhileActive(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()
	r.Feed(voicedFrame(0))

	if _, err := r.Segment(); !errors.Is(err, ErrNotDone) {
		t.Fatalf("Segment error = %v, want ErrNotDone", err)
	}
}

func TestRecorderSetConfigValidation(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := DefaultConfig()
	bad.GracePeriod = bad.MaxDuration + time.Second
	if err := r.SetConfig(bad); err == nil {
		t.Fatal("SetConfig accepted grace period beyond max duration")
	}
	if got := r.Config().GracePeriod; got != DefaultConfig().GracePeriod {
		t.Fatalf("config changed after rejected update: grace = %v", got)
	}
}

func TestRecorderBeginResets(t *testing.T) {
	r, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Begin()
	runScript(t, r, []span{{15 * time.Second, true}})
	if _, err := r.Segment(); err != nil {
		t.Fatalf("Segment: %v", err)
	}

	r.Begin()
	if !r.Active() {
		t.Fatal("recorder inactive after Begin")
	}
	stopped := runScript(t, r, []span{{15 * time.Second, true}})
	if stopped != 10*time.Second {
		t.Fatalf("second capture ended at %v, want 10s", stopped)
	}
}
