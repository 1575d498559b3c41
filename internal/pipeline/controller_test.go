package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/internal/recorder"
	"github.com/earshot-ai/earshot/internal/wakeword"
	"github.com/earshot-ai/earshot/pkg/audio"
	audiomock "github.com/earshot-ai/earshot/pkg/audio/mock"
	respondmock "github.com/earshot-ai/earshot/pkg/provider/respond/mock"
	synthmock "github.com/earshot-ai/earshot/pkg/provider/synth/mock"
	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
	transcribemock "github.com/earshot-ai/earshot/pkg/provider/transcribe/mock"
)

const frameDur = 20 * time.Millisecond

// fakeSource streams pre-scripted frames through a buffered channel.
type fakeSource struct {
	frames chan audio.Frame
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		frames: make(chan audio.Frame, 4096),
		errs:   make(chan error, 1),
	}
}

func (s *fakeSource) Frames() <-chan audio.Frame { return s.frames }
func (s *fakeSource) Errors() <-chan error       { return s.errs }

// sendSpans scripts alternating speech and silence onto the source.
func (s *fakeSource) sendSpans(spans ...struct {
	dur    time.Duration
	voiced bool
}) {
	ts := time.Duration(0)
	for _, sp := range spans {
		for elapsed := time.Duration(0); elapsed < sp.dur; elapsed += frameDur {
			if sp.voiced {
				s.frames <- voicedFrame(ts)
			} else {
				s.frames <- silentFrame(ts)
			}
			ts += frameDur
		}
	}
}

func span(dur time.Duration, voiced bool) struct {
	dur    time.Duration
	voiced bool
} {
	return struct {
		dur    time.Duration
		voiced bool
	}{dur, voiced}
}

func voicedFrame(ts time.Duration) audio.Frame {
	const samples = 320
	data := make([]byte, samples*2)
	for i := range samples {
		v := int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func silentFrame(ts time.Duration) audio.Frame {
	return audio.Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1, Timestamp: ts}
}

// energyScorer returns the fraction of 20ms subwindows carrying energy, so
// confidence clears the threshold only once the window is mostly speech.
// Detection therefore lands at the end of a spoken phrase, like a real
// scorer, rather than on the first window that grazes it.
type energyScorer struct{}

func (energyScorer) Score(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	step := sampleRate / 50 * 2
	if step == 0 || len(pcm) < step {
		return 0, nil
	}
	voiced, total := 0, 0
	for off := 0; off+step <= len(pcm); off += step {
		if audio.RMS(pcm[off:off+step]) > 300 {
			voiced++
		}
		total++
	}
	return float64(voiced) / float64(total), nil
}

// fixture bundles a runnable controller with its mocks.
type fixture struct {
	ctrl   *Controller
	source *fakeSource
	tp     *transcribemock.Provider
	rp     *respondmock.Provider
	sp     *synthmock.Provider
	dev    *audiomock.PlaybackDevice
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	det, err := wakeword.New(energyScorer{}, wakeword.DefaultTuning(), nil)
	if err != nil {
		t.Fatalf("wakeword.New: %v", err)
	}
	rec, err := recorder.New(recorder.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}

	src := newFakeSource()
	tp := &transcribemock.Provider{Results: []transcribe.Result{{Text: "turn on the lights"}}}
	rp := &respondmock.Provider{Reply: "lights are on"}
	sp := &synthmock.Provider{Chunks: [][]byte{
		bytes.Repeat([]byte{0x01}, 640),
		bytes.Repeat([]byte{0x02}, 640),
		bytes.Repeat([]byte{0x03}, 640),
	}}
	dev := &audiomock.PlaybackDevice{}
	sink, err := NewSink(dev, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	cfg := Config{
		Source:      src,
		Detector:    det,
		Recorder:    rec,
		Transcriber: tp,
		Responder:   rp,
		Synthesizer: sp,
		Sink:        sink,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ctrl: ctrl, source: src, tp: tp, rp: rp, sp: sp, dev: dev}
}

// collect reads events until want types have all been seen in order, failing
// on timeout. StateChanged events are recorded but not matched against want.
func collect(t *testing.T, events <-chan Event, want ...EventType) []Event {
	t.Helper()
	var all []Event
	idx := 0
	deadline := time.After(5 * time.Second)
	for idx < len(want) {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %d/%d expected events", idx, len(want))
			}
			all = append(all, e)
			if e.Type == EventStateChanged {
				continue
			}
			if e.Type != want[idx] {
				t.Fatalf("event %d = %v, want %v (history: %v)", idx, e.Type, want[idx], eventTypes(all))
			}
			idx++
		case <-deadline:
			t.Fatalf("timed out after %d/%d expected events (history: %v)", idx, len(want), eventTypes(all))
		}
	}
	return all
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func states(events []Event) []State {
	var out []State
	for _, e := range events {
		if e.Type == EventStateChanged {
			out = append(out, e.State)
		}
	}
	return out
}

func TestControllerFullInteraction(t *testing.T) {
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	// Ambient silence, the wake phrase, a 1.2s command, then quiet.
	fix.source.sendSpans(
		span(3*time.Second, false),
		span(1500*time.Millisecond, true),
		span(1200*time.Millisecond, true),
		span(3*time.Second, false),
	)

	all := collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventCaptureFinished,
		EventTranscript,
		EventReply,
		EventSpeechFinished,
	)

	for _, e := range all {
		switch e.Type {
		case EventWakeDetected:
			if e.Confidence < 0.85 {
				t.Errorf("wake confidence = %v, want >= threshold", e.Confidence)
			}
		case EventCaptureFinished:
			if e.Reason != "silence" {
				t.Errorf("capture reason = %q, want silence", e.Reason)
			}
		case EventTranscript:
			if e.Text != "turn on the lights" {
				t.Errorf("transcript = %q", e.Text)
			}
		case EventReply:
			if e.Text != "lights are on" {
				t.Errorf("reply = %q", e.Text)
			}
		}
	}

	// The reply audio reached the device in order.
	want := append(append(append([]byte{},
		bytes.Repeat([]byte{0x01}, 640)...),
		bytes.Repeat([]byte{0x02}, 640)...),
		bytes.Repeat([]byte{0x03}, 640)...)
	if !bytes.Equal(fix.dev.Written(), want) {
		t.Errorf("playback got %d bytes, want %d in chunk order", len(fix.dev.Written()), len(want))
	}

	// Listening resumes right after the speech finishes.
	select {
	case e := <-fix.ctrl.Events():
		if e.Type != EventStateChanged || e.State != StateListening {
			t.Errorf("event after speech = %v (state %v), want transition to listening", e.Type, e.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no transition back to listening")
	}

	// The cycle walked the full state sequence.
	wantStates := []State{StateListening, StateCapturing, StateTranscribing, StateGenerating, StateSpeaking}
	seen := states(all)
	if len(seen) != len(wantStates) {
		t.Fatalf("state sequence = %v, want %v", seen, wantStates)
	}
	for i, s := range wantStates {
		if seen[i] != s {
			t.Fatalf("state sequence = %v, want %v", seen, wantStates)
		}
	}

	// Each transition reports the state it left.
	prev := StateIdle
	for _, e := range all {
		if e.Type != EventStateChanged {
			continue
		}
		if e.OldState != prev {
			t.Errorf("transition to %v reports old state %v, want %v", e.State, e.OldState, prev)
		}
		prev = e.State
	}

	// Exactly one transcription ran, on the captured segment only.
	calls := fix.tp.Calls()
	if len(calls) != 1 {
		t.Fatalf("transcriber calls = %d, want 1", len(calls))
	}
	segDur := time.Duration(calls[0].PCMBytes/2) * time.Second / 16000
	if segDur != 1200*time.Millisecond {
		t.Errorf("transcribed segment = %v, want the 1.2s command", segDur)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := fix.ctrl.State(); got != StateIdle {
		t.Fatalf("state after Run = %v, want idle", got)
	}
}

func TestControllerSingleWakePerInteraction(t *testing.T) {
	// The energy scorer confirms on any sustained speech, so if frames kept
	// reaching the detector after the wake, the long command would register
	// as further wake events. Exactly one may surface per interaction.
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	fix.source.sendSpans(
		span(2*time.Second, false),
		span(1500*time.Millisecond, true),
		span(4*time.Second, true),
		span(3*time.Second, false),
	)

	all := collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventCaptureFinished,
		EventTranscript,
		EventReply,
		EventSpeechFinished,
	)

	wakes := 0
	for _, e := range all {
		if e.Type == EventWakeDetected {
			wakes++
		}
	}
	if wakes != 1 {
		t.Errorf("wake events = %d, want exactly 1", wakes)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestControllerTranscriptionTimeout(t *testing.T) {
	fix := newFixture(t, func(cfg *Config) {
		cfg.Timeouts.Transcribe = 50 * time.Millisecond
	})
	fix.tp.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	fix.source.sendSpans(
		span(1500*time.Millisecond, true),
		span(1200*time.Millisecond, true),
		span(3*time.Second, false),
	)

	all := collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventCaptureFinished,
		EventStageFailed,
	)

	last := all[len(all)-1]
	if last.Stage != StageTranscribe {
		t.Errorf("failed stage = %q, want transcribe", last.Stage)
	}
	if !errors.Is(last.Err, context.DeadlineExceeded) {
		t.Errorf("failure error = %v, want deadline exceeded", last.Err)
	}

	// The pipeline is listening again and a second interaction succeeds.
	fix.tp.Delay = 0
	fix.source.sendSpans(
		span(1500*time.Millisecond, true),
		span(1200*time.Millisecond, true),
		span(3*time.Second, false),
	)
	collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventCaptureFinished,
		EventTranscript,
		EventReply,
		EventSpeechFinished,
	)

	cancel()
	<-done
}

func TestControllerSynthesisStreamFailure(t *testing.T) {
	fix := newFixture(t, nil)
	fix.sp.StreamErr = errors.New("voice service dropped")
	fix.sp.FailAfter = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	fix.source.sendSpans(
		span(1500*time.Millisecond, true),
		span(1200*time.Millisecond, true),
		span(3*time.Second, false),
	)

	all := collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventCaptureFinished,
		EventTranscript,
		EventReply,
		EventStageFailed,
	)

	last := all[len(all)-1]
	if last.Stage != StageSynthesize {
		t.Errorf("failed stage = %q, want synthesize", last.Stage)
	}
	if fix.dev.Stops() == 0 {
		t.Error("partial audio not stopped after stream failure")
	}

	cancel()
	<-done
}

func TestControllerDiscardsShortCommand(t *testing.T) {
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	fix.source.sendSpans(
		span(1500*time.Millisecond, true),
		span(200*time.Millisecond, true),
		span(4*time.Second, false),
	)

	all := collect(t, fix.ctrl.Events(),
		EventWakeDetected,
		EventSegmentDiscarded,
	)
	if disc := all[len(all)-1]; disc.Reason != "too_short" {
		t.Errorf("discard reason = %q, want too_short", disc.Reason)
	}
	if calls := fix.tp.Calls(); len(calls) != 0 {
		t.Fatalf("transcriber invoked %d times for a discarded segment", len(calls))
	}

	cancel()
	<-done
}

func TestControllerDeviceFailureEndsRun(t *testing.T) {
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	devErr := &audio.DeviceError{Op: "capture", Err: errors.New("unplugged")}
	fix.source.errs <- devErr

	select {
	case err := <-done:
		if !errors.Is(err, devErr) {
			t.Fatalf("Run returned %v, want the device error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after device failure")
	}
	if got := fix.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestControllerStopIsDeterministic(t *testing.T) {
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if got := fix.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	// The event channel closes after the final transition to idle.
	for e := range fix.ctrl.Events() {
		_ = e
	}
}

func TestControllerRejectsDoubleRun(t *testing.T) {
	fix := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fix.ctrl.Run(ctx) }()

	// Give the first Run a moment to take ownership.
	time.Sleep(20 * time.Millisecond)
	if err := fix.ctrl.Run(ctx); err == nil {
		t.Fatal("second Run did not fail")
	}

	cancel()
	<-done
}
