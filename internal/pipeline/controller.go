// Package pipeline orchestrates the voice interaction cycle: wake-word
// detection, command capture, transcription, response generation, and spoken
// playback.
//
// The Controller owns a single goroutine that consumes the frame stream and
// drives every state transition, so the state machine needs no locking and
// transitions are strictly ordered. Provider calls run inline in that
// goroutine under per-stage deadlines; frames arriving meanwhile are shed by
// the source's drop-oldest backpressure, which is exactly the behaviour
// wanted while the assistant is busy speaking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/earshot-ai/earshot/internal/recorder"
	"github.com/earshot-ai/earshot/internal/wakeword"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/respond"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
)

// FrameSource is the controller's view of the audio input. Implemented by
// source.Source.
type FrameSource interface {
	// Frames is the pipeline frame stream; closed when the source closes.
	Frames() <-chan audio.Frame

	// Errors reports device failures that end the listening session.
	Errors() <-chan error
}

// Timeouts bound each provider-backed stage.
type Timeouts struct {
	Transcribe time.Duration
	Respond    time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts returns the stage deadlines used when the configuration
// does not override them.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe: 10 * time.Second,
		Respond:    15 * time.Second,
		Synthesize: 30 * time.Second,
	}
}

// Config assembles a Controller.
type Config struct {
	Source      FrameSource
	Detector    *wakeword.Detector
	Recorder    *recorder.Recorder
	Transcriber transcribe.Provider
	Responder   respond.Provider
	Synthesizer synth.Provider
	Sink        *PlaybackSink

	// Timeouts bound the provider stages. Zero fields take defaults.
	Timeouts Timeouts

	// SystemPrompt frames the responder's persona.
	SystemPrompt string

	// HistoryLimit caps remembered exchanges. Default 8.
	HistoryLimit int

	// EventBuffer is the event channel depth. Default 64.
	EventBuffer int

	Logger *slog.Logger
}

// Controller runs the interaction cycle. Create with New, drive with Run.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	events  chan Event
	state   atomic.Int32
	dropped atomic.Uint64
	running atomic.Bool

	history []respond.Exchange
}

// New validates the configuration and builds a controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if cfg.Detector == nil {
		errs = append(errs, errors.New("detector is required"))
	}
	if cfg.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if cfg.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("playback sink is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("pipeline: %w", errors.Join(errs...))
	}

	def := DefaultTimeouts()
	if cfg.Timeouts.Transcribe <= 0 {
		cfg.Timeouts.Transcribe = def.Transcribe
	}
	if cfg.Timeouts.Respond <= 0 {
		cfg.Timeouts.Respond = def.Respond
	}
	if cfg.Timeouts.Synthesize <= 0 {
		cfg.Timeouts.Synthesize = def.Synthesize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 8
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events returns the pipeline event stream. The channel is closed when Run
// returns.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current pipeline state.
func (c *Controller) State() State { return State(c.state.Load()) }

// EventsDropped returns how many events were discarded because the consumer
// lagged.
func (c *Controller) EventsDropped() uint64 { return c.dropped.Load() }

// SetTimeouts replaces the stage deadlines for subsequent cycles.
func (c *Controller) SetTimeouts(t Timeouts) {
	def := DefaultTimeouts()
	if t.Transcribe <= 0 {
		t.Transcribe = def.Transcribe
	}
	if t.Respond <= 0 {
		t.Respond = def.Respond
	}
	if t.Synthesize <= 0 {
		t.Synthesize = def.Synthesize
	}
	c.cfg.Timeouts = t
}

// Run consumes frames until ctx is cancelled, the frame stream closes, or
// the capture device fails. On return the state is Idle and the event
// channel is closed, in that order.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: already running")
	}
	defer func() {
		c.setState(StateIdle)
		close(c.events)
		c.running.Store(false)
	}()

	c.setState(StateListening)
	c.logger.Info("pipeline started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("pipeline stopping", "cause", ctx.Err())
			return nil
		case err := <-c.cfg.Source.Errors():
			c.emit(Event{Type: EventStageFailed, Stage: StageCapture, Err: err})
			c.logger.Error("capture device failed", "error", err)
			return err
		case f, ok := <-c.cfg.Source.Frames():
			if !ok {
				c.logger.Info("frame stream closed")
				return nil
			}
			c.handleFrame(ctx, f)
		}
	}
}

// handleFrame advances the state machine by one frame.
func (c *Controller) handleFrame(ctx context.Context, f audio.Frame) {
	switch c.State() {
	case StateListening:
		det, err := c.cfg.Detector.ProcessFrame(ctx, f)
		if err != nil {
			c.emit(Event{Type: EventStageFailed, Stage: StageWake, Err: err})
			return
		}
		if det == nil {
			return
		}
		c.emit(Event{
			Type:       EventWakeDetected,
			Confidence: det.Confidence,
			Degraded:   det.Degraded,
		})
		c.logger.Info("wake word detected",
			"confidence", det.Confidence,
			"degraded", det.Degraded)
		c.cfg.Recorder.Begin()
		c.setState(StateCapturing)

	case StateCapturing:
		if !c.cfg.Recorder.Feed(f) {
			return
		}
		seg, err := c.cfg.Recorder.Segment()
		if errors.Is(err, recorder.ErrSegmentTooShort) {
			c.emit(Event{Type: EventSegmentDiscarded, Reason: "too_short"})
			c.logger.Info("command discarded", "reason", "too_short")
			c.backToListening()
			return
		}
		if err != nil {
			c.fail(StageCapture, err, 0)
			c.backToListening()
			return
		}
		c.emit(Event{
			Type:     EventCaptureFinished,
			Duration: seg.Duration(),
			Reason:   seg.Reason.String(),
		})
		c.respondCycle(ctx, seg)
	}
}

// respondCycle runs transcription, generation, and speech for one captured
// command. Any stage failure abandons the cycle and listening resumes.
func (c *Controller) respondCycle(ctx context.Context, seg *recorder.Segment) {
	defer c.backToListening()

	// Transcribe.
	c.setState(StateTranscribing)
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Transcribe)
	res, err := c.cfg.Transcriber.Transcribe(tctx, seg.PCM, seg.SampleRate)
	cancel()
	if err != nil {
		c.fail(StageTranscribe, err, time.Since(start))
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		c.emit(Event{Type: EventSegmentDiscarded, Reason: "empty_transcript"})
		c.logger.Info("command discarded", "reason", "empty_transcript")
		return
	}
	c.emit(Event{Type: EventTranscript, Text: text, Elapsed: time.Since(start)})
	c.logger.Info("command transcribed", "text", text, "elapsed", time.Since(start))

	// Generate.
	c.setState(StateGenerating)
	start = time.Now()
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Respond)
	reply, err := c.cfg.Responder.Respond(rctx, text, respond.Conversation{
		SystemPrompt: c.cfg.SystemPrompt,
		History:      c.history,
	})
	cancel()
	if err != nil {
		c.fail(StageRespond, err, time.Since(start))
		return
	}
	c.emit(Event{Type: EventReply, Text: reply, Elapsed: time.Since(start)})

	// Speak.
	c.setState(StateSpeaking)
	start = time.Now()
	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Synthesize)
	defer cancel()
	stream, err := c.cfg.Synthesizer.Synthesize(sctx, reply)
	if err != nil {
		c.fail(StageSynthesize, err, time.Since(start))
		return
	}
	if err := c.cfg.Sink.Play(sctx, stream); err != nil {
		stage := StagePlayback
		if stream.Err() != nil {
			stage = StageSynthesize
		}
		c.fail(stage, err, time.Since(start))
		return
	}

	c.remember(respond.Exchange{Transcript: text, Reply: reply, At: time.Now()})
	c.emit(Event{Type: EventSpeechFinished, Elapsed: time.Since(start)})
	c.logger.Info("reply spoken", "elapsed", time.Since(start))
}

// backToListening clears detector state so the assistant cannot trigger on
// residue of its own audio, then resumes listening.
func (c *Controller) backToListening() {
	c.cfg.Detector.Reset()
	c.setState(StateListening)
}

// remember appends an exchange, trimming to the history limit.
func (c *Controller) remember(e respond.Exchange) {
	c.history = append(c.history, e)
	if over := len(c.history) - c.cfg.HistoryLimit; over > 0 {
		c.history = append([]respond.Exchange(nil), c.history[over:]...)
	}
}

func (c *Controller) fail(stage Stage, err error, elapsed time.Duration) {
	c.emit(Event{Type: EventStageFailed, Stage: stage, Err: err, Elapsed: elapsed})
	c.logger.Error("stage failed", "stage", string(stage), "error", err, "elapsed", elapsed)
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.emit(Event{Type: EventStateChanged, State: s, OldState: old})
}

// emit delivers an event without ever blocking the control loop.
func (c *Controller) emit(e Event) {
	e.Time = time.Now()
	select {
	case c.events <- e:
	default:
		c.dropped.Add(1)
	}
}
