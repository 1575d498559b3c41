package pipeline

import (
	"time"
)

// State is the controller's position in the interaction cycle.
type State int

const (
	// StateIdle means the pipeline is not running.
	StateIdle State = iota

	// StateListening means frames are flowing through wake-word detection.
	StateListening

	// StateCapturing means a command is being recorded.
	StateCapturing

	// StateTranscribing means the captured segment is being transcribed.
	StateTranscribing

	// StateGenerating means the reply is being generated.
	StateGenerating

	// StateSpeaking means the reply is being synthesised and played.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCapturing:
		return "capturing"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Stage names a provider-backed step for failure reporting and metrics.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageWake       Stage = "wake"
	StageTranscribe Stage = "transcribe"
	StageRespond    Stage = "respond"
	StageSynthesize Stage = "synthesize"
	StagePlayback   Stage = "playback"
)

// EventType discriminates Event values.
type EventType int

const (
	// EventStateChanged reports a state transition; State carries the new
	// state, OldState the one left.
	EventStateChanged EventType = iota

	// EventWakeDetected reports a confirmed wake word; Confidence and
	// Degraded are set.
	EventWakeDetected

	// EventCaptureFinished reports the end of command capture; Duration and
	// Reason are set.
	EventCaptureFinished

	// EventSegmentDiscarded reports a capture thrown away for being too
	// short.
	EventSegmentDiscarded

	// EventTranscript carries the transcription result; Text and Elapsed
	// are set.
	EventTranscript

	// EventReply carries the generated reply; Text and Elapsed are set.
	EventReply

	// EventSpeechFinished reports completed playback including the settle
	// pause; Elapsed covers synthesis through drain.
	EventSpeechFinished

	// EventStageFailed reports a provider or device failure; Stage, Err and
	// Elapsed are set.
	EventStageFailed
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventWakeDetected:
		return "wake_detected"
	case EventCaptureFinished:
		return "capture_finished"
	case EventSegmentDiscarded:
		return "segment_discarded"
	case EventTranscript:
		return "transcript"
	case EventReply:
		return "reply"
	case EventSpeechFinished:
		return "speech_finished"
	case EventStageFailed:
		return "stage_failed"
	default:
		return "unknown"
	}
}

// Event is one observable pipeline occurrence. Which fields are meaningful
// depends on Type; unused fields hold their zero value.
//
// Events are delivered on a buffered channel and dropped, never blocked on,
// when the consumer lags; see Controller.EventsDropped.
type Event struct {
	Type EventType
	Time time.Time

	// State and OldState describe a StateChanged transition; OldState is the
	// state being left.
	State    State
	OldState State

	Confidence float64
	Degraded   bool
	Text       string
	Stage      Stage
	Err        error
	Duration   time.Duration
	Reason     string
	Elapsed    time.Duration
}
