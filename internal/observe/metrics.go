// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/earshot-ai/earshot/internal/pipeline"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/earshot-ai/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks transcription latency.
	TranscribeDuration metric.Float64Histogram

	// RespondDuration tracks response generation latency.
	RespondDuration metric.Float64Histogram

	// SpeakDuration tracks synthesis-through-playback latency.
	SpeakDuration metric.Float64Histogram

	// --- Counters ---

	// WakeDetections counts confirmed wake words. Use with attribute:
	//   attribute.String("mode", "confirmed"|"degraded")
	WakeDetections metric.Int64Counter

	// SegmentsDiscarded counts captures thrown away before transcription.
	// Use with attribute: attribute.String("reason", ...)
	SegmentsDiscarded metric.Int64Counter

	// StageFailures counts provider and device failures. Use with
	// attribute: attribute.String("stage", ...)
	StageFailures metric.Int64Counter

	// StateTransitions counts controller state changes. Use with
	// attribute: attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// FramesDropped counts capture frames discarded because the pipeline
	// lagged behind the device.
	FramesDropped metric.Int64Counter

	// EventsDropped counts pipeline events discarded because the event
	// consumer lagged.
	EventsDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("earshot.transcribe.duration",
		metric.WithDescription("Latency of command transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RespondDuration, err = m.Float64Histogram("earshot.respond.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakDuration, err = m.Float64Histogram("earshot.speak.duration",
		metric.WithDescription("Latency of synthesis through playback drain."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Total confirmed wake words by mode."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("earshot.segments.discarded",
		metric.WithDescription("Total captures discarded before transcription by reason."),
	); err != nil {
		return nil, err
	}
	if met.StageFailures, err = m.Int64Counter("earshot.stage.failures",
		metric.WithDescription("Total provider and device failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("earshot.state.transitions",
		metric.WithDescription("Total controller state changes by target state."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("earshot.frames.dropped",
		metric.WithDescription("Total capture frames discarded under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("earshot.events.dropped",
		metric.WithDescription("Total pipeline events discarded because the consumer lagged."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEvent maps one pipeline event onto the metric instruments. The
// event consumer in the main loop feeds every event through here, which
// keeps the controller itself free of metrics plumbing.
func (m *Metrics) RecordEvent(ctx context.Context, ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventStateChanged:
		m.StateTransitions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("state", ev.State.String())))

	case pipeline.EventWakeDetected:
		mode := "confirmed"
		if ev.Degraded {
			mode = "degraded"
		}
		m.WakeDetections.Add(ctx, 1,
			metric.WithAttributes(attribute.String("mode", mode)))

	case pipeline.EventSegmentDiscarded:
		m.SegmentsDiscarded.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", ev.Reason)))

	case pipeline.EventTranscript:
		m.TranscribeDuration.Record(ctx, ev.Elapsed.Seconds())

	case pipeline.EventReply:
		m.RespondDuration.Record(ctx, ev.Elapsed.Seconds())

	case pipeline.EventSpeechFinished:
		m.SpeakDuration.Record(ctx, ev.Elapsed.Seconds())

	case pipeline.EventStageFailed:
		m.StageFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", string(ev.Stage))))
	}
}

// RecordWakeDetection records a confirmed wake word.
func (m *Metrics) RecordWakeDetection(ctx context.Context, degraded bool) {
	mode := "confirmed"
	if degraded {
		mode = "degraded"
	}
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordStageFailure records a provider or device failure.
func (m *Metrics) RecordStageFailure(ctx context.Context, stage pipeline.Stage) {
	m.StageFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", string(stage))))
}

// AddFramesDropped records capture frames lost to backpressure.
func (m *Metrics) AddFramesDropped(ctx context.Context, n int64) {
	if n > 0 {
		m.FramesDropped.Add(ctx, n)
	}
}

// AddEventsDropped records pipeline events lost to a lagging consumer.
func (m *Metrics) AddEventsDropped(ctx context.Context, n int64) {
	if n > 0 {
		m.EventsDropped.Add(ctx, n)
	}
}
