// Package observe provides application-wide observability primitives for
// Auricle: OpenTelemetry metrics, a Prometheus exporter bridge, and
// measurement wrappers for the HTTP control surface and the transcription
// backend.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/auricle-dev/auricle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// WakeInferenceDuration tracks per-chunk wake model scoring latency.
	WakeInferenceDuration metric.Float64Histogram

	// STTDuration tracks batch transcription latency.
	STTDuration metric.Float64Histogram

	// --- Counters ---

	// WakeChunks counts chunks scored by the wake model.
	WakeChunks metric.Int64Counter

	// WakeDetections counts confirmed wake detections. Use with attribute:
	//   attribute.String("model", ...)
	WakeDetections metric.Int64Counter

	// GateTransitions counts gate state transitions. Use with attribute:
	//   attribute.String("state", ...)
	GateTransitions metric.Int64Counter

	// SilenceTimeouts counts returns to listening caused by silence.
	SilenceTimeouts metric.Int64Counter

	// Transcripts counts relayed transcript events. Use with attribute:
	//   attribute.Bool("final", ...)
	Transcripts metric.Int64Counter

	// EventsStored counts voice events written to the event log. Use with
	// attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	EventsStored metric.Int64Counter

	// EventsPublished counts messages published to the bus. Use with
	// attributes:
	//   attribute.String("subject", ...), attribute.String("status", ...)
	EventsPublished metric.Int64Counter

	// --- Error counters ---

	// WakeInferenceFailures counts wake model scoring failures.
	WakeInferenceFailures metric.Int64Counter

	// STTFailures counts transcription failures.
	STTFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live gated recognition streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies, including sub-millisecond wake inference.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.WakeInferenceDuration, err = m.Float64Histogram("auricle.wake.inference.duration",
		metric.WithDescription("Latency of per-chunk wake model scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("auricle.stt.duration",
		metric.WithDescription("Latency of batch transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeChunks, err = m.Int64Counter("auricle.wake.chunks",
		metric.WithDescription("Total chunks scored by the wake model."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("auricle.wake.detections",
		metric.WithDescription("Total confirmed wake detections by model."),
	); err != nil {
		return nil, err
	}
	if met.GateTransitions, err = m.Int64Counter("auricle.gate.transitions",
		metric.WithDescription("Total gate state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.SilenceTimeouts, err = m.Int64Counter("auricle.gate.silence_timeouts",
		metric.WithDescription("Total returns to listening caused by silence."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("auricle.stt.transcripts",
		metric.WithDescription("Total relayed transcript events by finality."),
	); err != nil {
		return nil, err
	}
	if met.EventsStored, err = m.Int64Counter("auricle.eventlog.stored",
		metric.WithDescription("Total voice events written to the event log by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("auricle.messaging.published",
		metric.WithDescription("Total bus messages published by subject and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.WakeInferenceFailures, err = m.Int64Counter("auricle.wake.inference.failures",
		metric.WithDescription("Total wake model scoring failures."),
	); err != nil {
		return nil, err
	}
	if met.STTFailures, err = m.Int64Counter("auricle.stt.failures",
		metric.WithDescription("Total transcription failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("auricle.gate.active_streams",
		metric.WithDescription("Number of live gated recognition streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("auricle.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordWakeInference records one chunk scoring pass: the chunk counter, the
// latency histogram, and the failure counter when err is non-nil.
func (m *Metrics) RecordWakeInference(ctx context.Context, d time.Duration, err error) {
	m.WakeChunks.Add(ctx, 1)
	m.WakeInferenceDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.WakeInferenceFailures.Add(ctx, 1)
	}
}

// RecordWakeDetection records a confirmed detection for the named model.
func (m *Metrics) RecordWakeDetection(ctx context.Context, model string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// RecordTransition records a gate state transition to the named state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.GateTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordSilenceTimeout records a silence-driven return to listening.
func (m *Metrics) RecordSilenceTimeout(ctx context.Context) {
	m.SilenceTimeouts.Add(ctx, 1)
}

// RecordTranscript records a relayed transcript event.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// RecordEventStored records an event log write with its outcome.
func (m *Metrics) RecordEventStored(ctx context.Context, kind string, err error) {
	m.EventsStored.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status(err)),
		),
	)
}

// RecordPublish records a bus publish with its outcome.
func (m *Metrics) RecordPublish(ctx context.Context, subject string, err error) {
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subject", subject),
			attribute.String("status", status(err)),
		),
	)
}

// RecordTranscription records one batch transcription call.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, err error) {
	m.STTDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.STTFailures.Add(ctx, 1)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
