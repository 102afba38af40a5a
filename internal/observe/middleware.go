package observe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/auricle-dev/auricle/pkg/provider/stt"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware returns an [http.Handler] wrapper that records request duration
// to [Metrics.HTTPRequestDuration] and logs request completion with status
// code and duration.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the writer to capture the status code.
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(r.Context(), duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)

			slog.LogAttrs(r.Context(), slog.LevelDebug, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}

// measuredRecognizer wraps an [stt.Recognizer] and records transcription
// latency and failures.
type measuredRecognizer struct {
	inner   stt.Recognizer
	metrics *Metrics
}

// MeasureRecognizer wraps rec so that every Transcribe call is recorded to
// [Metrics.STTDuration] and [Metrics.STTFailures]. A nil metrics returns rec
// unchanged.
func MeasureRecognizer(rec stt.Recognizer, m *Metrics) stt.Recognizer {
	if m == nil {
		return rec
	}
	return &measuredRecognizer{inner: rec, metrics: m}
}

// Transcribe delegates to the wrapped recognizer and records the outcome.
func (r *measuredRecognizer) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	start := time.Now()
	res, err := r.inner.Transcribe(ctx, samples)
	r.metrics.RecordTranscription(ctx, time.Since(start), err)
	return res, err
}

// Ensure measuredRecognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*measuredRecognizer)(nil)
