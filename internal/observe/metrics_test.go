package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the summed value of the data point whose attributes
// contain key=value, or -1 when no such point exists.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == attribute.StringValue(value).Emit() {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordWakeInference(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWakeInference(ctx, 2*time.Millisecond, nil)
	m.RecordWakeInference(ctx, 3*time.Millisecond, nil)
	m.RecordWakeInference(ctx, 5*time.Millisecond, errors.New("onnx session failed"))

	rm := collect(t, reader)

	met := findMetric(rm, "auricle.wake.inference.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration sample count = %d, want 3", got)
	}

	chunks := findMetric(rm, "auricle.wake.chunks")
	if chunks == nil {
		t.Fatal("chunk metric not found")
	}
	if got := chunks.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 3 {
		t.Errorf("chunk count = %d, want 3", got)
	}

	failures := findMetric(rm, "auricle.wake.inference.failures")
	if failures == nil {
		t.Fatal("failure metric not found")
	}
	if got := failures.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestRecordWakeDetection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWakeDetection(ctx, "hey-assistant")
	m.RecordWakeDetection(ctx, "hey-assistant")
	m.RecordWakeDetection(ctx, "computer")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "auricle.wake.detections", "model", "hey-assistant"); got != 2 {
		t.Errorf("hey-assistant detections = %d, want 2", got)
	}
	if got := counterValue(t, rm, "auricle.wake.detections", "model", "computer"); got != 1 {
		t.Errorf("computer detections = %d, want 1", got)
	}
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "active")
	m.RecordTransition(ctx, "listening")
	m.RecordTransition(ctx, "active")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "auricle.gate.transitions", "state", "active"); got != 2 {
		t.Errorf("active transitions = %d, want 2", got)
	}
	if got := counterValue(t, rm, "auricle.gate.transitions", "state", "listening"); got != 1 {
		t.Errorf("listening transitions = %d, want 1", got)
	}
}

func TestRecordEventOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEventStored(ctx, "wake", nil)
	m.RecordEventStored(ctx, "wake", errors.New("disk full"))
	m.RecordPublish(ctx, "auricle.wake.state", nil)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "auricle.eventlog.stored", "status", "ok"); got != 1 {
		t.Errorf("stored ok = %d, want 1", got)
	}
	if got := counterValue(t, rm, "auricle.eventlog.stored", "status", "error"); got != 1 {
		t.Errorf("stored error = %d, want 1", got)
	}
	if got := counterValue(t, rm, "auricle.messaging.published", "status", "ok"); got != 1 {
		t.Errorf("published ok = %d, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "auricle.gate.active_streams")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, 120*time.Millisecond, nil)
	m.RecordTranscription(ctx, 80*time.Millisecond, errors.New("model gone"))

	rm := collect(t, reader)
	met := findMetric(rm, "auricle.stt.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}

	failures := findMetric(rm, "auricle.stt.failures")
	if failures == nil {
		t.Fatal("failure metric not found")
	}
	if got := failures.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
