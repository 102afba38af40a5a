package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/auricle-dev/auricle/pkg/provider/stt"
	sttmock "github.com/auricle-dev/auricle/pkg/provider/stt/mock"
)

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rm := collect(t, reader)
	met := findMetric(rm, "auricle.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	attrs := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["http.method"] != "GET" {
		t.Errorf("method attribute = %q, want GET", attrs["http.method"])
	}
	if attrs["http.path"] != "/healthz" {
		t.Errorf("path attribute = %q, want /healthz", attrs["http.path"])
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestMiddleware_DefaultsToStatusOK(t *testing.T) {
	m, _ := newTestMetrics(t)

	// A handler that writes a body without an explicit WriteHeader.
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMeasureRecognizer_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	inner := &sttmock.Recognizer{
		Result: stt.Result{Text: "hello there"},
	}
	rec := MeasureRecognizer(inner, m)

	res, err := rec.Transcribe(context.Background(), []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("text = %q, want %q", res.Text, "hello there")
	}
	if inner.CallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.CallCount())
	}

	rm := collect(t, reader)
	met := findMetric(rm, "auricle.stt.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestMeasureRecognizer_CountsFailures(t *testing.T) {
	m, reader := newTestMetrics(t)

	inner := &sttmock.Recognizer{TranscribeErr: errors.New("model not loaded")}
	rec := MeasureRecognizer(inner, m)

	if _, err := rec.Transcribe(context.Background(), []float32{0}); err == nil {
		t.Fatal("expected error from inner recognizer")
	}

	rm := collect(t, reader)
	failures := findMetric(rm, "auricle.stt.failures")
	if failures == nil {
		t.Fatal("failure metric not found")
	}
	if got := failures.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestMeasureRecognizer_NilMetricsPassthrough(t *testing.T) {
	inner := &sttmock.Recognizer{Result: stt.Result{Text: "raw"}}
	if got := MeasureRecognizer(inner, nil); got != stt.Recognizer(inner) {
		t.Error("nil metrics should return the recognizer unchanged")
	}
}
