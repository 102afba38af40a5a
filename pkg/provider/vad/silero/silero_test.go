package silero_test

import (
	"os"
	"testing"

	"github.com/auricle-dev/auricle/pkg/provider/vad"
	"github.com/auricle-dev/auricle/pkg/provider/vad/silero"
)

// testModelPath returns the path to a silero_vad.onnx for integration tests.
// It reads from the SILERO_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("SILERO_MODEL_PATH")
	if p == "" {
		t.Skip("SILERO_MODEL_PATH not set; skipping silero integration test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	_, err := silero.New("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewSession_UnsupportedSampleRate_ReturnsError(t *testing.T) {
	eng, err := silero.New("model.onnx")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.NewSession(vad.Config{SampleRate: 44100})
	if err == nil {
		t.Fatal("expected error for unsupported sample rate, got nil")
	}
}

func TestNewSession_ThresholdOutOfRange_ReturnsError(t *testing.T) {
	eng, err := silero.New("model.onnx")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.NewSession(vad.Config{SampleRate: 16000, Threshold: 1.5})
	if err == nil {
		t.Fatal("expected error for threshold out of range, got nil")
	}
}

func TestSession_SilenceProducesNoEvents(t *testing.T) {
	eng, err := silero.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := eng.NewSession(vad.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// One second of digital silence.
	events, err := sess.Process(make([]float32, 16000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events for silence, got %d", len(events))
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	eng, err := silero.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := eng.NewSession(vad.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.Process(make([]float32, 512)); err == nil {
		t.Fatal("Process after Close should return an error")
	}
	if err := sess.Reset(); err == nil {
		t.Fatal("Reset after Close should return an error")
	}
}
