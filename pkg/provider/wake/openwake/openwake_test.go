package openwake

import (
	"os"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		MelspecPath:   "melspectrogram.onnx",
		EmbeddingPath: "embedding_model.onnx",
		Classifiers:   []Classifier{{Name: "hey-assistant", Path: "hey.onnx"}},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing melspec", func(c *Config) { c.MelspecPath = "" }, true},
		{"missing embedding", func(c *Config) { c.EmbeddingPath = "" }, true},
		{"no classifiers", func(c *Config) { c.Classifiers = nil }, true},
		{"unnamed classifier", func(c *Config) { c.Classifiers[0].Name = "" }, true},
		{"classifier without path", func(c *Config) { c.Classifiers[0].Path = "" }, true},
		{"duplicate names", func(c *Config) {
			c.Classifiers = append(c.Classifiers, Classifier{Name: "hey-assistant", Path: "other.onnx"})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Classifiers = append([]Classifier(nil), valid.Classifiers...)
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

// pipelineConfig returns a Config pointing at real model files, skipping the
// test when the environment does not provide them.
func pipelineConfig(t *testing.T) Config {
	t.Helper()
	melspec := os.Getenv("OPENWAKE_MELSPEC_PATH")
	embedding := os.Getenv("OPENWAKE_EMBEDDING_PATH")
	wakeword := os.Getenv("OPENWAKE_WAKEWORD_PATH")
	if melspec == "" || embedding == "" || wakeword == "" {
		t.Skip("OPENWAKE_MELSPEC_PATH, OPENWAKE_EMBEDDING_PATH or OPENWAKE_WAKEWORD_PATH not set; skipping model-bound test")
	}
	if err := InitRuntime(os.Getenv("ONNXRUNTIME_LIB_PATH")); err != nil {
		t.Fatalf("InitRuntime() error = %v", err)
	}
	return Config{
		MelspecPath:   melspec,
		EmbeddingPath: embedding,
		Classifiers:   []Classifier{{Name: "wakeword", Path: wakeword}},
	}
}

func TestPipelineSilence(t *testing.T) {
	m, err := New(pipelineConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	if got := m.ChunkSamples(); got != ChunkSamples {
		t.Fatalf("ChunkSamples() = %d, want %d", got, ChunkSamples)
	}
	if names := m.Names(); len(names) != 1 || names[0] != "wakeword" {
		t.Fatalf("Names() = %v, want [wakeword]", names)
	}

	silence := make([]int16, ChunkSamples)

	// The first chunks only warm the mel buffer; scores stay at zero until
	// an embedding window fills.
	scores, err := m.Predict(silence)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if scores["wakeword"] != 0 {
		t.Errorf("warmup score = %v, want 0", scores["wakeword"])
	}

	// Push enough audio for several embedding windows; silence must stay
	// well below any sensible threshold.
	for range 40 {
		scores, err = m.Predict(silence)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
	}
	if s := scores["wakeword"]; s > 0.3 {
		t.Errorf("silence score = %v, want <= 0.3", s)
	}
}

func TestPipelineChunkSize(t *testing.T) {
	m, err := New(pipelineConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	if _, err := m.Predict(make([]int16, 100)); err == nil {
		t.Error("expected error for undersized chunk")
	}
	if _, err := m.Predict(make([]int16, ChunkSamples*2)); err == nil {
		t.Error("expected error for oversized chunk")
	}
}

func TestPipelineReset(t *testing.T) {
	m, err := New(pipelineConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	silence := make([]int16, ChunkSamples)
	for range 20 {
		if _, err := m.Predict(silence); err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	// After a reset the pipeline is cold again and needs a fresh warmup.
	scores, err := m.Predict(silence)
	if err != nil {
		t.Fatalf("Predict() after Reset error = %v", err)
	}
	if scores["wakeword"] != 0 {
		t.Errorf("post-reset warmup score = %v, want 0", scores["wakeword"])
	}
}

func TestPipelineClose(t *testing.T) {
	m, err := New(pipelineConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := m.Predict(make([]int16, ChunkSamples)); err != ErrModelClosed {
		t.Errorf("Predict after Close = %v, want %v", err, ErrModelClosed)
	}
	if err := m.Reset(); err != ErrModelClosed {
		t.Errorf("Reset after Close = %v, want %v", err, ErrModelClosed)
	}
}
