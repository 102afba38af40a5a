package config_test

import (
	"strings"
	"testing"

	"github.com/auricle-dev/auricle/internal/config"
)

func TestValidate_DuplicateModelNames(t *testing.T) {
	t.Parallel()
	yaml := `
wake:
  backend: textmatch
  models:
    - name: hey_jarvis
      phrase: "hey jarvis"
    - name: hey_jarvis
      phrase: "hey jarvis"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate model names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_TextMatchWithPhrasesIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
wake:
  backend: textmatch
  models:
    - name: hey_jarvis
      phrase: "hey jarvis"
    - name: computer
      phrase: "computer"
stt:
  model_path: models/ggml-base.en.bin
vad:
  model_path: models/silero_vad.onnx
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_OpenWakeWithSharedModelsIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
wake:
  backend: openwake
  melspec_model: models/melspectrogram.onnx
  embedding_model: models/embedding_model.onnx
  models:
    - name: hey_jarvis
      path: models/hey_jarvis.onnx
stt:
  model_path: models/ggml-base.en.bin
vad:
  model_path: models/silero_vad.onnx
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MessagingEnabledRequiresURL(t *testing.T) {
	t.Parallel()
	yaml := `
messaging:
  enabled: true
  url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for enabled messaging without url, got nil")
	}
	if !strings.Contains(err.Error(), "messaging.url") {
		t.Errorf("error should mention messaging.url, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
logging:
  level: shouty
wake:
  backend: textmatch
  models:
    - name: hey_jarvis
      phrase: "hey jarvis"
    - name: hey_jarvis
      phrase: "hey jarvis"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	// Both the log level and the duplicate should be reported at once.
	errStr := err.Error()
	if !strings.Contains(errStr, "logging.level") {
		t.Errorf("error should mention logging.level, got: %v", err)
	}
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/auricle.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	// The shipped defaults must pass their own validation.
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}
