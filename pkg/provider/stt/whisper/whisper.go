// Package whisper implements the stt.Recognizer interface using the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all concurrent
// Transcribe calls; each call creates its own whisper context, which is the
// binding's unit of thread confinement.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/auricle-dev/auricle/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// minSamples is the shortest utterance whisper can meaningfully process.
	// Shorter inputs are transcribed as empty without invoking the model.
	minSamples = 1600 // 100 ms @ 16 kHz
)

// ErrClosed is returned by Transcribe after Close.
var ErrClosed = errors.New("whisper: transcriber closed")

// Transcriber is a batch speech recognizer backed by a whisper.cpp model.
type Transcriber struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu     sync.RWMutex
	closed bool
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithThreads sets the number of CPU threads per inference call. Zero lets
// whisper.cpp pick its own default.
func WithThreads(n uint) Option {
	return func(t *Transcriber) { t.threads = n }
}

// New creates a Transcriber that loads the whisper.cpp model from the given
// file path. Model load failure is fatal: no Transcriber is returned. The
// caller must call Close when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. In-flight Transcribe calls should be
// allowed to finish first; calls after Close return ErrClosed.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over one utterance of normalized
// mono float32 samples and returns the concatenated segment text. A fresh
// whisper context is created per call; contexts are not thread-safe but the
// shared model is.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return stt.Result{}, ErrClosed
	}
	model := t.model
	t.mu.RUnlock()

	if len(samples) < minSamples {
		return stt.Result{Language: t.language}, nil
	}

	start := time.Now()

	wctx, err := model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", t.language, "error", err)
	}
	if t.threads > 0 {
		wctx.SetThreads(t.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{
		Text:     strings.Join(parts, " "),
		Language: t.language,
		Duration: time.Since(start),
	}, nil
}

// Compile-time assertion that Transcriber satisfies stt.Recognizer.
var _ stt.Recognizer = (*Transcriber)(nil)
