// Package silero implements the vad.Engine interface on top of the Silero
// VAD ONNX model via github.com/streamer45/silero-vad-go.
//
// The model runs entirely in-process through ONNX Runtime. One detector is
// created per session; detectors are cheap relative to the model weights,
// which ONNX Runtime shares across sessions loaded from the same path.
package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/auricle-dev/auricle/pkg/provider/vad"
)

// ErrSessionClosed is returned by Process and Reset after Close.
var ErrSessionClosed = errors.New("silero: session closed")

// Default session parameters, applied when the corresponding Config field is
// zero. They match the upstream model's recommended starting values.
const (
	defaultThreshold  = 0.5
	defaultMinSilence = 100 * time.Millisecond
	defaultSpeechPad  = 30 * time.Millisecond
)

// Engine creates Silero VAD sessions from a single ONNX model file.
type Engine struct {
	modelPath string
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for session-level diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine backed by the Silero model at modelPath. The file is
// validated lazily: loading happens per session, so a bad path surfaces as an
// error from NewSession.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	e := &Engine{
		modelPath: modelPath,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewSession creates a detector with the given configuration.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("silero: threshold %v out of range [0, 1]", cfg.Threshold)
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	minSilence := cfg.MinSilence
	if minSilence == 0 {
		minSilence = defaultMinSilence
	}
	speechPad := cfg.SpeechPad
	if speechPad == 0 {
		speechPad = defaultSpeechPad
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: int(minSilence.Milliseconds()),
		SpeechPadMs:          int(speechPad.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	e.log.Debug("silero session created",
		"sampleRate", cfg.SampleRate,
		"threshold", threshold,
		"minSilence", minSilence,
	)

	return &session{det: det}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// session wraps one Silero detector. The detector tracks stream position
// internally; segments come back with absolute stream timestamps.
type session struct {
	mu     sync.Mutex
	det    *speech.Detector
	closed bool

	// started is true while a SpeechStart has been emitted without a
	// matching SpeechEnd. The detector reports an in-progress segment with
	// SpeechEndAt == 0 and repeats the segment once the end is known, so
	// this flag deduplicates the start.
	started bool
}

func (s *session) Process(samples []float32) ([]vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(samples) == 0 {
		return nil, nil
	}

	segments, err := s.det.DetectStream(samples)
	if err != nil {
		return nil, fmt.Errorf("silero: detect: %w", err)
	}

	var events []vad.Event
	for _, seg := range segments {
		if seg.SpeechEndAt == 0 {
			// In-progress segment: only the start boundary is known.
			if !s.started {
				events = append(events, vad.Event{
					Type: vad.SpeechStart,
					At:   secondsToDuration(seg.SpeechStartAt),
				})
				s.started = true
			}
			continue
		}
		// Completed segment. Emit the start too when it fell entirely
		// within this batch.
		if !s.started {
			events = append(events, vad.Event{
				Type: vad.SpeechStart,
				At:   secondsToDuration(seg.SpeechStartAt),
			})
		}
		events = append(events, vad.Event{
			Type: vad.SpeechEnd,
			At:   secondsToDuration(seg.SpeechEndAt),
		})
		s.started = false
	}
	return events, nil
}

func (s *session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.started = false
	if err := s.det.Reset(); err != nil {
		return fmt.Errorf("silero: reset: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy: %w", err)
	}
	return nil
}

// Ensure session implements vad.Session at compile time.
var _ vad.Session = (*session)(nil)

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
