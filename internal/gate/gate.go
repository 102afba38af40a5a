// Package gate implements the wake-word gated streaming recognizer: a
// front end that stays cheap while idle, opens on a spoken trigger phrase,
// streams audio into the full recognition pipeline while a conversation is
// underway, and closes again after a configurable stretch of silence.
//
// # Architecture
//
// A [Recognizer] holds the shared wake-word model plus the factories for
// the two per-session collaborators: the inner recognition pipeline
// (an stt.Provider, typically the VAD segmenter over whisper) and the
// speech-activity tracker (a vad.Engine session giving a low-latency
// "user is talking" signal independent of transcription).
//
// Each [Stream] runs four loops for its lifetime:
//
//  1. Frame dispatch: routes pushed frames by state: to the detector while
//     listening, to the inner pipeline and the activity tracker while active.
//  2. Inner-event relay: republishes recognition events on the stream's
//     output channel and refreshes the last-speech clock.
//  3. Speech-activity tracking: maintains the speech-active flag from the
//     tracker's boundary events.
//  4. Silence monitor: polls the return-to-listening condition.
//
// State changes surface as tagged [Event] values on the same channel that
// carries recognition events, so a consumer needs exactly one receive loop.
// The optional construction callbacks exist for latency-sensitive side
// effects (playing an acknowledgement tone on wake); they run fire-and-forget
// and a panic inside one is logged, never propagated.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-dev/auricle/internal/observe"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
	"github.com/auricle-dev/auricle/pkg/provider/vad"
	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

const (
	// defaultSilenceTimeout is how long an active conversation may stay
	// silent before the gate closes.
	defaultSilenceTimeout = 3 * time.Second

	// defaultPollInterval bounds the worst-case latency of a timeout
	// transition: the monitor re-evaluates the condition once per interval.
	defaultPollInterval = 500 * time.Millisecond

	// defaultThreshold is the detection score at or above which a trigger
	// model fires, unless overridden per model.
	defaultThreshold = 0.5

	// defaultSampleRate is the rate the wake-word detector requires.
	defaultSampleRate = 16000

	// inputBuffer is the dispatch channel depth. At 80 ms frames this
	// absorbs roughly twenty seconds of backlog before PushFrame blocks.
	inputBuffer = 256

	// activityBuffer is the tracker channel depth. Frames are dropped
	// rather than queued once it fills; the tracker signal is advisory.
	activityBuffer = 256

	// eventBuffer is the output channel depth.
	eventBuffer = 64
)

var (
	// ErrStreamClosed is returned by PushFrame after the stream is closed.
	ErrStreamClosed = errors.New("gate: stream closed")

	// ErrInputEnded is returned by PushFrame after EndInput.
	ErrInputEnded = errors.New("gate: input already ended")

	// ErrRecognizerClosed is returned by Stream after the recognizer is
	// closed.
	ErrRecognizerClosed = errors.New("gate: recognizer closed")
)

// Recognizer opens wake-word gated recognition streams. It owns the
// configuration shared by all sessions and serializes access to the wake
// model, which keeps internal hysteresis and is not safe for concurrent
// prediction.
//
// The wake model, inner provider, and VAD engine are borrowed: closing the
// Recognizer closes its live streams but leaves the collaborators to their
// owner.
type Recognizer struct {
	model  wake.Model
	inner  stt.Provider
	engine vad.Engine

	// settingsMu guards the two settings that may change while streams
	// are live; everything else is fixed at construction.
	settingsMu     sync.RWMutex
	thresholds     wake.Thresholds
	silenceTimeout time.Duration

	pollInterval time.Duration
	sampleRate   int
	language     string
	log          *slog.Logger
	metrics      *observe.Metrics

	onWakeDetected func(model string, score float32)
	onStateChanged func(state State)

	// detectMu serializes Predict and Reset calls on the shared model.
	detectMu sync.Mutex

	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

// Option is a functional option for configuring a Recognizer during
// construction.
type Option func(*Recognizer)

// WithThresholds sets the per-model detection thresholds. A zero Default is
// replaced by 0.5.
func WithThresholds(t wake.Thresholds) Option {
	return func(r *Recognizer) { r.thresholds = t }
}

// WithSilenceTimeout sets how long an active conversation may stay silent
// before the gate returns to listening. Default is 3 s.
func WithSilenceTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.silenceTimeout = d
		}
	}
}

// WithPollInterval sets how often the silence monitor re-evaluates the
// timeout condition. Default is 500 ms.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithSampleRate sets the sample rate, in Hz, that pushed frames must carry.
// The detector consumes audio at this rate as-is; no resampling happens
// inside the gate. Default is 16000.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// WithLanguage sets the recognition language hint passed to the inner
// pipeline. Empty means the backend default.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithLogger sets the logger for gate diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Recognizer) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics sets the instrument set for gate telemetry. Nil disables
// metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// WithWakeDetected registers a callback invoked once per transition to
// active, before the state flip commits, with the winning model and score.
// It runs on its own goroutine; a panic inside it is logged and swallowed.
func WithWakeDetected(fn func(model string, score float32)) Option {
	return func(r *Recognizer) { r.onWakeDetected = fn }
}

// WithStateChanged registers a callback invoked with the new state on every
// transition. It runs on its own goroutine; a panic inside it is logged and
// swallowed.
func WithStateChanged(fn func(state State)) Option {
	return func(r *Recognizer) { r.onStateChanged = fn }
}

// New constructs a Recognizer around a loaded wake model, an inner
// recognition provider, and a VAD engine for speech-activity tracking.
// A failed model load must be surfaced by the model's own constructor;
// New only wires collaborators together.
func New(model wake.Model, inner stt.Provider, engine vad.Engine, opts ...Option) (*Recognizer, error) {
	if model == nil {
		return nil, errors.New("gate: wake model is required")
	}
	if inner == nil {
		return nil, errors.New("gate: inner recognition provider is required")
	}
	if engine == nil {
		return nil, errors.New("gate: vad engine is required")
	}

	r := &Recognizer{
		model:          model,
		inner:          inner,
		engine:         engine,
		silenceTimeout: defaultSilenceTimeout,
		pollInterval:   defaultPollInterval,
		sampleRate:     defaultSampleRate,
		log:            slog.Default(),
		streams:        make(map[*Stream]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.thresholds.Default == 0 {
		r.thresholds.Default = defaultThreshold
	}
	return r, nil
}

// Stream opens a gated recognition session. The session starts in the
// listening state with fresh detector state, an open inner recognition
// stream, and a dedicated speech-activity session. Cancelling ctx closes
// the stream.
//
// The caller owns the returned Stream and must call Close (or EndInput and
// then drain Events) to release it.
func (r *Recognizer) Stream(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRecognizerClosed
	}
	r.mu.Unlock()

	// The shared model may carry hysteresis from a previous session.
	r.detectMu.Lock()
	err := r.model.Reset()
	r.detectMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("gate: resetting wake model: %w", err)
	}

	inner, err := r.inner.StartStream(ctx, stt.StreamConfig{
		SampleRate: r.sampleRate,
		Channels:   1,
		Language:   r.language,
	})
	if err != nil {
		return nil, fmt.Errorf("gate: starting inner recognition stream: %w", err)
	}

	activity, err := r.engine.NewSession(vad.Config{SampleRate: r.sampleRate})
	if err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("gate: starting speech-activity session: %w", err)
	}

	s := &Stream{
		rec:        r,
		inner:      inner,
		activity:   activity,
		log:        r.log,
		metrics:    r.metrics,
		buf:        newDetectionBuffer(r.model.ChunkSamples()),
		in:         make(chan inputMsg, inputBuffer),
		activityIn: make(chan activityMsg, activityBuffer),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	s.lastSpeech.Store(time.Now().UnixNano())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = inner.Close()
		_ = activity.Close()
		return nil, ErrRecognizerClosed
	}
	r.streams[s] = struct{}{}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveStreams.Add(ctx, 1)
	}

	s.wg.Add(4)
	go s.dispatchLoop(ctx)
	go s.relayLoop(ctx)
	go s.activityLoop()
	go s.monitorLoop(ctx)

	// Tear down automatically once all four loops finish (graceful end).
	go func() {
		s.wg.Wait()
		_ = s.teardown()
	}()

	// Bind the stream's lifetime to ctx.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// SetAgentBusy broadcasts the busy flag to every live stream. See
// [Stream.SetAgentBusy].
func (r *Recognizer) SetAgentBusy(busy bool) {
	for _, s := range r.snapshot() {
		s.SetAgentBusy(busy)
	}
}

// SetThresholds replaces the detection thresholds for live and future
// streams. A chunk already being scored keeps the old values; the next
// evaluation sees the new ones. A zero Default is replaced by 0.5.
func (r *Recognizer) SetThresholds(t wake.Thresholds) {
	if t.Default == 0 {
		t.Default = defaultThreshold
	}
	r.settingsMu.Lock()
	r.thresholds = t
	r.settingsMu.Unlock()
}

// SetSilenceTimeout replaces the silence timeout for live and future
// streams. Non-positive values are ignored.
func (r *Recognizer) SetSilenceTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.settingsMu.Lock()
	r.silenceTimeout = d
	r.settingsMu.Unlock()
}

// thresholdFor returns the live threshold for the named trigger model.
func (r *Recognizer) thresholdFor(name string) float32 {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.thresholds.For(name)
}

// silenceAfter returns the live silence timeout.
func (r *Recognizer) silenceAfter() time.Duration {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.silenceTimeout
}

// Close closes all live streams and rejects new ones. The wake model,
// inner provider, and VAD engine stay open; they belong to the caller.
// Calling Close more than once is safe.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, s := range r.snapshot() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshot returns the live streams without holding the lock during
// per-stream calls.
func (r *Recognizer) snapshot() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Stream, 0, len(r.streams))
	for s := range r.streams {
		out = append(out, s)
	}
	return out
}

func (r *Recognizer) removeStream(s *Stream) {
	r.mu.Lock()
	delete(r.streams, s)
	r.mu.Unlock()
}

// notifyWake schedules the wake-detected callback without blocking the
// frame path.
func (r *Recognizer) notifyWake(model string, score float32) {
	cb := r.onWakeDetected
	if cb == nil {
		return
	}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("wake-detected callback panicked", "panic", p)
			}
		}()
		cb(model, score)
	}()
}

// notifyStateChanged schedules the state-changed callback.
func (r *Recognizer) notifyStateChanged(state State) {
	cb := r.onStateChanged
	if cb == nil {
		return
	}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("state-changed callback panicked", "panic", p, "state", state)
			}
		}()
		cb(state)
	}()
}
