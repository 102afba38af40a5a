// Package segmenter adapts a batch stt.Recognizer into a streaming
// stt.Stream using a VAD engine for utterance segmentation.
//
// Frames pushed into a stream are downmixed to normalized mono float32 and
// run through a per-stream VAD session. Speech boundaries delimit
// utterances: a rolling pre-roll buffer preserves the onset, samples
// accumulate while the user is speaking, and when the VAD reports the end of
// speech the accumulated window is handed to the recognizer. Each completed
// utterance produces StartOfSpeech, FinalTranscript and EndOfSpeech events
// in order on the stream's event channel. A batch recognizer has no partial
// results, so the stream never emits interim transcripts.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auricle-dev/auricle/pkg/audio"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
	"github.com/auricle-dev/auricle/pkg/provider/vad"
)

// Sentinel errors returned by Stream methods.
var (
	ErrStreamClosed = errors.New("segmenter: stream closed")
	ErrInputEnded   = errors.New("segmenter: input ended")
)

// Defaults applied when the corresponding option is not given.
const (
	defaultMinSilence   = 500 * time.Millisecond
	defaultMaxUtterance = 10 * time.Second
	defaultPreRoll      = 500 * time.Millisecond

	inputBuffer = 256
	eventBuffer = 64
)

// Provider adapts a Recognizer + VAD engine into an stt.Provider.
type Provider struct {
	rec    stt.Recognizer
	engine vad.Engine
	log    *slog.Logger

	vadThreshold float64
	minSilence   time.Duration
	maxUtterance time.Duration
	preRoll      time.Duration
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLogger sets the logger for stream diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// WithVADThreshold sets the speech probability threshold passed to the VAD
// session. Zero keeps the engine's default.
func WithVADThreshold(th float64) Option {
	return func(p *Provider) { p.vadThreshold = th }
}

// WithMinSilence sets how long the user must stay silent before an utterance
// is considered complete. Defaults to 500 ms.
func WithMinSilence(d time.Duration) Option {
	return func(p *Provider) { p.minSilence = d }
}

// WithMaxUtterance caps how much audio may accumulate before a forced
// transcription, bounding memory and recognizer latency for very long
// utterances. Defaults to 10 s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithPreRoll sets how much audio preceding a detected speech start is
// prepended to the utterance, compensating for VAD onset latency.
// Defaults to 500 ms.
func WithPreRoll(d time.Duration) Option {
	return func(p *Provider) { p.preRoll = d }
}

// New creates a Provider that segments with engine and transcribes with rec.
func New(rec stt.Recognizer, engine vad.Engine, opts ...Option) (*Provider, error) {
	if rec == nil {
		return nil, errors.New("segmenter: recognizer is required")
	}
	if engine == nil {
		return nil, errors.New("segmenter: vad engine is required")
	}
	p := &Provider{
		rec:          rec,
		engine:       engine,
		log:          slog.Default(),
		minSilence:   defaultMinSilence,
		maxUtterance: defaultMaxUtterance,
		preRoll:      defaultPreRoll,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new segmented recognition stream.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("segmenter: context already cancelled: %w", err)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("segmenter: invalid sample rate %d", cfg.SampleRate)
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	vadSess, err := p.engine.NewSession(vad.Config{
		SampleRate: cfg.SampleRate,
		Threshold:  p.vadThreshold,
		MinSilence: p.minSilence,
	})
	if err != nil {
		return nil, fmt.Errorf("segmenter: create vad session: %w", err)
	}

	s := &stream{
		rec:        p.rec,
		vadSess:    vadSess,
		log:        p.log,
		sampleRate: cfg.SampleRate,
		channels:   channels,

		maxUtteranceSamples: int(p.maxUtterance.Seconds() * float64(cfg.SampleRate)),
		preRollSamples:      int(p.preRoll.Seconds() * float64(cfg.SampleRate)),

		in:     make(chan inputMsg, inputBuffer),
		events: make(chan stt.Event, eventBuffer),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// ---- stream -----------------------------------------------------------------

// inputMsg carries one frame or one control signal through the input
// channel, preserving ordering between audio and flush/end requests.
type inputMsg struct {
	frame audio.AudioFrame
	flush bool
	end   bool
}

// stream is a live segmented recognition stream. All mutable segmentation
// state is confined to the processLoop goroutine.
type stream struct {
	// immutable configuration (set once in StartStream)
	rec        stt.Recognizer
	vadSess    vad.Session
	log        *slog.Logger
	sampleRate int
	channels   int

	maxUtteranceSamples int
	preRollSamples      int

	// channels for input and event output
	in     chan inputMsg
	events chan stt.Event

	// lifecycle
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	ended atomic.Bool
}

// PushFrame queues one frame for segmentation.
func (s *stream) PushFrame(frame audio.AudioFrame) error {
	if s.ended.Load() {
		return ErrInputEnded
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.in <- inputMsg{frame: frame}:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// Flush discards the partially accumulated utterance, if any.
func (s *stream) Flush() {
	select {
	case s.in <- inputMsg{flush: true}:
	case <-s.done:
	}
}

// EndInput signals that no more frames will arrive. A pending utterance is
// finalized before the event channel closes.
func (s *stream) EndInput() {
	if s.ended.Swap(true) {
		return
	}
	select {
	case s.in <- inputMsg{end: true}:
	case <-s.done:
	}
}

// Events returns the ordered event output channel.
func (s *stream) Events() <-chan stt.Event { return s.events }

// Close terminates the stream. Pending utterance state is discarded.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for downmixing, VAD
// dispatch, utterance accumulation, and recognizer calls.
func (s *stream) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer func() {
		if err := s.vadSess.Close(); err != nil {
			s.log.Warn("segmenter: vad session close failed", "error", err)
		}
	}()

	var (
		preRoll  []float32 // rolling buffer ahead of detected speech
		window   []float32 // accumulating utterance samples
		inSpeech bool
	)

	discard := func() {
		preRoll = nil
		window = nil
		inSpeech = false
		if err := s.vadSess.Reset(); err != nil {
			s.log.Warn("segmenter: vad reset failed", "error", err)
		}
	}

	finalize := func(at time.Duration) {
		if len(window) == 0 {
			inSpeech = false
			return
		}
		pcm := window
		window = nil
		inSpeech = false

		res, err := s.rec.Transcribe(ctx, pcm)
		if err != nil {
			s.log.Error("segmenter: transcription failed", "error", err, "samples", len(pcm))
			s.emit(stt.Event{Type: stt.EventError, Timestamp: at, Err: err})
			return
		}
		if res.Text == "" {
			return
		}
		s.emit(stt.Event{
			Type:      stt.EventFinalTranscript,
			Text:      res.Text,
			Language:  res.Language,
			Timestamp: at,
		})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.done:
			return

		case msg := <-s.in:
			switch {
			case msg.flush:
				discard()

			case msg.end:
				if inSpeech {
					at := s.streamPos(len(window))
					finalize(at)
					s.emit(stt.Event{Type: stt.EventEndOfSpeech, Timestamp: at})
				}
				return

			default:
				mono := monoFloat32(msg.frame)
				if len(mono) == 0 {
					continue
				}

				boundaries, err := s.vadSess.Process(mono)
				if err != nil {
					s.log.Warn("segmenter: vad process failed", "error", err)
					s.emit(stt.Event{Type: stt.EventError, Err: err})
					continue
				}

				if inSpeech {
					window = append(window, mono...)
				} else {
					preRoll = appendPreRoll(preRoll, mono, s.preRollSamples)
				}

				for _, b := range boundaries {
					switch b.Type {
					case vad.SpeechStart:
						if !inSpeech {
							inSpeech = true
							// The pre-roll already holds the current frame,
							// so it alone seeds the utterance window.
							window = append(window, preRoll...)
							preRoll = nil
							s.emit(stt.Event{Type: stt.EventStartOfSpeech, Timestamp: b.At})
						}
					case vad.SpeechEnd:
						if inSpeech {
							// The transcript belongs to the utterance, so it
							// goes out before the boundary that closes it.
							finalize(b.At)
							s.emit(stt.Event{Type: stt.EventEndOfSpeech, Timestamp: b.At})
						}
					}
				}

				// Forced transcription bounds memory on very long speech.
				if inSpeech && s.maxUtteranceSamples > 0 && len(window) >= s.maxUtteranceSamples {
					at := s.streamPos(len(window))
					finalize(at)
					inSpeech = true // still talking; keep accumulating
				}
			}
		}
	}
}

// emit delivers an event unless the stream is being torn down.
func (s *stream) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// streamPos converts a sample count to a duration at the stream rate.
func (s *stream) streamPos(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

// Compile-time assertion that stream satisfies stt.Stream.
var _ stt.Stream = (*stream)(nil)

// monoFloat32 downmixes one frame to normalized mono float32 by averaging
// all channels per sample group.
func monoFloat32(frame audio.AudioFrame) []float32 {
	samples := audio.DecodePCM16(frame.Data)
	channels := frame.Channels
	if channels <= 1 {
		return audio.Float32Norm(samples)
	}
	n := len(samples) / channels
	mono := make([]float32, n)
	for i := range n {
		var sum float32
		for ch := range channels {
			sum += float32(samples[i*channels+ch]) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// appendPreRoll appends samples to buf, keeping only the trailing limit
// samples. With no limit the buffer still holds the latest frame so a
// detected speech start never loses its triggering audio.
func appendPreRoll(buf, samples []float32, limit int) []float32 {
	if limit > 0 && limit < len(samples) {
		limit = len(samples)
	}
	buf = append(buf, samples...)
	if limit <= 0 {
		limit = len(samples)
	}
	if len(buf) > limit {
		// Compact in place so the backing array does not grow unbounded.
		n := copy(buf, buf[len(buf)-limit:])
		buf = buf[:n]
	}
	return buf
}
