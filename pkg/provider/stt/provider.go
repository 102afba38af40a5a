// Package stt defines the contracts for speech recognition backends.
//
// Two abstractions live here. Recognizer is a batch transcriber: hand it a
// completed utterance as normalized mono float32 samples and it returns the
// text. Stream is the push-frame surface consumed by the wake-word gate: it
// accepts raw PCM frames, segments them into utterances, and emits a single
// ordered channel of recognition events (speech boundaries, interim and
// final transcripts, recoverable errors).
//
// The segmenter subpackage adapts any Recognizer into a Stream using a VAD
// engine; the whisper subpackage provides a Recognizer on whisper.cpp.
//
// Implementations must be safe for concurrent use. A Stream's methods may be
// called from different goroutines; its event channel is closed exactly once,
// after EndInput has been honored or Close has torn the stream down.
package stt

import (
	"context"

	"github.com/auricle-dev/auricle/pkg/audio"
)

// StreamConfig describes the audio format and recognition hints for a new
// stream. All fields must be compatible with what the underlying backend
// supports; see each backend's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz of the frames that will be
	// pushed. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels in pushed frames. Backends
	// downmix to mono internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en",
	// "de"). An empty string lets the backend use its default.
	Language string
}

// Stream represents an open recognition stream. It is an interface so that
// test code can provide mock implementations without a live model.
//
// Callers must call Close when the stream is no longer needed. Failing to do
// so may leak goroutines inside the implementation.
type Stream interface {
	// PushFrame delivers one audio frame for recognition. The frame should
	// match the SampleRate and Channels agreed in StreamConfig. Calling
	// PushFrame after Close or EndInput returns an error.
	PushFrame(frame audio.AudioFrame) error

	// Flush discards accumulated-but-incomplete utterance state. Audio
	// buffered since the last completed utterance is dropped without being
	// transcribed. Safe to call at any time; a no-op when nothing is
	// buffered.
	Flush()

	// EndInput signals that no more frames will arrive. Any pending
	// utterance is finalized, its events are emitted, and then the event
	// channel is closed. PushFrame calls after EndInput return an error.
	EndInput()

	// Events returns the stream's output channel. Events arrive in order;
	// the channel is closed when the stream ends.
	Events() <-chan Event

	// Close terminates the stream and releases all associated resources.
	// Pending utterance state is discarded, not finalized; use EndInput for
	// a graceful finish. Calling Close more than once is safe and returns
	// nil.
	Close() error
}

// Recognizer is a batch transcription backend. Transcribe blocks for the
// duration of one inference call; callers that cannot stall should invoke it
// from a worker goroutine.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call Transcribe simultaneously.
type Recognizer interface {
	// Transcribe runs recognition over one utterance of normalized mono
	// float32 samples at the backend's configured rate. It respects ctx
	// cancellation between preparation and inference, though a started
	// native inference call may run to completion.
	Transcribe(ctx context.Context, samples []float32) (Result, error)
}

// Provider opens recognition streams. It is the factory the gate uses to
// create one inner pipeline per gated session.
//
// Implementations must be safe for concurrent use; multiple streams may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new recognition stream with the given audio
	// format. The returned Stream is ready to accept frames immediately.
	//
	// Returns an error if the backend cannot establish the stream (invalid
	// configuration or ctx already cancelled). The caller owns the Stream
	// and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
