// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a speech boundary detector (e.g. Silero VAD) and
// surfaces it as a stateful, per-stream session. Each session maintains its
// own internal state (model hidden state, smoothing history) so that multiple
// concurrent audio streams can be processed independently.
//
// Sessions consume batches of normalized mono float32 samples and emit zero
// or more boundary events per batch. Two independent consumers exist in this
// codebase: the speech-activity tracker that keeps the gate open while the
// user is talking, and the utterance segmenter that decides when to hand a
// completed utterance to the transcriber.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "time"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// samples passed to Process. Supported values depend on the backend;
	// Silero accepts 8000 and 16000.
	SampleRate int

	// Threshold is the speech probability above which a frame is classified
	// as speech. Range: [0.0, 1.0]. Higher values reduce false positives at
	// the cost of increased speech start latency. Typical: 0.5.
	Threshold float64

	// MinSilence is how long the signal must stay below Threshold before a
	// SpeechEnd event is emitted. Prevents short intra-word pauses from
	// splitting an utterance. Typical: 100–500 ms.
	MinSilence time.Duration

	// SpeechPad widens each detected segment at both ends to avoid clipping
	// soft onsets and trailing consonants. Typical: 30–100 ms.
	SpeechPad time.Duration
}

// Session represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a
// live model. Each session maintains its own detection state; Reset clears
// this state without closing the session.
//
// A Session should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type Session interface {
	// Process analyses a batch of normalized mono float32 samples and
	// returns the boundary events that occurred within it, in order. A batch
	// may contain any number of samples; backends buffer internally as
	// needed. An empty result means no boundary was crossed.
	Process(samples []float32) ([]Event, error)

	// Reset clears all accumulated detection state (hidden state, pending
	// segment tracking) without closing the session. Use this when the audio
	// stream is interrupted or restarted so stale state from the previous
	// segment cannot affect subsequent samples.
	Reset() error

	// Close releases all resources associated with the session. After Close,
	// Process and Reset return errors. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept samples.
	//
	// Returns an error if the configuration is invalid (e.g. unsupported
	// sample rate or threshold out of range) or if the engine cannot
	// allocate resources for the session.
	NewSession(cfg Config) (Session, error)
}
