// Package wake defines the contract for wake phrase detection models.
//
// A Model consumes fixed-size chunks of 16 kHz mono PCM16 audio and returns
// one score per configured trigger phrase. Implementations live in
// subpackages: openwake runs the openWakeWord ONNX pipeline, textmatch
// fuzzy-matches transcribed speech against the phrase text, and mock scripts
// scores for tests.
package wake

// Model scores fixed-size PCM chunks against one or more trigger phrases.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize Predict, Reset, and Close.
type Model interface {
	// Predict consumes exactly ChunkSamples samples of 16 kHz mono PCM16
	// audio and returns a detection score in [0, 1] per phrase name.
	// Models that need warmup audio return zero scores until enough
	// context has accumulated.
	Predict(chunk []int16) (map[string]float32, error)

	// ChunkSamples reports the chunk size Predict requires.
	ChunkSamples() int

	// Names lists the phrase names Predict scores.
	Names() []string

	// Reset clears accumulated pipeline state so detection starts fresh.
	Reset() error

	// Close releases model resources. The model is unusable afterwards.
	Close() error
}

// Thresholds holds per-phrase detection thresholds with a shared fallback.
// A phrase triggers when its score meets or exceeds its threshold.
type Thresholds struct {
	// Default applies to any phrase without an explicit entry.
	Default float32

	// PerName overrides Default for specific phrase names.
	PerName map[string]float32
}

// For returns the threshold for the named phrase.
func (t Thresholds) For(name string) float32 {
	if th, ok := t.PerName[name]; ok {
		return th
	}
	return t.Default
}
