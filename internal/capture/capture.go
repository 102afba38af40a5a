// Package capture provides the daemon's audio frame sources: a PortAudio
// microphone and raw PCM16 readers for files and standard input.
//
// A [Source] is deliberately minimal, a channel of frames and a Close,
// so the rest of the pipeline never cares whether audio comes from a live
// device or a recording. File sources can pace delivery at capture speed,
// which makes recorded audio behave like a microphone in end-to-end runs.
package capture

import "github.com/auricle-dev/auricle/pkg/audio"

const (
	// frameSamples is the per-channel sample count of each delivered
	// frame: 80 ms at 16 kHz, matching the wake detector's chunk size so
	// frames map one-to-one onto detector chunks.
	frameSamples = 1280

	// frameBuffer is the delivery channel depth. The microphone drops
	// frames rather than queueing once it fills; capture must never
	// stall the device read loop.
	frameBuffer = 64
)

// Source delivers captured audio frames until it ends or is closed.
//
// Implementations close the frame channel when capture ends: end of
// input, device failure, or Close. Calling Close more than once is safe.
type Source interface {
	// Frames returns the channel frames arrive on.
	Frames() <-chan audio.AudioFrame

	// Close stops capture and releases the underlying device or reader.
	Close() error
}
