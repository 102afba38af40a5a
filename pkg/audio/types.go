package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from an input source,
// scored by the wake-word detector, and forwarded to speech recognition.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples. Sample rate and channel
	// count are carried alongside; frame size is not guaranteed.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for wake-word detection and STT).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo. Multi-channel frames
	// are deinterleaved to the first channel before detection.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the frame across all
// channels. A trailing odd byte is ignored.
func (f AudioFrame) Samples() int {
	return len(f.Data) / 2
}

// Duration returns the playback duration of the frame, or zero when the
// frame carries no rate information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := f.Samples() / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}
