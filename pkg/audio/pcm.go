package audio

// DecodePCM16 decodes little-endian int16 PCM bytes into samples. A trailing
// odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// EncodePCM16 encodes samples as little-endian int16 PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// FirstChannel extracts channel 0 from interleaved multi-channel samples by
// striding over the channel count. Mono input is returned unchanged. A
// non-positive channel count is treated as mono.
func FirstChannel(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]int16, n)
	for i := range n {
		out[i] = samples[i*channels]
	}
	return out
}

// Float32Norm converts int16 samples to float32 normalized to [-1, 1), the
// representation expected by the VAD and transcription models.
func Float32Norm(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
