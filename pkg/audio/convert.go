package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// FormatConverter normalizes captured frames to the format the detection
// pipeline runs at. Frames already in the target format pass through
// untouched. One converter serves one stream; it is not safe for
// concurrent use.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnPartial  sync.Once
}

// Convert returns frame reshaped to the target format. A frame whose byte
// count is not a whole number of int16 samples is replaced by an empty
// frame; partial samples mean the capture path is feeding garbage, and the
// first occurrence is logged.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnPartial.Do(func() {
			slog.Warn("dropping capture frame with a partial sample",
				"bytes", len(frame.Data),
				"format", Format{SampleRate: frame.SampleRate, Channels: frame.Channels}.String(),
			)
		})
		return AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Warn("capture format differs from pipeline format, converting",
			"capture", Format{SampleRate: frame.SampleRate, Channels: frame.Channels}.String(),
			"pipeline", c.Target.String(),
		)
	})

	samples := DecodePCM16(frame.Data)
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}

	// Downmixing first keeps the resampler working on the smaller signal.
	if channels == 2 && c.Target.Channels == 1 {
		samples = DownmixStereo(samples)
		channels = 1
	}
	samples = Resample(samples, channels, frame.SampleRate, c.Target.SampleRate)
	if channels == 1 && c.Target.Channels == 2 {
		samples = UpmixMono(samples)
		channels = 2
	}

	return AudioFrame{
		Data:       EncodePCM16(samples),
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// DownmixStereo averages each interleaved L/R pair into one mono sample.
// The sum of two int16 values fits int32, and their average fits int16, so
// no clamping is needed.
func DownmixStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return out
}

// UpmixMono duplicates every mono sample into an identical L/R pair.
func UpmixMono(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate by linear
// interpolation, channel by channel. The input is returned unchanged when
// the rates already agree or either rate is non-positive.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	if channels <= 0 {
		channels = 1
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			a := float64(samples[idx*channels+ch])
			b := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}
