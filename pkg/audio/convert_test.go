package audio

import (
	"testing"
	"time"
)

func TestFormatString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f    Format
		want string
	}{
		{Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tc := range cases {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("Format%+v.String() = %q, want %q", tc.f, got, tc.want)
		}
	}
}

func TestConvertPassthrough(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	frame := AudioFrame{
		Data:       EncodePCM16([]int16{1, 2, 3, 4}),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Second,
	}

	got := conv.Convert(frame)
	if &got.Data[0] != &frame.Data[0] {
		t.Error("matching format should pass the frame data through unchanged")
	}
	if got.Timestamp != time.Second {
		t.Errorf("timestamp = %v, want 1s", got.Timestamp)
	}
}

func TestConvertDownmixesStereo(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	frame := AudioFrame{
		Data:       EncodePCM16([]int16{100, 300, -200, -400}),
		SampleRate: 16000,
		Channels:   2,
	}

	got := conv.Convert(frame)
	if got.Channels != 1 || got.SampleRate != 16000 {
		t.Fatalf("converted format = %dHz %dch, want 16000Hz mono", got.SampleRate, got.Channels)
	}
	samples := DecodePCM16(got.Data)
	want := []int16{200, -300}
	if len(samples) != len(want) || samples[0] != want[0] || samples[1] != want[1] {
		t.Errorf("downmixed samples = %v, want %v", samples, want)
	}
}

func TestConvertResamples(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	in := make([]int16, 640) // 20 ms at 32 kHz
	for i := range in {
		in[i] = int16(i)
	}
	frame := AudioFrame{Data: EncodePCM16(in), SampleRate: 32000, Channels: 1}

	got := conv.Convert(frame)
	samples := DecodePCM16(got.Data)
	if len(samples) != 320 {
		t.Fatalf("resampled to %d samples, want 320", len(samples))
	}
	if got.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", got.SampleRate)
	}
	// Halving the rate keeps every other sample, ramp values included.
	if samples[0] != 0 || samples[1] != 2 || samples[159] != 318 {
		t.Errorf("resampled ramp = [%d %d ... %d], want [0 2 ... 318]",
			samples[0], samples[1], samples[159])
	}
}

func TestConvertStereoHighRateToMono(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	in := make([]int16, 0, 640)
	for range 160 { // 5 ms at 32 kHz, stereo
		in = append(in, 1000, 3000)
	}
	frame := AudioFrame{Data: EncodePCM16(in), SampleRate: 32000, Channels: 2}

	got := conv.Convert(frame)
	samples := DecodePCM16(got.Data)
	if got.Channels != 1 {
		t.Fatalf("channels = %d, want 1", got.Channels)
	}
	if len(samples) != 80 {
		t.Fatalf("samples = %d, want 80", len(samples))
	}
	for i, s := range samples {
		if s != 2000 {
			t.Fatalf("sample %d = %d, want 2000 (L/R average)", i, s)
		}
	}
}

func TestConvertDropsPartialSample(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	frame := AudioFrame{
		Data:       []byte{1, 2, 3}, // not a whole number of int16 samples
		SampleRate: 16000,
		Channels:   1,
	}

	got := conv.Convert(frame)
	if len(got.Data) != 0 {
		t.Errorf("converted data = %d bytes, want empty frame", len(got.Data))
	}
}

func TestDownmixStereo(t *testing.T) {
	t.Parallel()

	got := DownmixStereo([]int16{-32768, -32768, 32767, 32765, 0, 100})
	want := []int16{-32768, 32766, 50}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUpmixMono(t *testing.T) {
	t.Parallel()

	got := UpmixMono([]int16{5, -7})
	want := []int16{5, 5, -7, -7}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate untouched", func(t *testing.T) {
		t.Parallel()
		in := []int16{1, 2, 3}
		got := Resample(in, 1, 16000, 16000)
		if &got[0] != &in[0] {
			t.Error("equal rates should return the input slice")
		}
	})

	t.Run("invalid rates untouched", func(t *testing.T) {
		t.Parallel()
		in := []int16{1, 2, 3}
		if got := Resample(in, 1, 0, 16000); len(got) != 3 {
			t.Errorf("zero source rate: len = %d, want 3", len(got))
		}
		if got := Resample(in, 1, 16000, -1); len(got) != 3 {
			t.Errorf("negative target rate: len = %d, want 3", len(got))
		}
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		t.Parallel()
		got := Resample([]int16{0, 100}, 1, 8000, 16000)
		if len(got) != 4 {
			t.Fatalf("len = %d, want 4", len(got))
		}
		// Position 1 sits halfway between samples 0 and 100.
		if got[0] != 0 || got[1] != 50 {
			t.Errorf("samples = %v, want [0 50 ...]", got)
		}
	})

	t.Run("stereo keeps channels independent", func(t *testing.T) {
		t.Parallel()
		in := []int16{0, 1000, 100, 1000, 200, 1000, 300, 1000}
		got := Resample(in, 2, 32000, 16000)
		if len(got) != 4 {
			t.Fatalf("len = %d, want 4 (2 frames x 2 channels)", len(got))
		}
		if got[0] != 0 || got[2] != 200 {
			t.Errorf("left channel = [%d %d], want [0 200]", got[0], got[2])
		}
		if got[1] != 1000 || got[3] != 1000 {
			t.Errorf("right channel = [%d %d], want [1000 1000]", got[1], got[3])
		}
	})

	t.Run("tiny input collapses to nil", func(t *testing.T) {
		t.Parallel()
		if got := Resample([]int16{1}, 1, 48000, 16000); got != nil {
			t.Errorf("got %v, want nil when no full output frame fits", got)
		}
	})
}
