package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

func equalSamples(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]float32{0.1, -0.2, 0.3})
	equalSamples(t, got, []float32{0.1, 0.1, -0.2, -0.2, 0.3, 0.3})
}

func TestDownmix(t *testing.T) {
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	equalSamples(t, got, []float32{0.3, -0.3})
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []float32{0.5, 0.25}
	got := audio.Downmix(in, 1)
	equalSamples(t, got, in)
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	got := audio.Resample(in, 1, 48000, 48000)
	equalSamples(t, got, in)
}

func TestResample_Downsample(t *testing.T) {
	in := make([]float32, 480)
	got := audio.Resample(in, 1, 48000, 16000)
	if len(got) != 160 {
		t.Fatalf("len = %d, want 160", len(got))
	}
}

func TestResample_Interpolates(t *testing.T) {
	got := audio.Resample([]float32{0, 1}, 1, 1, 2)
	equalSamples(t, got, []float32{0, 0.5, 1, 1})
}

func TestResample_Empty(t *testing.T) {
	if got := audio.Resample(nil, 1, 48000, 16000); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestToInt16_Clamps(t *testing.T) {
	got := audio.ToInt16([]float32{2, -2, 0})
	want := []int16{math.MaxInt16, math.MinInt16, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFromInt16(t *testing.T) {
	got := audio.FromInt16([]int16{-32768, 0, 16384})
	equalSamples(t, got, []float32{-1, 0, 0.5})
}

func TestFormatConverter_Passthrough(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.DefaultFormat}
	in := audio.Frame{Samples: []float32{0.1}, SampleRate: 48000, Channels: 1}
	out := conv.Convert(in)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("expected matching format to return the same samples")
	}
}

func TestFormatConverter_StereoToMonoResample(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.Frame{Samples: make([]float32, 960), SampleRate: 48000, Channels: 2}
	out := conv.Convert(in)
	if out.Channels != 1 || out.SampleRate != 16000 {
		t.Fatalf("format = %s, want 16000Hz mono", out.Format())
	}
	if len(out.Samples) != 160 {
		t.Errorf("len = %d, want 160", len(out.Samples))
	}
}

func TestFrame_Duration(t *testing.T) {
	f := audio.Frame{Samples: make([]float32, 960), SampleRate: 48000, Channels: 1}
	if d := f.Duration().Milliseconds(); d != 20 {
		t.Errorf("duration = %dms, want 20ms", d)
	}
}
