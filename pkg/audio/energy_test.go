package audio_test

import (
	"testing"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

func TestPeak(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float32
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"positive", []float32{0.05, 0.3, 0.1}, 0.3},
		{"negative wins", []float32{0.2, -0.7, 0.1}, 0.7},
		{"clamped", []float32{1.5}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.Peak(tc.samples); got != tc.want {
				t.Errorf("Peak = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAnalyser_PartialWindow(t *testing.T) {
	a := audio.NewAnalyser(4)
	a.Write([]float32{1, 2})
	dst := make([]float32, 4)
	n := a.TimeDomain(dst)
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	equalSamples(t, dst[:n], []float32{1, 2})
}

func TestAnalyser_WrapsOldestFirst(t *testing.T) {
	a := audio.NewAnalyser(4)
	a.Write([]float32{1, 2, 3})
	a.Write([]float32{4, 5, 6})
	dst := make([]float32, 4)
	n := a.TimeDomain(dst)
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	equalSamples(t, dst, []float32{3, 4, 5, 6})
}

func TestAnalyser_LargeWrite(t *testing.T) {
	a := audio.NewAnalyser(3)
	a.Write([]float32{1, 2, 3, 4, 5})
	dst := make([]float32, 3)
	a.TimeDomain(dst)
	equalSamples(t, dst, []float32{3, 4, 5})
}

func TestAnalyser_Reset(t *testing.T) {
	a := audio.NewAnalyser(0)
	if a.Size() != audio.DefaultAnalyserSize {
		t.Fatalf("size = %d, want %d", a.Size(), audio.DefaultAnalyserSize)
	}
	a.Write([]float32{0.9})
	a.Reset()
	if n := a.TimeDomain(make([]float32, 8)); n != 0 {
		t.Errorf("n = %d after reset, want 0", n)
	}
}
