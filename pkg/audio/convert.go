package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter converts frames to a target format. It logs a warning on
// the first format mismatch. Create one per stream; not designed for shared
// use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged.
// Channel conversion runs before resampling so mono targets resample once.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", c.Target.String(),
		)
	})

	samples := frame.Samples
	channels := frame.Channels
	if channels != c.Target.Channels {
		switch {
		case c.Target.Channels == 1:
			samples = Downmix(samples, channels)
		case channels == 1 && c.Target.Channels == 2:
			samples = MonoToStereo(samples)
		}
		channels = c.Target.Channels
	}
	if frame.SampleRate != c.Target.SampleRate {
		samples = Resample(samples, channels, frame.SampleRate, c.Target.SampleRate)
	}

	return Frame{
		Samples:    samples,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := samples[idx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0 + (s1-s0)*frac
		}
	}
	return out
}

// ToInt16 converts float samples to signed 16-bit PCM, clamping to [-1, 1].
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}

// FromInt16 converts signed 16-bit PCM to float samples in [-1, 1).
func FromInt16(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	}
	return int16(s * math.MaxInt16)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
