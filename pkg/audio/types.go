package audio

import "time"

// Frame is a block of interleaved float32 samples in the range [-1, 1].
// Frames are the unit of transport between input devices, the capture pump,
// the analyser and the capture encoders.
type Frame struct {
	// Samples holds interleaved samples, Channels values per sample frame.
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for Opus capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 48 kHz mono, the native Opus rate.
var DefaultFormat = Format{SampleRate: 48000, Channels: 1}

// Format returns the format the frame was produced in.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	n := len(f.Samples) / f.Channels
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable form, e.g. "48000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
