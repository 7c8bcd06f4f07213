// Package audio defines the sample types, conversion helpers and device
// abstractions shared by the capture and playback paths.
//
// The device abstractions are:
//
//   - [InputDevice] opens the microphone and returns an [InputStream] that
//     delivers [Frame] values until it is closed.
//   - [OutputDevice] opens the speaker and pulls samples from a [FillFunc]
//     until the returned [OutputStream] is closed.
//
// Native implementations live in audio/native; scripted ones for tests in
// audio/mock.
package audio

import "context"

// InputDevice acquires a microphone stream.
//
// OpenInput blocks until the device is ready or ctx is cancelled. A
// permission or device failure is returned as an error; callers must not
// retry automatically.
type InputDevice interface {
	OpenInput(ctx context.Context, f Format) (InputStream, error)
}

// InputStream is a live microphone stream.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// after Close is called or the device fails.
	Frames() <-chan Frame

	// Format reports the format frames are delivered in. It may differ from
	// the requested format when the device cannot honour it.
	Format() Format

	// Close stops capture and releases the device. Close is idempotent.
	Close() error
}

// FillFunc is invoked by an output device from its audio thread. It must
// write up to len(dst) interleaved samples and return how many it wrote.
// Returning fewer than len(dst) signals the end of the source; the device
// pads the remainder with silence.
//
// FillFunc must not block and must not call back into the OutputStream.
type FillFunc func(dst []float32) int

// OutputDevice opens a speaker stream pulling samples from fill.
type OutputDevice interface {
	OpenOutput(f Format, fill FillFunc) (OutputStream, error)
}

// OutputStream controls a playing output stream.
//
// Implementations must be safe for concurrent use. Close must tolerate being
// called on an already stopped or closed stream.
type OutputStream interface {
	// Start begins pulling samples.
	Start() error

	// Pause stops pulling samples without releasing the device.
	Pause() error

	// Resume continues a paused stream.
	Resume() error

	// Close stops playback and releases the device.
	Close() error
}
