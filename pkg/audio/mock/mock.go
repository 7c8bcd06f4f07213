// Package mock provides scripted implementations of the [audio.InputDevice]
// and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{}
//	stream, _ := in.OpenInput(ctx, audio.DefaultFormat)
//	in.Stream().Push(audio.Frame{Samples: tone, SampleRate: 48000, Channels: 1})
//
//	out := &mock.OutputDevice{AutoDrain: true}
//	// playback pulls until the source ends
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// OpenError is returned by [InputDevice.OpenInput] when non-nil.
	OpenError error

	// StreamFormat overrides the format reported by opened streams. When zero
	// the requested format is reported.
	StreamFormat audio.Format

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	stream *InputStream
}

// OpenInput implements [audio.InputDevice].
func (d *InputDevice) OpenInput(_ context.Context, f audio.Format) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.StreamFormat != (audio.Format{}) {
		f = d.StreamFormat
	}
	d.stream = &InputStream{format: f, ch: make(chan audio.Frame, 256)}
	return d.stream, nil
}

// Stream returns the most recently opened stream, or nil.
func (d *InputDevice) Stream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// InputStream is a mock implementation of [audio.InputStream]. Frames are
// delivered in the order they are pushed.
type InputStream struct {
	mu     sync.Mutex
	format audio.Format
	ch     chan audio.Frame
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Push enqueues frames for delivery. Frames pushed after Close are dropped.
// Push blocks once 256 frames are pending.
func (s *InputStream) Push(frames ...audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, f := range frames {
		s.ch <- f
	}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.ch }

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// OpenError is returned by [OutputDevice.OpenOutput] when non-nil.
	OpenError error

	// AutoDrain makes started streams pull from their fill function in a
	// background goroutine until the source reports its end.
	AutoDrain bool

	// BufferSize is the number of samples requested per pull. Default: 1024.
	BufferSize int

	streams []*OutputStream
}

// OpenOutput implements [audio.OutputDevice].
func (d *OutputDevice) OpenOutput(f audio.Format, fill audio.FillFunc) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	size := d.BufferSize
	if size <= 0 {
		size = 1024
	}
	s := &OutputStream{format: f, fill: fill, autoDrain: d.AutoDrain, size: size}
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream opened so far, oldest first.
func (d *OutputDevice) Streams() []*OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*OutputStream, len(d.streams))
	copy(out, d.streams)
	return out
}

// Open returns the number of streams that are opened and not yet closed.
func (d *OutputDevice) Open() int {
	n := 0
	for _, s := range d.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// OutputStream is a mock implementation of [audio.OutputStream].
type OutputStream struct {
	mu        sync.Mutex
	format    audio.Format
	fill      audio.FillFunc
	autoDrain bool
	size      int
	started   bool
	paused    bool
	closed    bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Format returns the format the stream was opened with.
func (s *OutputStream) Format() audio.Format { return s.format }

// Start implements [audio.OutputStream].
func (s *OutputStream) Start() error {
	s.mu.Lock()
	s.started = true
	auto := s.autoDrain
	s.mu.Unlock()
	if auto {
		go s.drain()
	}
	return nil
}

// Pause implements [audio.OutputStream].
func (s *OutputStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

// Resume implements [audio.OutputStream].
func (s *OutputStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Paused reports whether the stream is paused.
func (s *OutputStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pull invokes the fill function once with a buffer of n samples, as the
// audio thread would, and returns how many samples were written. A closed,
// paused or unstarted stream returns 0 without calling fill.
func (s *OutputStream) Pull(n int) int {
	s.mu.Lock()
	if s.closed || s.paused || !s.started {
		s.mu.Unlock()
		return 0
	}
	fill := s.fill
	s.mu.Unlock()
	return fill(make([]float32, n))
}

func (s *OutputStream) drain() {
	for {
		if s.Closed() {
			return
		}
		if s.Paused() {
			time.Sleep(time.Millisecond)
			continue
		}
		if n := s.Pull(s.size); n < s.size {
			return
		}
	}
}

var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
)
