// Package playback plays one encoded reply at a time through an output
// device, with a per-frame tap for level metering.
//
// A [Session] owns at most one playback graph: the decoded streamer, the
// resampler to the device rate, and the output stream pulling from them.
// Starting a new playback tears the previous graph down completely before
// the new one is built, so two replies never overlap.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/pkg/audio"
)

const (
	// DefaultFrameSize is the number of mono samples handed to the tap per
	// call.
	DefaultFrameSize = 1024

	// resampleQuality is passed to beep.Resample. 4 is the quality beep's
	// own examples use for playback.
	resampleQuality = 4

	// tapBuffer is the number of pending tap blocks before the audio thread
	// starts dropping them.
	tapBuffer = 32
)

var (
	// ErrDecode is returned when the reply audio cannot be decoded.
	ErrDecode = errors.New("playback: decode audio")

	// ErrInterrupted is returned by Play when Stop ends playback early.
	ErrInterrupted = errors.New("playback: interrupted")
)

// Session plays replies through an [audio.OutputDevice]. It is safe for
// concurrent use.
type Session struct {
	out       audio.OutputDevice
	format    audio.Format
	frameSize int
	tap       func(frame []float32)
	metrics   *observe.Metrics

	// playMu serialises graph swaps.
	playMu sync.Mutex

	mu      sync.Mutex
	cur     *graph
	playing atomic.Bool
}

// Option is a functional option for [New].
type Option func(*Session)

// WithTap registers fn to receive the mono samples actually sent to the
// device, in blocks of the frame size. fn runs on a helper goroutine, never
// on the audio thread; blocks are dropped if it falls behind.
func WithTap(fn func(frame []float32)) Option {
	return func(s *Session) { s.tap = fn }
}

// WithFrameSize sets the tap block size. Default: [DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.frameSize = n
		}
	}
}

// WithFormat sets the device format. Default: [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Session) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.format = f
		}
	}
}

// WithMetrics tracks active playback.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New returns a Session playing through out.
func New(out audio.OutputDevice, opts ...Option) *Session {
	s := &Session{
		out:       out,
		format:    audio.DefaultFormat,
		frameSize: DefaultFrameSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Playing reports whether a graph is currently producing audio.
func (s *Session) Playing() bool {
	return s.playing.Load()
}

// Play decodes data (WAV when it starts with "RIFF", MP3 otherwise) and
// blocks until it has been played. started, if non-nil, is called once the
// audio has decoded and the output stream is running; an error from it ends
// playback and is returned. Play returns nil at the natural end,
// [ErrInterrupted] when [Session.Stop] or a newer Play ended it, and
// ctx.Err() when ctx ended first. The graph is torn down on every path.
func (s *Session) Play(ctx context.Context, data []byte, started func() error) error {
	decoder, format, err := decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	s.playMu.Lock()
	s.mu.Lock()
	prev := s.cur
	s.mu.Unlock()
	if prev != nil {
		prev.interrupt()
		s.teardown(prev)
	}

	g, err := s.build(decoder, format)
	if err != nil {
		s.playMu.Unlock()
		_ = decoder.Close()
		return err
	}
	s.mu.Lock()
	s.cur = g
	s.mu.Unlock()
	s.playing.Store(true)
	if s.metrics != nil {
		s.metrics.ActivePlayback.Add(ctx, 1)
	}
	if err := g.stream.Start(); err != nil {
		s.playMu.Unlock()
		s.teardown(g)
		return fmt.Errorf("playback: start output: %w", err)
	}
	s.playMu.Unlock()

	defer s.teardown(g)
	if started != nil {
		if err := started(); err != nil {
			g.interrupt()
			return err
		}
	}
	select {
	case <-g.done:
		return nil
	case <-g.stopped:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the current playback, if any, and returns once its graph is torn
// down. It is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	g := s.cur
	s.mu.Unlock()
	if g == nil {
		return
	}
	g.interrupt()
	s.teardown(g)
}

// Suspend pauses the current playback without ending it.
func (s *Session) Suspend() error {
	return s.withCurrent(func(g *graph) error {
		g.mu.Lock()
		g.ctrl.Paused = true
		g.mu.Unlock()
		return g.stream.Pause()
	})
}

// Resume continues a suspended playback.
func (s *Session) Resume() error {
	return s.withCurrent(func(g *graph) error {
		g.mu.Lock()
		g.ctrl.Paused = false
		g.mu.Unlock()
		return g.stream.Resume()
	})
}

func (s *Session) withCurrent(fn func(*graph) error) error {
	s.mu.Lock()
	g := s.cur
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	if err := fn(g); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if len(data) == 0 {
		return nil, beep.Format{}, errors.New("empty input")
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		return wav.Decode(bytes.NewReader(data))
	}
	return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
}

func (s *Session) build(decoder beep.StreamSeekCloser, format beep.Format) (*graph, error) {
	var src beep.Streamer = decoder
	if rate := beep.SampleRate(s.format.SampleRate); format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, decoder)
	}

	g := &graph{
		decoder:  decoder,
		ctrl:     &beep.Ctrl{Streamer: src},
		channels: s.format.Channels,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		quit:     make(chan struct{}),
		tapDone:  make(chan struct{}),
	}
	if s.tap != nil {
		g.taps = make(chan []float32, tapBuffer)
		go g.runTap(s.tap, s.frameSize)
	} else {
		close(g.tapDone)
	}

	stream, err := s.out.OpenOutput(s.format, g.fill)
	if err != nil {
		close(g.quit)
		<-g.tapDone
		return nil, fmt.Errorf("playback: open output: %w", err)
	}
	g.stream = stream
	return g, nil
}

// teardown closes g's output stream and decoder and clears the playing flag
// if g is still current. Concurrent callers block until the first finishes.
func (s *Session) teardown(g *graph) {
	g.teardownOnce.Do(func() {
		if err := g.stream.Close(); err != nil {
			slog.Warn("playback: close output stream", "err", err)
		}
		g.mu.Lock()
		if err := g.decoder.Close(); err != nil {
			slog.Debug("playback: close decoder", "err", err)
		}
		g.closed = true
		g.mu.Unlock()
		close(g.quit)
		<-g.tapDone

		s.mu.Lock()
		if s.cur == g {
			s.cur = nil
			s.playing.Store(false)
		}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ActivePlayback.Add(context.Background(), -1)
		}
	})
}

// graph is one playback: decoder → resampler → ctrl → device.
type graph struct {
	decoder  beep.StreamSeekCloser
	ctrl     *beep.Ctrl
	stream   audio.OutputStream
	channels int

	// mu guards the streamer chain between the audio thread and teardown.
	mu     sync.Mutex
	buf    [][2]float64
	ended  bool
	closed bool

	taps    chan []float32
	quit    chan struct{}
	tapDone chan struct{}

	done         chan struct{}
	doneOnce     sync.Once
	stopped      chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
}

func (g *graph) interrupt() {
	g.stopOnce.Do(func() { close(g.stopped) })
}

// fill runs on the audio thread. It only reads from the streamer chain and
// signals the end of the source; teardown happens on the Play goroutine.
func (g *graph) fill(dst []float32) int {
	frames := len(dst) / g.channels

	g.mu.Lock()
	if g.closed || g.ended {
		g.mu.Unlock()
		return 0
	}
	if cap(g.buf) < frames {
		g.buf = make([][2]float64, frames)
	}
	buf := g.buf[:frames]
	n := 0
	for n < frames {
		k, ok := g.ctrl.Stream(buf[n:])
		n += k
		if !ok {
			g.ended = true
			break
		}
		if k == 0 {
			break
		}
	}
	ended := g.ended
	if !ended {
		// A short read without the end of the source is padded with
		// silence so the device does not treat it as the end.
		clear(buf[n:])
		n = frames
	}
	g.mu.Unlock()

	var mono []float32
	if g.taps != nil {
		mono = make([]float32, n)
	}
	for i := range n {
		l, r := float32(buf[i][0]), float32(buf[i][1])
		switch g.channels {
		case 1:
			dst[i] = (l + r) / 2
		default:
			base := i * g.channels
			dst[base] = l
			dst[base+1] = r
			clear(dst[base+2 : base+g.channels])
		}
		if mono != nil {
			mono[i] = (l + r) / 2
		}
	}
	if mono != nil && n > 0 {
		select {
		case g.taps <- mono:
		default:
		}
	}

	if ended {
		g.doneOnce.Do(func() { close(g.done) })
	}
	return n * g.channels
}

// runTap regroups tapped samples into blocks of size and calls fn with each.
// The final partial block is delivered when the graph is torn down.
func (g *graph) runTap(fn func([]float32), size int) {
	defer close(g.tapDone)
	pending := make([]float32, 0, size)
	deliver := func(samples []float32) {
		for len(samples) > 0 {
			k := min(size-len(pending), len(samples))
			pending = append(pending, samples[:k]...)
			samples = samples[k:]
			if len(pending) == size {
				fn(pending)
				pending = make([]float32, 0, size)
			}
		}
	}
	for {
		select {
		case s := <-g.taps:
			deliver(s)
		case <-g.quit:
			for {
				select {
				case s := <-g.taps:
					deliver(s)
				default:
					if len(pending) > 0 {
						fn(pending)
					}
					return
				}
			}
		}
	}
}
