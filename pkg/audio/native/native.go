// Package native implements [audio.InputDevice] and [audio.OutputDevice] on
// top of miniaudio via github.com/gen2brain/malgo.
//
// Samples cross the device boundary as little-endian float32, so no integer
// conversion happens on the audio thread.
package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

// Device owns a miniaudio context shared by every stream it opens.
type Device struct {
	ctx      *malgo.AllocatedContext
	periodMs uint32
}

// Option is a functional option for Device.
type Option func(*Device)

// WithPeriod sets the device period. Shorter periods lower latency at the
// cost of more callbacks. Default: 20ms.
func WithPeriod(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.periodMs = uint32(d.Milliseconds())
		}
	}
}

// New initialises the platform audio context.
func New(opts ...Option) (*Device, error) {
	dev := &Device{periodMs: 20}
	for _, o := range opts {
		o(dev)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("native: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("native: init context: %w", err)
	}
	dev.ctx = ctx
	return dev, nil
}

// Close releases the audio context. Streams must be closed first.
func (d *Device) Close() error {
	if err := d.ctx.Uninit(); err != nil {
		return fmt.Errorf("native: uninit context: %w", err)
	}
	d.ctx.Free()
	return nil
}

// OpenInput implements [audio.InputDevice]. The microphone starts capturing
// immediately.
func (d *Device) OpenInput(ctx context.Context, f audio.Format) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = d.periodMs

	s := &inputStream{
		format: f,
		ch:     make(chan audio.Frame, 64),
		start:  time.Now(),
	}
	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("native: init capture device: %w", err)
	}
	s.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("native: start capture device: %w", err)
	}
	slog.Info("native: microphone opened", "format", f.String())
	return s, nil
}

type inputStream struct {
	mu      sync.Mutex
	dev     *malgo.Device
	format  audio.Format
	ch      chan audio.Frame
	start   time.Time
	closed  bool
	dropped int
}

func (s *inputStream) onData(_, in []byte, _ uint32) {
	samples := make([]float32, len(in)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- audio.Frame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  time.Since(s.start),
	}:
	default:
		s.dropped++
	}
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.ch }

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()

	s.dev.Uninit()
	close(s.ch)
	if dropped > 0 {
		slog.Warn("native: capture frames dropped", "count", dropped)
	}
	return nil
}

// OpenOutput implements [audio.OutputDevice]. The stream is created stopped;
// call Start to begin pulling from fill.
func (d *Device) OpenOutput(f audio.Format, fill audio.FillFunc) (audio.OutputStream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = d.periodMs

	s := &outputStream{fill: fill}
	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("native: init playback device: %w", err)
	}
	s.dev = dev
	return s, nil
}

type outputStream struct {
	mu      sync.Mutex
	dev     *malgo.Device
	fill    audio.FillFunc
	scratch []float32
	closed  bool
}

func (s *outputStream) onData(out, _ []byte, _ uint32) {
	n := len(out) / 4
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	written := s.fill(buf)
	clear(buf[written:])
	for i, v := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
}

func (s *outputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("native: start playback device: %w", err)
	}
	return nil
}

func (s *outputStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.dev.IsStarted() {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("native: pause playback device: %w", err)
	}
	return nil
}

func (s *outputStream) Resume() error {
	return s.Start()
}

func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Uninit()
	return nil
}

var (
	_ audio.InputDevice  = (*Device)(nil)
	_ audio.OutputDevice = (*Device)(nil)
)
