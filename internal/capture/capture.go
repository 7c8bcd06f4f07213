// Package capture owns the microphone stream and the per-utterance recorder.
//
// A [Session] acquires the input device lazily on the first [Session.Start]
// and keeps the stream open across utterances. Every captured frame feeds a
// rolling [audio.Analyser]; while a recording is active the frames also feed
// an encoder whose output chunks are collected until [Session.Stop].
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/internal/speech"
	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
)

// ErrNoInputDevice is returned by [Session.Start] when the microphone cannot
// be acquired.
var ErrNoInputDevice = errors.New("capture: no input device")

// Recording is the result of one start-to-stop capture.
type Recording struct {
	// Chunks are the encoded chunks in production order.
	Chunks [][]byte

	// ContentType is the negotiated encoding.
	ContentType string

	// HadSpeech reports whether the energy monitor latched.
	HadSpeech bool
}

// Session is a reusable capture session. It is safe for concurrent use, but
// Start and Stop are expected to be serialized by the caller.
type Session struct {
	input    audio.InputDevice
	machine  *character.Machine
	registry *encode.Registry
	prefs    []string
	format   audio.Format

	threshold    float32
	tickInterval time.Duration
	onLevel      func(float32)

	contentType string
	analyser    *audio.Analyser
	monitor     *speech.Monitor

	mu         sync.Mutex
	stream     audio.InputStream
	pumpDone   chan struct{}
	rec        *recorder
	stopMon    context.CancelFunc
	monDone    chan struct{}
	recordings int
}

// Option is a functional option for Session.
type Option func(*Session)

// WithFormat sets the capture format. Default: [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Session) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.format = f
		}
	}
}

// WithPreferences sets the encoding preference list.
// Default: [encode.DefaultPreferences].
func WithPreferences(prefs []string) Option {
	return func(s *Session) {
		if len(prefs) > 0 {
			s.prefs = prefs
		}
	}
}

// WithRegistry sets the encoder registry. Default: [encode.NewDefaultRegistry].
func WithRegistry(r *encode.Registry) Option {
	return func(s *Session) {
		s.registry = r
	}
}

// WithThreshold sets the speech threshold. Default: [speech.DefaultThreshold].
func WithThreshold(t float32) Option {
	return func(s *Session) {
		s.threshold = t
	}
}

// WithTickInterval sets the energy monitor period.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		s.tickInterval = d
	}
}

// WithLevelFunc receives the microphone peak level on every monitor tick.
func WithLevelFunc(fn func(float32)) Option {
	return func(s *Session) {
		s.onLevel = fn
	}
}

// New creates a session and negotiates the capture encoding. It returns
// [encode.ErrUnsupported] when no preferred encoding is available; capture
// is unusable in that case. The microphone is not opened until Start.
func New(input audio.InputDevice, machine *character.Machine, opts ...Option) (*Session, error) {
	s := &Session{
		input:     input,
		machine:   machine,
		prefs:     encode.DefaultPreferences,
		format:    audio.DefaultFormat,
		threshold: speech.DefaultThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = encode.NewDefaultRegistry()
	}

	ct, err := s.registry.Negotiate(s.prefs)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	s.contentType = ct

	s.analyser = audio.NewAnalyser(audio.DefaultAnalyserSize)
	monOpts := []speech.MonitorOption{speech.WithTickInterval(s.tickInterval)}
	if s.onLevel != nil {
		monOpts = append(monOpts, speech.WithLevelFunc(s.onLevel))
	}
	s.monitor = speech.NewMonitor(s.analyser, s.threshold, monOpts...)

	slog.Info("capture: encoding negotiated", "content_type", ct, "format", s.format.String())
	return s, nil
}

// ContentType returns the negotiated encoding.
func (s *Session) ContentType() string { return s.contentType }

// HadSpeech reports whether the current or last recording crossed the
// speech threshold.
func (s *Session) HadSpeech() bool { return s.monitor.HadSpeech() }

// Start begins a new recording: it acquires the microphone if needed,
// clears previous chunks, the analyser window and the speech latch, moves the state machine to
// Listening and starts the recorder and energy monitor.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		return fmt.Errorf("capture: recording already active")
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}

	enc, err := s.registry.New(s.contentType, s.format)
	if err != nil {
		return fmt.Errorf("capture: create encoder: %w", err)
	}

	// Samples from before the press must not latch the new recording.
	s.analyser.Reset()
	s.monitor.Reset()
	if err := s.machine.BeginListening(); err != nil {
		return err
	}

	s.recordings++
	s.rec = newRecorder(enc, s.recordings)
	go s.rec.run()

	monCtx, cancel := context.WithCancel(context.Background())
	s.stopMon = cancel
	s.monDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.monitor.Run(monCtx, func() bool {
			return s.machine.State() == character.Listening
		})
	}(s.monDone)

	slog.Debug("capture: recording started", "recording", s.recordings)
	return nil
}

// Stop finalizes the active recording and waits for the encoder to flush.
// Without an active recording it logs and returns a zero Recording.
func (s *Session) Stop(ctx context.Context) (Recording, error) {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	stopMon, monDone := s.stopMon, s.monDone
	s.stopMon, s.monDone = nil, nil
	s.mu.Unlock()

	if rec == nil {
		slog.Info("capture: stop called without an active recording")
		return Recording{}, nil
	}

	stopMon()
	<-monDone

	close(rec.stop)
	select {
	case <-rec.done:
	case <-ctx.Done():
		return Recording{}, fmt.Errorf("capture: await finalization: %w", ctx.Err())
	}

	out := Recording{
		Chunks:      rec.chunks,
		ContentType: s.contentType,
		HadSpeech:   s.monitor.HadSpeech(),
	}
	slog.Debug("capture: recording finalized",
		"recording", rec.id,
		"chunks", len(out.Chunks),
		"had_speech", out.HadSpeech,
	)
	return out, nil
}

// Close stops any active recording and releases the microphone.
func (s *Session) Close() error {
	s.mu.Lock()
	active := s.rec != nil
	s.mu.Unlock()
	if active {
		if _, err := s.Stop(context.Background()); err != nil {
			return err
		}
	}
	s.mu.Lock()
	stream, pumpDone := s.stream, s.pumpDone
	s.stream, s.pumpDone = nil, nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	err := stream.Close()
	<-pumpDone
	if err != nil {
		return fmt.Errorf("capture: close input: %w", err)
	}
	return nil
}

// acquire opens the microphone once. Must be called with s.mu held.
func (s *Session) acquire(ctx context.Context) error {
	if s.stream != nil {
		return nil
	}
	stream, err := s.input.OpenInput(ctx, s.format)
	if err != nil {
		slog.Error("capture: microphone unavailable", "err", err)
		return fmt.Errorf("%w: %w", ErrNoInputDevice, err)
	}
	s.stream = stream
	s.pumpDone = make(chan struct{})
	go s.pump(stream, s.pumpDone)
	return nil
}

// pump forwards every frame to the analyser and the active recorder until
// the stream closes.
func (s *Session) pump(stream audio.InputStream, done chan struct{}) {
	defer close(done)
	conv := audio.FormatConverter{Target: s.format}
	for f := range stream.Frames() {
		f = conv.Convert(f)

		// The recorder must hold a frame before the monitor can latch on it.
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if rec != nil {
			rec.feed(f)
		}
		s.analyser.Write(audio.Downmix(f.Samples, f.Channels))
	}
}
