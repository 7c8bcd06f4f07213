package playback_test

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chatterbox/internal/playback"
	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
	"github.com/MrWong99/chatterbox/pkg/audio/mock"
)

// toneWAV returns a WAV file holding d of a 440 Hz sine at amplitude amp.
func toneWAV(t *testing.T, rate int, d time.Duration, amp float32) []byte {
	t.Helper()
	f := audio.Format{SampleRate: rate, Channels: 1}
	enc, err := encode.NewWAV(f)
	if err != nil {
		t.Fatalf("NewWAV: %v", err)
	}
	n := int(d.Seconds() * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if _, err := enc.Write(audio.Frame{Samples: samples, SampleRate: rate, Channels: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := enc.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	return data
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlay_NaturalEnd(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{AutoDrain: true, BufferSize: 512}

	var (
		mu     sync.Mutex
		frames int
		peak   float32
	)
	s := playback.New(dev,
		playback.WithFrameSize(256),
		playback.WithTap(func(frame []float32) {
			mu.Lock()
			defer mu.Unlock()
			frames++
			peak = max(peak, audio.Peak(frame))
		}),
	)

	// 24 kHz source into a 48 kHz device exercises the resampler.
	err := s.Play(context.Background(), toneWAV(t, 24000, 100*time.Millisecond, 0.5), nil)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	if s.Playing() {
		t.Error("Playing() = true after natural end")
	}
	streams := dev.Streams()
	if len(streams) != 1 {
		t.Fatalf("streams opened = %d, want 1", len(streams))
	}
	if !streams[0].Closed() {
		t.Error("output stream not closed after natural end")
	}
	if got := streams[0].Format(); got != audio.DefaultFormat {
		t.Errorf("device format = %v, want %v", got, audio.DefaultFormat)
	}

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		t.Fatal("tap never invoked")
	}
	if peak < 0.3 {
		t.Errorf("tap peak = %v, want the tone's amplitude", peak)
	}
}

func TestPlay_MP3NaturalEnd(t *testing.T) {
	t.Parallel()

	// Twenty 44.1 kHz MPEG-1 Layer III frames of silence, as the speech
	// providers return.
	reply, err := os.ReadFile("testdata/silence.mp3")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	dev := &mock.OutputDevice{AutoDrain: true, BufferSize: 512}
	var (
		mu     sync.Mutex
		frames int
		peak   float32
	)
	s := playback.New(dev,
		playback.WithFrameSize(256),
		playback.WithTap(func(frame []float32) {
			mu.Lock()
			defer mu.Unlock()
			frames++
			peak = max(peak, audio.Peak(frame))
		}),
	)

	if err := s.Play(context.Background(), reply, nil); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if s.Playing() {
		t.Error("Playing() = true after natural end")
	}
	streams := dev.Streams()
	if len(streams) != 1 || !streams[0].Closed() {
		t.Fatalf("want one closed output stream, got %d", len(streams))
	}

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		t.Fatal("tap never invoked for mp3 reply")
	}
	if peak != 0 {
		t.Errorf("tap peak = %v, want silence", peak)
	}
}

func TestPlay_StartedCallback(t *testing.T) {
	t.Parallel()

	t.Run("runs once the output is live", func(t *testing.T) {
		t.Parallel()
		dev := &mock.OutputDevice{AutoDrain: true}
		s := playback.New(dev)
		calls := 0
		err := s.Play(context.Background(), toneWAV(t, 48000, 20*time.Millisecond, 0.5), func() error {
			calls++
			if !s.Playing() || len(dev.Streams()) != 1 {
				t.Error("started called before the output stream was running")
			}
			return nil
		})
		if err != nil || calls != 1 {
			t.Fatalf("Play = %v, started calls = %d", err, calls)
		}
	})

	t.Run("not called for undecodable audio", func(t *testing.T) {
		t.Parallel()
		s := playback.New(&mock.OutputDevice{})
		err := s.Play(context.Background(), []byte("garbage"), func() error {
			t.Error("started called for undecodable audio")
			return nil
		})
		if !errors.Is(err, playback.ErrDecode) {
			t.Fatalf("err = %v, want ErrDecode", err)
		}
	})

	t.Run("error ends playback", func(t *testing.T) {
		t.Parallel()
		dev := &mock.OutputDevice{}
		s := playback.New(dev)
		refused := errors.New("state moved on")
		err := s.Play(context.Background(), toneWAV(t, 48000, time.Second, 0.5), func() error { return refused })
		if !errors.Is(err, refused) {
			t.Fatalf("err = %v, want the callback error", err)
		}
		if s.Playing() || !dev.Streams()[0].Closed() {
			t.Error("graph not torn down after the callback failed")
		}
	})
}

func TestPlay_Stop(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	s := playback.New(dev)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Play(context.Background(), toneWAV(t, 48000, time.Second, 0.5), nil)
	}()
	waitFor(t, "playback to start", s.Playing)

	s.Stop()
	if s.Playing() {
		t.Error("Playing() = true after Stop returned")
	}
	if err := <-errCh; !errors.Is(err, playback.ErrInterrupted) {
		t.Fatalf("Play err = %v, want ErrInterrupted", err)
	}
	if !dev.Streams()[0].Closed() {
		t.Error("stream not closed after Stop")
	}

	// Idempotent, and safe with nothing playing.
	s.Stop()
	playback.New(&mock.OutputDevice{}).Stop()
}

func TestPlay_TearsDownPreviousGraphFirst(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	s := playback.New(dev)
	data := toneWAV(t, 48000, time.Second, 0.5)

	first := make(chan error, 1)
	go func() { first <- s.Play(context.Background(), data, nil) }()
	waitFor(t, "first playback", s.Playing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	second := make(chan error, 1)
	go func() { second <- s.Play(ctx, data, nil) }()

	waitFor(t, "second stream", func() bool { return len(dev.Streams()) == 2 })
	if !dev.Streams()[0].Closed() {
		t.Error("first stream still open when the second was opened")
	}
	if err := <-first; !errors.Is(err, playback.ErrInterrupted) {
		t.Errorf("first Play err = %v, want ErrInterrupted", err)
	}

	waitFor(t, "second playback", s.Playing)
	cancel()
	if err := <-second; !errors.Is(err, context.Canceled) {
		t.Errorf("second Play err = %v, want context.Canceled", err)
	}
	if dev.Open() != 0 {
		t.Errorf("open streams = %d, want 0", dev.Open())
	}
	if s.Playing() {
		t.Error("Playing() = true after cancellation")
	}
}

func TestPlay_DecodeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated wav", []byte("RIFF\x00\x00\x00\x00WAVE")},
		{"neither wav nor mp3", []byte("<html>502 Bad Gateway</html>")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev := &mock.OutputDevice{}
			s := playback.New(dev)
			err := s.Play(context.Background(), tt.data, nil)
			if !errors.Is(err, playback.ErrDecode) {
				t.Fatalf("err = %v, want ErrDecode", err)
			}
			if len(dev.Streams()) != 0 {
				t.Error("output opened for undecodable audio")
			}
			if s.Playing() {
				t.Error("Playing() = true after decode failure")
			}
		})
	}
}

func TestPlay_OpenOutputError(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no speaker")
	s := playback.New(&mock.OutputDevice{OpenError: openErr})
	err := s.Play(context.Background(), toneWAV(t, 48000, 10*time.Millisecond, 0.5), nil)
	if !errors.Is(err, openErr) {
		t.Fatalf("err = %v, want wrapped open error", err)
	}
	if s.Playing() {
		t.Error("Playing() = true after open failure")
	}
}

func TestSuspendResume(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	s := playback.New(dev)

	// No-ops with nothing playing.
	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend idle: %v", err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume idle: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(context.Background(), toneWAV(t, 48000, time.Second, 0.5), nil) }()
	waitFor(t, "playback", s.Playing)
	stream := dev.Streams()[0]

	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if !stream.Paused() {
		t.Error("stream not paused after Suspend")
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if stream.Paused() {
		t.Error("stream still paused after Resume")
	}

	s.Stop()
	<-errCh
}

func TestPlay_PullAfterStopIsSilent(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	s := playback.New(dev)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(context.Background(), toneWAV(t, 48000, time.Second, 0.5), nil) }()
	waitFor(t, "playback", s.Playing)
	stream := dev.Streams()[0]

	if n := stream.Pull(480); n != 480 {
		t.Fatalf("Pull while playing = %d, want 480", n)
	}
	s.Stop()
	<-errCh
	if n := stream.Pull(480); n != 0 {
		t.Errorf("Pull after Stop = %d, want 0", n)
	}
}
