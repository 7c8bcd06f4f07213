// Package speech decides whether a recording contains genuine speech before a
// transcription call is spent on it.
//
// A [Monitor] samples the live microphone signal while a capture session is
// listening and latches once the peak amplitude crosses a threshold.
// [Evaluate] combines that latch with the recorded chunks into the final
// accept or reject decision.
package speech

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

// DefaultThreshold is the peak amplitude, on a normalised [-1, 1] scale, that
// counts as speech.
const DefaultThreshold float32 = 0.1

// DefaultTickInterval approximates one display refresh.
const DefaultTickInterval = 16 * time.Millisecond

// Sampler exposes the most recent window of time-domain samples.
// [audio.Analyser] implements it.
type Sampler interface {
	TimeDomain(dst []float32) int
}

// Monitor polls a [Sampler] and latches when any sample exceeds the
// threshold. It never triggers anything itself; callers read [Monitor.HadSpeech].
type Monitor struct {
	src       Sampler
	threshold float32
	interval  time.Duration
	onLevel   func(float32)

	buf       []float32
	hadSpeech atomic.Bool
}

// MonitorOption is a functional option for Monitor.
type MonitorOption func(*Monitor)

// WithTickInterval sets the sampling period. Default: [DefaultTickInterval].
func WithTickInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLevelFunc registers fn to receive the peak of every sampled window.
func WithLevelFunc(fn func(level float32)) MonitorOption {
	return func(m *Monitor) {
		m.onLevel = fn
	}
}

// WithWindow sets the number of samples read per tick.
// Default: [audio.DefaultAnalyserSize].
func WithWindow(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.buf = make([]float32, n)
		}
	}
}

// NewMonitor returns a monitor over src. A non-positive threshold selects
// [DefaultThreshold].
func NewMonitor(src Sampler, threshold float32, opts ...MonitorOption) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Monitor{
		src:       src,
		threshold: threshold,
		interval:  DefaultTickInterval,
	}
	for _, o := range opts {
		o(m)
	}
	if m.buf == nil {
		m.buf = make([]float32, audio.DefaultAnalyserSize)
	}
	return m
}

// Threshold returns the latch threshold.
func (m *Monitor) Threshold() float32 { return m.threshold }

// Run samples once per tick until guard reports false or ctx is done. The
// guard is checked before every sample so no tick runs after the owning
// session has left the listening state.
//
// Run must not be called concurrently with itself.
func (m *Monitor) Run(ctx context.Context, guard func() bool) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !guard() {
				return
			}
			m.Tick()
		}
	}
}

// Tick reads one window, latches if its peak exceeds the threshold and
// returns the peak.
func (m *Monitor) Tick() float32 {
	n := m.src.TimeDomain(m.buf)
	level := audio.Peak(m.buf[:n])
	if level > m.threshold {
		m.hadSpeech.Store(true)
	}
	if m.onLevel != nil {
		m.onLevel(level)
	}
	return level
}

// HadSpeech reports whether the threshold was crossed since the last Reset.
func (m *Monitor) HadSpeech() bool {
	return m.hadSpeech.Load()
}

// Reset clears the latch.
func (m *Monitor) Reset() {
	m.hadSpeech.Store(false)
}
