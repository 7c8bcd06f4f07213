package audio

import "sync"

// DefaultAnalyserSize is the window length of an [Analyser], matching the
// 2048-sample FFT size commonly used for time-domain inspection.
const DefaultAnalyserSize = 2048

// Analyser keeps the most recent window of mono samples written to it so a
// sampler can inspect the live signal without consuming it.
//
// Analyser is safe for concurrent use.
type Analyser struct {
	mu   sync.Mutex
	buf  []float32
	pos  int
	full bool
}

// NewAnalyser returns an analyser holding the last size samples. A
// non-positive size selects [DefaultAnalyserSize].
func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = DefaultAnalyserSize
	}
	return &Analyser{buf: make([]float32, size)}
}

// Size returns the window length.
func (a *Analyser) Size() int {
	return len(a.buf)
}

// Write appends mono samples, overwriting the oldest ones.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) >= len(a.buf) {
		copy(a.buf, samples[len(samples)-len(a.buf):])
		a.pos = 0
		a.full = true
		return
	}
	for len(samples) > 0 {
		n := copy(a.buf[a.pos:], samples)
		samples = samples[n:]
		a.pos += n
		if a.pos == len(a.buf) {
			a.pos = 0
			a.full = true
		}
	}
}

// TimeDomain copies the current window, oldest sample first, into dst and
// returns the number of samples copied. Before the window has filled, only
// the samples written so far are returned.
func (a *Analyser) TimeDomain(dst []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.full {
		return copy(dst, a.buf[:a.pos])
	}
	n := copy(dst, a.buf[a.pos:])
	n += copy(dst[n:], a.buf[:a.pos])
	return n
}

// Reset clears the window.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.buf)
	a.pos = 0
	a.full = false
}
