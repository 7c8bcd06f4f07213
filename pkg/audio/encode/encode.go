// Package encode turns captured [audio.Frame] values into an uploadable
// container. Encoders are looked up by content type in a [Registry] and the
// capture path negotiates one type, once, from a preference list.
package encode

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

// ErrUnsupported is returned by [Registry.Negotiate] when none of the
// preferred content types has a registered encoder.
var ErrUnsupported = errors.New("encode: no supported capture encoding")

// Content types with built-in encoders.
const (
	ContentTypeOggOpus = "audio/ogg;codecs=opus"
	ContentTypeWAV     = "audio/wav"
)

// DefaultPreferences is the capture encoding preference list, most preferred
// first. WebM entries are kept so a registry with a WebM muxer picks them up.
var DefaultPreferences = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	ContentTypeOggOpus,
	ContentTypeWAV,
}

// Encoder converts a stream of frames into encoded chunks. Each call may
// return zero or more bytes of container output; concatenating every chunk
// returned by Write and Close, in order, yields a complete file.
//
// An Encoder is used by a single goroutine.
type Encoder interface {
	// Write encodes f and returns any output that became ready.
	Write(f audio.Frame) ([]byte, error)

	// Close flushes buffered audio and returns the final chunk.
	Close() ([]byte, error)
}

// Factory creates an encoder for frames in format f.
type Factory func(f audio.Format) (Encoder, error)

// Registry maps content types to encoder factories. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the Ogg/Opus and WAV encoders.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ContentTypeOggOpus, NewOggOpus)
	r.Register(ContentTypeWAV, NewWAV)
	return r
}

// Register adds factory under contentType, replacing any previous one.
func (r *Registry) Register(contentType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(contentType)] = factory
}

// Supported reports whether contentType has a registered encoder.
func (r *Registry) Supported(contentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(contentType)]
	return ok
}

// ContentTypes returns the registered content types, sorted.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for ct := range r.factories {
		out = append(out, ct)
	}
	slices.Sort(out)
	return out
}

// Negotiate returns the first entry of preferences that is supported.
func (r *Registry) Negotiate(preferences []string) (string, error) {
	for _, ct := range preferences {
		if r.Supported(ct) {
			return normalize(ct), nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrUnsupported, strings.Join(preferences, ", "))
}

// New creates an encoder for contentType.
func (r *Registry) New(contentType string, f audio.Format) (Encoder, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(contentType)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
	return factory(f)
}

// Extension returns a file extension for contentType, used to name uploads.
func Extension(contentType string) string {
	base, _, _ := strings.Cut(normalize(contentType), ";")
	switch base {
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	}
	return ".bin"
}

// normalize lower-cases contentType and strips whitespace around parameters.
func normalize(contentType string) string {
	parts := strings.Split(strings.ToLower(contentType), ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ";")
}
