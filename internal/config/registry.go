package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory carries the requested
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name table.
type factories[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]Factory[T]
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byName == nil {
		f.byName = make(map[string]Factory[T])
	}
	f.byName[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byName[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (known: %s)", ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	return fn(entry)
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.byName))
	for n := range f.byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry resolves provider names from the configuration to constructors.
// Registering a name twice replaces the earlier factory. It is safe for
// concurrent use.
type Registry struct {
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm"},
		stt: factories[stt.Provider]{kind: "stt"},
		tts: factories[tts.Provider]{kind: "tts"},
	}
}

// RegisterLLM adds a chat model backend.
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { r.llm.register(name, fn) }

// RegisterSTT adds a transcription backend.
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { r.stt.register(name, fn) }

// RegisterTTS adds a speech synthesis backend.
func (r *Registry) RegisterTTS(name string, fn Factory[tts.Provider]) { r.tts.register(name, fn) }

// CreateLLM builds the LLM named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.create(entry) }

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// Names lists the registered names of kind ("llm", "stt" or "tts"), sorted.
// Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}

// OptString reads a string option, returning "" when it is absent or not a
// string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
