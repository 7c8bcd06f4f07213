package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/engine"
	"github.com/MrWong99/chatterbox/internal/engine/cascade"
	"github.com/MrWong99/chatterbox/internal/resilience"
	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// Providers holds one interface value per gateway stage. Nil means the
// provider is not configured.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Names labels the stage metrics with the primary provider names.
	Names cascade.ProviderNames
}

// Configured reports which stages have a provider, keyed by kind.
func (p *Providers) Configured() map[string]bool {
	return map[string]bool{
		"llm": p.LLM != nil,
		"stt": p.STT != nil,
		"tts": p.TTS != nil,
	}
}

// BuildProviders instantiates every provider named in cfg through reg. An
// entry with fallbacks is wrapped in a resilience fallback group; a fallback
// that cannot be created is logged and skipped. A primary whose name is not
// registered leaves its stage unconfigured.
func BuildProviders(cfg *config.Config, reg *config.Registry, fb resilience.FallbackConfig) (*Providers, error) {
	ps := &Providers{Names: cascade.ProviderNames{
		LLM: cfg.Providers.LLM.Name,
		STT: cfg.Providers.STT.Name,
		TTS: cfg.Providers.TTS.Name,
	}}

	var err error
	ps.LLM, err = build("llm", cfg.Providers.LLM, reg.CreateLLM, func(p llm.Provider, name string) (llm.Provider, func(string, llm.Provider)) {
		g := resilience.NewLLMFallback(p, name, fb)
		return g, g.AddFallback
	})
	if err != nil {
		return nil, err
	}
	ps.STT, err = build("stt", cfg.Providers.STT, reg.CreateSTT, func(p stt.Provider, name string) (stt.Provider, func(string, stt.Provider)) {
		g := resilience.NewSTTFallback(p, name, fb)
		return g, g.AddFallback
	})
	if err != nil {
		return nil, err
	}
	ps.TTS, err = build("tts", cfg.Providers.TTS, reg.CreateTTS, func(p tts.Provider, name string) (tts.Provider, func(string, tts.Provider)) {
		g := resilience.NewTTSFallback(p, name, fb)
		return g, g.AddFallback
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// build creates the primary of entry and, when it has fallbacks, wraps it
// with group and appends each fallback.
func build[T any](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	group func(primary T, name string) (T, func(string, T)),
) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, stage left unconfigured", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return p, nil
	}

	wrapped, add := group(p, entry.Name)
	for _, fbEntry := range entry.Fallbacks {
		fbEntry.Fallbacks = nil
		f, err := create(fbEntry)
		if err != nil {
			slog.Warn("fallback provider skipped", "kind", kind, "name", fbEntry.Name, "err", err)
			continue
		}
		add(fbEntry.Name, f)
		slog.Info("fallback provider added", "kind", kind, "name", fbEntry.Name, "model", fbEntry.Model)
	}
	return wrapped, nil
}

// PersonaFromConfig overlays the configured persona on the built-in one.
func PersonaFromConfig(pc config.PersonaConfig) engine.Persona {
	p := engine.DefaultPersona()
	if pc.Name != "" {
		p.Name = pc.Name
	}
	if pc.SystemPrompt != "" {
		p.SystemPrompt = pc.SystemPrompt
	}
	if pc.Language != "" {
		p.Language = pc.Language
	}
	p.Voice = types.VoiceProfile{
		ID:          pc.Voice.VoiceID,
		Provider:    pc.Voice.Provider,
		SpeedFactor: pc.Voice.SpeedFactor,
	}
	return p
}
