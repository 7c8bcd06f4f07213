package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/chatterbox/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini", Options: map[string]any{"nested": map[string]any{"a": 1}}},
			TTS: config.ProviderEntry{Name: "elevenlabs", Fallbacks: []config.ProviderEntry{{Name: "openai"}}},
		},
		Persona: config.PersonaConfig{Name: "Bo", SystemPrompt: "woof", Language: "en"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.PersonaChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_Persona(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.PersonaConfig)
		check  func(config.PersonaDiff) bool
	}{
		{"name", func(p *config.PersonaConfig) { p.Name = "Rex" }, func(d config.PersonaDiff) bool { return d.NameChanged }},
		{"prompt", func(p *config.PersonaConfig) { p.SystemPrompt = "meow" }, func(d config.PersonaDiff) bool { return d.PromptChanged }},
		{"language", func(p *config.PersonaConfig) { p.Language = "de" }, func(d config.PersonaDiff) bool { return d.LanguageChanged }},
		{"voice", func(p *config.PersonaConfig) { p.Voice.VoiceID = "v2" }, func(d config.PersonaDiff) bool { return d.VoiceChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(&new.Persona)
			d := config.Diff(old, new)
			if !d.PersonaChanged {
				t.Fatal("expected PersonaChanged=true")
			}
			if !tt.check(d.Persona) {
				t.Errorf("expected %s flag, got %+v", tt.name, d.Persona)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("persona edits should not require a restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server.listen_addr"},
		{"llm model", func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" }, "providers"},
		{"llm options", func(c *config.Config) { c.Providers.LLM.Options = map[string]any{"nested": map[string]any{"a": 2}} }, "providers"},
		{"tts fallback", func(c *config.Config) { c.Providers.TTS.Fallbacks[0].Model = "tts-1-hd" }, "providers"},
		{"gateway limits", func(c *config.Config) { c.Gateway.MaxOutputTokens = 100 }, "gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tt.want)
			}
		})
	}
}
