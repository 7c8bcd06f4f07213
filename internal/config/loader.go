package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	errs = append(errs, validateEntry("llm", "providers.llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)

	v := cfg.Persona.Voice
	if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("persona.voice.speed_factor %.2f is out of range [0.5, 2.0]", v.SpeedFactor))
	}
	if v.Provider != "" && cfg.Providers.TTS.Name != "" && v.Provider != cfg.Providers.TTS.Name {
		slog.Warn("persona voice provider does not match the primary TTS provider; fallbacks use their default voice",
			"voice_provider", v.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	if cfg.Gateway.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_upload_bytes must not be negative"))
	}
	if cfg.Gateway.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_output_tokens must not be negative"))
	}

	a := cfg.Assistant
	if a.GatewayURL != "" {
		if u, err := url.Parse(a.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("assistant.gateway_url %q is not an absolute URL", a.GatewayURL))
		}
	}
	if a.Threshold < 0 || a.Threshold > 1 {
		errs = append(errs, fmt.Errorf("assistant.threshold %.3f is out of range [0, 1]", a.Threshold))
	}
	if a.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_upload_bytes must not be negative"))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("assistant.sample_rate must not be negative"))
	}
	if a.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("assistant.tick_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// validateEntry warns about unknown names and rejects fallbacks without one.
func validateEntry(kind, path string, e ProviderEntry) []error {
	validateProviderName(kind, e.Name)
	var errs []error
	if e.Name == "" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s.fallbacks requires %s.name", path, path))
	}
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", path, i))
			continue
		}
		validateProviderName(kind, fb.Name)
		if len(fb.Fallbacks) > 0 {
			slog.Warn("nested provider fallbacks are ignored", "path", fmt.Sprintf("%s.fallbacks[%d]", path, i))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
