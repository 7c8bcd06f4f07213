// Package config provides the configuration schema, loader, and provider
// registry for the assistant and its gateway.
package config

import (
	"time"

	"github.com/MrWong99/chatterbox/internal/recognition"
	"github.com/MrWong99/chatterbox/internal/speech"
	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultGatewayURL      = "http://localhost:8080"
	DefaultPresenceAddr    = "127.0.0.1:8765"
	DefaultMaxOutputTokens = 512
)

// Config is the root configuration structure. Both binaries read the same
// file: the gateway uses Server, Providers, Persona and Gateway; the
// assistant uses Server and Assistant.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Assistant AssistantConfig `yaml:"assistant"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloaded by the gateway.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// gateway stage. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// PersonaConfig describes the assistant's character. Empty fields keep the
// built-in persona's values.
type PersonaConfig struct {
	Name         string      `yaml:"name"`
	SystemPrompt string      `yaml:"system_prompt"`
	Language     string      `yaml:"language"`
	Voice        VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice.
type VoiceConfig struct {
	// Provider is the TTS provider the voice ID belongs to.
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// GatewayConfig holds limits of the gateway endpoints.
type GatewayConfig struct {
	// MaxUploadBytes is the largest accepted recording. Default: 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// MaxOutputTokens caps each completion and is reserved out of the
	// context window when trimming history. Default: 512.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// AssistantConfig holds the client-side settings.
type AssistantConfig struct {
	// GatewayURL is the base URL of the gateway.
	GatewayURL string `yaml:"gateway_url"`

	// Threshold is the peak amplitude that counts as speech. Default: 0.1.
	Threshold float32 `yaml:"threshold"`

	// MaxUploadBytes is the largest recording sent for transcription.
	MaxUploadBytes int `yaml:"max_upload_bytes"`

	// Encodings is the capture encoding preference list.
	Encodings []string `yaml:"encodings"`

	// SampleRate is the microphone and speaker rate. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// PresenceAddr is where the presence websocket is served. "-" disables it.
	PresenceAddr string `yaml:"presence_addr"`

	// TickInterval is the speech monitor period. Default: 16ms.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Gateway.MaxUploadBytes == 0 {
		c.Gateway.MaxUploadBytes = recognition.DefaultMaxUploadBytes
	}
	if c.Gateway.MaxOutputTokens == 0 {
		c.Gateway.MaxOutputTokens = DefaultMaxOutputTokens
	}

	a := &c.Assistant
	if a.GatewayURL == "" {
		a.GatewayURL = DefaultGatewayURL
	}
	if a.Threshold == 0 {
		a.Threshold = speech.DefaultThreshold
	}
	if a.MaxUploadBytes == 0 {
		a.MaxUploadBytes = recognition.DefaultMaxUploadBytes
	}
	if len(a.Encodings) == 0 {
		a.Encodings = append([]string(nil), encode.DefaultPreferences...)
	}
	if a.SampleRate == 0 {
		a.SampleRate = audio.DefaultFormat.SampleRate
	}
	if a.PresenceAddr == "" {
		a.PresenceAddr = DefaultPresenceAddr
	}
	if a.TickInterval == 0 {
		a.TickInterval = speech.DefaultTickInterval
	}
}
