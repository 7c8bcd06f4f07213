package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PersonaChanged bool
	Persona        PersonaDiff

	// RestartRequired names the sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// PersonaDiff describes which persona fields changed.
type PersonaDiff struct {
	NameChanged     bool
	PromptChanged   bool
	LanguageChanged bool
	VoiceChanged    bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	p := PersonaDiff{
		NameChanged:     old.Persona.Name != new.Persona.Name,
		PromptChanged:   old.Persona.SystemPrompt != new.Persona.SystemPrompt,
		LanguageChanged: old.Persona.Language != new.Persona.Language,
		VoiceChanged:    old.Persona.Voice != new.Persona.Voice,
	}
	if p.NameChanged || p.PromptChanged || p.LanguageChanged || p.VoiceChanged {
		d.PersonaChanged = true
		d.Persona = p
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Gateway != new.Gateway {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	// Options may hold nested maps, which are not comparable with ==.
	if (len(a.Options) != 0 || len(b.Options) != 0) && !reflect.DeepEqual(a.Options, b.Options) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
