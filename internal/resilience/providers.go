package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// STTFallback implements [stt.Provider] over a [FallbackGroup].
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback]. Empty audio is never retried.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, stt.ErrEmptyAudio) }
	}
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe sends req to the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLMFallback implements [llm.Provider] over a [FallbackGroup].
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete sends req to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's counter. Budgeting is sized for the
// primary, which is the model that normally answers.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

// Capabilities returns the smallest context window and output limit across
// all entries, so a budget computed from it fits whichever entry answers.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	caps := f.entries[0].value.Capabilities()
	for _, e := range f.entries[1:] {
		c := e.value.Capabilities()
		if c.ContextWindow > 0 && c.ContextWindow < caps.ContextWindow {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && c.MaxOutputTokens < caps.MaxOutputTokens {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}

// TTSFallback implements [tts.Provider] over a [FallbackGroup].
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback]. Empty text is never retried.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, tts.ErrEmptyText) }
	}
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize renders text on the first healthy provider.
//
// Voice IDs are provider specific. When the profile names a provider, every
// other entry receives the voice with its ID cleared and uses its default.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	return executeEntries(ctx, f.FallbackGroup, func(e *fallbackEntry[tts.Provider]) (*tts.Speech, error) {
		v := voice
		if voice.Provider != "" && voice.Provider != e.name {
			v.ID = ""
		}
		return e.value.Synthesize(ctx, text, v)
	})
}

// ListVoices returns the voices of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
