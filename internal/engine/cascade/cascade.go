// Package cascade implements [engine.Engine] as a cascade of three separate
// providers: speech-to-text for uploads, then an LLM for the reply text, then
// text-to-speech for the reply audio.
//
// # History budgeting
//
// Every completion is built as the persona's system prompt, the conversation
// history, and the user prompt, in that order. When the model reports a
// context window, the oldest history turns are dropped until the request
// plus the reserved output tokens fits, as counted by the provider's
// CountTokens. The system prompt and the user prompt are never dropped.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/chatterbox/internal/engine"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// defaultMaxOutputTokens is reserved for the reply when neither the options
// nor the model capabilities give a limit. Spoken replies are short.
const defaultMaxOutputTokens = 512

// ProviderNames labels the stage metrics.
type ProviderNames struct {
	STT, LLM, TTS string
}

// Engine implements [engine.Engine]. It is safe for concurrent use.
type Engine struct {
	sttP stt.Provider
	llmP llm.Provider
	ttsP tts.Provider

	maxOutputTokens int
	temperature     float64
	metrics         *observe.Metrics
	names           ProviderNames

	mu      sync.RWMutex
	persona engine.Persona
}

var _ engine.Engine = (*Engine)(nil)

// Option is a functional option for [New].
type Option func(*Engine)

// WithMaxOutputTokens caps the reply length and sets how many tokens of the
// context window are reserved for it.
func WithMaxOutputTokens(n int) Option {
	return func(e *Engine) { e.maxOutputTokens = n }
}

// WithTemperature sets the completion temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithMetrics records per-stage latency and request counters.
func WithMetrics(m *observe.Metrics, names ProviderNames) Option {
	return func(e *Engine) {
		e.metrics = m
		e.names = names
	}
}

// New constructs an Engine. sttP may be nil when the engine is only used for
// replies; Transcribe then returns an error.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, persona engine.Persona, opts ...Option) *Engine {
	e := &Engine{
		sttP:    sttP,
		llmP:    llmP,
		ttsP:    ttsP,
		persona: persona,
		names:   ProviderNames{STT: "stt", LLM: "llm", TTS: "tts"},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Persona returns the active persona.
func (e *Engine) Persona() engine.Persona {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.persona
}

// SetPersona replaces the persona for subsequent calls. In-flight calls keep
// the persona they started with.
func (e *Engine) SetPersona(p engine.Persona) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persona = p
}

// Transcribe sends one recording to the STT provider. An empty
// req.Language is filled from the persona.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (text string, err error) {
	if e.sttP == nil {
		return "", fmt.Errorf("cascade: no STT provider configured")
	}
	if req.Language == "" {
		req.Language = e.Persona().Language
	}
	ctx, span := observe.StartStage(ctx, "stt", e.names.STT)
	defer observe.EndSpan(span, &err)
	if e.metrics != nil {
		defer e.metrics.ObserveStage(ctx, e.metrics.STTDuration, e.names.STT, "stt", time.Now(), &err)
	}

	tr, err := e.sttP.Transcribe(ctx, req)
	if err != nil {
		return "", fmt.Errorf("cascade: transcription: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

// Respond completes req against the persona and synthesizes the reply.
func (e *Engine) Respond(ctx context.Context, req engine.Request) (*engine.Reply, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, engine.ErrEmptyPrompt
	}
	persona := e.Persona()
	log := observe.Logger(ctx)

	history, dropped := e.fitHistory(log, persona.SystemPrompt, req.History, prompt)
	if dropped > 0 {
		log.Debug("history trimmed to fit context window",
			"persona", persona.Name,
			"dropped_turns", dropped,
			"kept_turns", len(history),
		)
	}

	resp, err := e.complete(ctx, llm.CompletionRequest{
		SystemPrompt: persona.SystemPrompt,
		Messages:     buildMessages(history, prompt),
		Temperature:  e.temperature,
		MaxTokens:    e.maxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
		if resp.Truncated {
			log.Warn("reply hit the token limit", "provider", e.names.LLM, "max_tokens", e.maxOutputTokens)
		}
	}
	if text == "" {
		return nil, engine.ErrEmptyReply
	}

	speech, err := e.synthesize(ctx, text, persona.Voice)
	if err != nil {
		return nil, err
	}

	return &engine.Reply{
		Text:         text,
		Audio:        speech.Audio,
		ContentType:  speech.ContentType,
		Usage:        resp.Usage,
		DroppedTurns: dropped,
	}, nil
}

func (e *Engine) complete(ctx context.Context, req llm.CompletionRequest) (resp *llm.CompletionResponse, err error) {
	ctx, span := observe.StartStage(ctx, "llm", e.names.LLM)
	defer observe.EndSpan(span, &err)
	if e.metrics != nil {
		defer e.metrics.ObserveStage(ctx, e.metrics.LLMDuration, e.names.LLM, "llm", time.Now(), &err)
	}
	resp, err = e.llmP.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cascade: completion: %w", err)
	}
	return resp, nil
}

func (e *Engine) synthesize(ctx context.Context, text string, voice types.VoiceProfile) (speech *tts.Speech, err error) {
	ctx, span := observe.StartStage(ctx, "tts", e.names.TTS)
	defer observe.EndSpan(span, &err)
	if e.metrics != nil {
		defer e.metrics.ObserveStage(ctx, e.metrics.TTSDuration, e.names.TTS, "tts", time.Now(), &err)
	}
	speech, err = e.ttsP.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("cascade: synthesis: %w", err)
	}
	if len(speech.Audio) == 0 {
		return nil, fmt.Errorf("cascade: synthesis: %w", tts.ErrNoAudio)
	}
	return speech, nil
}

// fitHistory drops the oldest turns until the full request fits the token
// budget. It returns the kept suffix of history and the number dropped. A
// counting failure keeps the whole history and is logged.
func (e *Engine) fitHistory(log *slog.Logger, system string, history []types.Turn, prompt string) ([]types.Turn, int) {
	caps := e.llmP.Capabilities()
	if caps.ContextWindow <= 0 || len(history) == 0 {
		return history, 0
	}
	reserve := e.maxOutputTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	if reserve <= 0 {
		reserve = defaultMaxOutputTokens
	}
	budget := caps.ContextWindow - reserve

	dropped := 0
	for len(history) > 0 {
		msgs := buildMessages(history, prompt)
		if system != "" {
			msgs = append([]types.Message{{Role: types.RoleSystem, Content: system}}, msgs...)
		}
		n, err := e.llmP.CountTokens(msgs)
		if err != nil {
			log.Warn("token count failed, sending full history", "err", err)
			return history, dropped
		}
		if n <= budget {
			break
		}
		history = history[1:]
		dropped++
	}
	return history, dropped
}

// buildMessages renders history followed by the user prompt.
func buildMessages(history []types.Turn, prompt string) []types.Message {
	msgs := types.MessagesFromTurns(history)
	return append(msgs, types.Message{Role: types.RoleUser, Content: prompt})
}
