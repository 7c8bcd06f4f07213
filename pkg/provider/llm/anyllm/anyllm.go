// Package anyllm adapts github.com/mozilla-ai/any-llm-go to llm.Provider,
// which gives the gateway Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq
// and local llama.cpp servers behind one configuration entry.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llama3.2")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/types"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// adapt lifts a concrete backend constructor to the common signature.
func adapt[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]constructor{
	"anthropic": adapt(anthropic.New),
	"deepseek":  adapt(deepseek.New),
	"gemini":    adapt(gemini.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
	"mistral":   adapt(mistral.New),
	"ollama":    adapt(ollama.New),
	"openai":    adapt(anyllmoai.New),
}

// Local models report their own limits; the fallback is a conservative
// 128k window.
var catalogue = llm.Catalogue{
	Fallback: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096},
	Entries: []llm.Limits{
		llm.Model("gpt-4o", 128_000, 16_384),
		llm.Model("gpt-4-turbo", 128_000, 4_096),
		llm.Model("gpt-4", 8_192, 4_096),
		llm.Model("gpt-3.5-turbo", 16_385, 4_096),
		llm.Model("claude-3-opus", 200_000, 4_096),
		llm.Model("claude", 200_000, 8_192),
		llm.Model("gemini-1.5-pro", 2_097_152, 8_192),
		llm.Model("gemini-1.5-flash", 1_048_576, 8_192),
		llm.Model("gemini-2", 1_048_576, 8_192),
		llm.Model("gemini", 128_000, 8_192),
		llm.Model("deepseek", 64_000, 8_192),
		llm.Model("mistral-large", 128_000, 4_096),
	},
}

// Provider implements llm.Provider on an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider for the named backend, one of [Backends]. Without
// an API key option the backend reads its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backend == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(backend)
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}
	b, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Backends lists the names accepted by New, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 && req.SystemPrompt == "" {
		return nil, errors.New("anyllm: request has no messages")
	}
	completion, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	choice := completion.Choices[0]
	out := &llm.CompletionResponse{
		Content:   choice.Message.ContentString(),
		Truncated: choice.FinishReason == "length",
	}
	if u := completion.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return catalogue.Lookup(p.model)
}

// buildParams maps a request onto any-llm's OpenAI-shaped parameters. Roles
// share the same spelling on both sides.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}
