// Package openai provides an LLM provider backed by the OpenAI chat
// completions API, or any server that speaks the same protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// DefaultModel is used when the configuration names no model.
const DefaultModel = "gpt-4o-mini"

// catalogue lists the chat models the gateway is expected to meet.
var catalogue = llm.Catalogue{
	Fallback: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096},
	Entries: []llm.Limits{
		llm.Model("gpt-4o", 128_000, 16_384),
		llm.Model("gpt-4.1", 1_047_576, 32_768),
		llm.Model("gpt-4-turbo", 128_000, 4_096),
		llm.Model("gpt-4", 8_192, 4_096),
		llm.Model("gpt-3.5-turbo", 16_385, 4_096),
		llm.Model("o1-mini", 128_000, 65_536),
		llm.Model("o1", 200_000, 100_000),
		llm.Model("o3", 200_000, 100_000),
		llm.Model("o4", 200_000, 100_000),
	},
}

// Provider implements llm.Provider over an OpenAI-compatible endpoint.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	requestOpts []option.RequestOption
}

// Option is a functional option for Provider.
type Option func(*settings)

// WithBaseURL points the client at a compatible server, such as a local
// vLLM or LM Studio instance.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.requestOpts = append(s.requestOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.requestOpts = append(s.requestOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request. Zero or negative is ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.requestOpts = append(s.requestOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithMaxRetries sets the SDK's retry budget. Negative keeps the SDK default.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.requestOpts = append(s.requestOpts, option.WithMaxRetries(n))
		}
	}
}

// New returns a Provider that completes with model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}
	s := settings{requestOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}
	return &Provider{client: oai.NewClient(s.requestOpts...), model: model}, nil
}

// Complete implements llm.Provider. API errors keep their status code in
// the message so the fallback logs show what the server said.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: chat completion (status %d): %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	}

	return &llm.CompletionResponse{
		Content:   choice.Message.Content,
		Truncated: choice.FinishReason == "length",
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return catalogue.Lookup(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	history := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		history = append(history, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			history = append(history, oai.SystemMessage(m.Content))
		case types.RoleUser:
			history = append(history, oai.UserMessage(m.Content))
		case types.RoleAssistant:
			reply := oai.AssistantMessage(m.Content)
			if m.Name != "" {
				reply.OfAssistant.Name = oai.String(m.Name)
			}
			history = append(history, reply)
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d has unsupported role %q", i, m.Role)
		}
	}
	if len(history) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: request has no messages")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: history,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}
