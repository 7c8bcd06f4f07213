// Package llm defines the Provider interface for chat-completion backends.
//
// The gateway uses an LLM provider to turn a prompt plus conversation history
// into the assistant's reply text. Implementations wrap a remote API (OpenAI,
// Anthropic through any-llm, a local Ollama) behind this one shape.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"strings"

	"github.com/MrWong99/chatterbox/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// SystemPrompt is prepended as a "system"-role message when non-empty.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage

	// Truncated is set when the model stopped at the token limit rather than
	// at a natural end of its reply.
	Truncated bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. It should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens is the character-based approximation shared by providers
// without a tokeniser: roughly four characters per token plus a fixed
// per-message overhead for role and framing.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// Limits pairs a model name prefix with its capabilities.
type Limits struct {
	Prefix string
	Caps   types.ModelCapabilities
}

// Model is shorthand for a [Limits] entry.
func Model(prefix string, contextWindow, maxOutput int) Limits {
	return Limits{Prefix: prefix, Caps: types.ModelCapabilities{ContextWindow: contextWindow, MaxOutputTokens: maxOutput}}
}

// Catalogue resolves model names to capabilities by prefix. Entries are
// matched in order, so more specific prefixes must come first.
type Catalogue struct {
	Fallback types.ModelCapabilities
	Entries  []Limits
}

// Lookup returns the capabilities of the first entry whose prefix matches
// model, case-insensitively, or the fallback.
func (c Catalogue) Lookup(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, e := range c.Entries {
		if strings.HasPrefix(lower, e.Prefix) {
			return e.Caps
		}
	}
	return c.Fallback
}
