// Package types holds the data shared between the assistant client, the
// gateway and the provider packages.
//
// Only cross-cutting structures live here so that provider packages do not
// have to import each other.
package types

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one exchange entry in a conversation history. It is the element
// type of the dialogue wire format, so its JSON shape is part of the
// gateway contract.
type Turn struct {
	// Role is RoleUser or RoleAssistant.
	Role string `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// Valid reports whether the turn carries a conversation role. Histories
// never contain system turns; the system prompt is set by the engine.
func (t Turn) Valid() bool {
	return t.Role == RoleUser || t.Role == RoleAssistant
}

// Message is a single entry of an LLM request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// MessagesFromTurns converts a history into LLM messages, preserving order.
// Turns that are not Valid are dropped.
func MessagesFromTurns(turns []Turn) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, t := range turns {
		if !t.Valid() {
			continue
		}
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.25–4.0, 0 or 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}
