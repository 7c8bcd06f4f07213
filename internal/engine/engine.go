// Package engine defines the reply pipeline behind the gateway.
//
// An [Engine] turns an uploaded recording into text ([Engine.Transcribe]) and
// a user prompt plus conversation history into the assistant's spoken reply
// ([Engine.Respond]): the reply text and the synthesized audio of that text.
// The persona that shapes replies can be swapped at runtime through
// [Engine.SetPersona] so configuration reloads do not rebuild providers.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic.
package engine

import (
	"context"
	"errors"

	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/types"
)

var (
	// ErrEmptyPrompt is returned by Respond when the prompt is blank.
	ErrEmptyPrompt = errors.New("engine: empty prompt")

	// ErrEmptyReply is returned by Respond when the model produced no text,
	// so there is nothing to synthesize.
	ErrEmptyReply = errors.New("engine: empty reply")
)

// Persona is the character the assistant plays.
type Persona struct {
	// Name is used in logs only; the model learns it from SystemPrompt.
	Name string

	// SystemPrompt is sent as the first message of every completion.
	SystemPrompt string

	// Language is the ISO-639-1 hint passed to transcription.
	Language string

	// Voice selects the synthesis voice.
	Voice types.VoiceProfile
}

// DefaultSystemPrompt is the persona prompt used when configuration does not
// provide one.
const DefaultSystemPrompt = "You only speak English. You are Bo, a 6-year-old adventurous dog with a passion for open-source software. " +
	"You're full of energy, always curious, and love to chat about your adventures and the cool open-source projects you sniff out. " +
	"Keep your answers friendly and playful. " +
	"Formulate your responses optimized for spoken conversations, avoiding things like parentheses, emojis, or overly long responses that could bore the user."

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	return Persona{
		Name:         "Bo",
		SystemPrompt: DefaultSystemPrompt,
		Language:     "en",
	}
}

// Request is one dialogue turn submitted to [Engine.Respond].
type Request struct {
	// Prompt is the user's transcribed utterance.
	Prompt string

	// History holds prior turns, oldest first, excluding Prompt.
	History []types.Turn
}

// Reply is the result of [Engine.Respond].
type Reply struct {
	// Text is the assistant's reply.
	Text string

	// Audio is the encoded speech for Text.
	Audio []byte

	// ContentType is the MIME type of Audio.
	ContentType string

	// Usage is the token accounting of the completion.
	Usage llm.Usage

	// DroppedTurns is how many of the oldest history turns were left out to
	// fit the model's context window.
	DroppedTurns int
}

// Engine is the abstraction the gateway handlers call. Implementations must
// be safe for concurrent use.
type Engine interface {
	// Transcribe converts one recorded utterance to text.
	Transcribe(ctx context.Context, req stt.Request) (string, error)

	// Respond produces the persona's spoken reply to req.
	Respond(ctx context.Context, req Request) (*Reply, error)

	// Persona returns the active persona.
	Persona() Persona

	// SetPersona replaces the persona used by subsequent calls.
	SetPersona(p Persona)
}
