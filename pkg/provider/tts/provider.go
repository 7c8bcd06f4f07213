// Package tts defines the Provider interface for text-to-speech backends.
//
// The gateway synthesises each assistant reply in full and returns the
// encoded audio to the client in one response, so providers return a
// complete audio file rather than a PCM stream. The assistant decodes MP3
// and WAV.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/chatterbox/pkg/types"
)

// Content types produced by providers.
const (
	ContentTypeMP3 = "audio/mpeg"
	ContentTypeWAV = "audio/wav"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesise.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrNoAudio is returned when a backend finished without producing audio.
	ErrNoAudio = errors.New("tts: no audio produced")
)

// Speech is a synthesised utterance.
type Speech struct {
	// Audio is the encoded audio file.
	Audio []byte

	// ContentType is the MIME type of Audio.
	ContentType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the encoded audio.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*Speech, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
