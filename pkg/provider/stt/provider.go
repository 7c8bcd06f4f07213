// Package stt defines the Provider interface for speech-to-text backends.
//
// The gateway receives a complete recording from the assistant and hands it
// to an STT provider in one request. Providers therefore work on whole
// encoded files (Ogg/Opus, WebM, WAV, MP3) rather than on PCM streams.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAudio is returned by providers when Request.Audio is empty.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one transcription call.
type Request struct {
	// Audio is the encoded recording.
	Audio []byte

	// ContentType is the MIME type of Audio, e.g. "audio/ogg;codecs=opus".
	ContentType string

	// Filename is forwarded to backends that infer the container from it.
	// When empty, providers derive one from ContentType.
	Filename string

	// Language is an optional ISO-639-1 hint such as "en" or "de". Empty
	// lets the backend auto-detect.
	Language string

	// Prompt is optional context that biases recognition, e.g. names.
	Prompt string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised speech. It may be empty for silent input.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the audio duration, when reported.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends req to the backend and waits for the transcript.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// FilenameFor returns req.Filename, or a name derived from ContentType.
func FilenameFor(req Request) string {
	if req.Filename != "" {
		return req.Filename
	}
	return "audio" + extension(req.ContentType)
}

func extension(contentType string) string {
	switch {
	case hasBase(contentType, "audio/ogg"):
		return ".ogg"
	case hasBase(contentType, "audio/webm"):
		return ".webm"
	case hasBase(contentType, "audio/wav"), hasBase(contentType, "audio/x-wav"), hasBase(contentType, "audio/wave"):
		return ".wav"
	case hasBase(contentType, "audio/mpeg"), hasBase(contentType, "audio/mp3"):
		return ".mp3"
	case hasBase(contentType, "audio/mp4"), hasBase(contentType, "audio/m4a"):
		return ".m4a"
	case hasBase(contentType, "audio/flac"):
		return ".flac"
	}
	return ".bin"
}

func hasBase(contentType, base string) bool {
	if len(contentType) < len(base) {
		return false
	}
	for i := 0; i < len(base); i++ {
		c := contentType[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != base[i] {
			return false
		}
	}
	return len(contentType) == len(base) || contentType[len(base)] == ';' || contentType[len(base)] == ' '
}
