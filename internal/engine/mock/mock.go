// Package mock provides an in-memory implementation of [engine.Engine] for
// handler tests.
//
// The mock records every call and returns the values configured through its
// exported fields. It is safe for concurrent use.
//
// Example:
//
//	e := &mock.Engine{
//	    RespondResult: &engine.Reply{Text: "Woof!", Audio: []byte("ID3")},
//	}
//	reply, err := e.Respond(ctx, engine.Request{Prompt: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chatterbox/internal/engine"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
)

var _ engine.Engine = (*Engine)(nil)

// Engine is a mock implementation of [engine.Engine].
type Engine struct {
	mu sync.Mutex

	// TranscribeResult and TranscribeError are returned by Transcribe.
	TranscribeResult string
	TranscribeError  error

	// RespondResult and RespondError are returned by Respond. A nil result
	// with a nil error yields an empty reply.
	RespondResult *engine.Reply
	RespondError  error

	// PersonaValue is returned by Persona and replaced by SetPersona.
	PersonaValue engine.Persona

	// TranscribeCalls and RespondCalls record invocations in order.
	TranscribeCalls []stt.Request
	RespondCalls    []engine.Request
}

// Transcribe records req and returns the configured result.
func (e *Engine) Transcribe(_ context.Context, req stt.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req.Audio = append([]byte(nil), req.Audio...)
	e.TranscribeCalls = append(e.TranscribeCalls, req)
	return e.TranscribeResult, e.TranscribeError
}

// Respond records req and returns the configured reply.
func (e *Engine) Respond(_ context.Context, req engine.Request) (*engine.Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RespondCalls = append(e.RespondCalls, req)
	if e.RespondError != nil {
		return nil, e.RespondError
	}
	if e.RespondResult == nil {
		return &engine.Reply{}, nil
	}
	r := *e.RespondResult
	return &r, nil
}

// Persona returns PersonaValue.
func (e *Engine) Persona() engine.Persona {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.PersonaValue
}

// SetPersona stores p in PersonaValue.
func (e *Engine) SetPersona(p engine.Persona) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PersonaValue = p
}

// Requests returns a copy of the recorded Respond calls.
func (e *Engine) Requests() []engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Request, len(e.RespondCalls))
	copy(out, e.RespondCalls)
	return out
}

// Uploads returns a copy of the recorded Transcribe calls.
func (e *Engine) Uploads() []stt.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stt.Request, len(e.TranscribeCalls))
	copy(out, e.TranscribeCalls)
	return out
}
