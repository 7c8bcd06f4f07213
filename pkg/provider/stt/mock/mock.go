// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello there"}
//	t, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chatterbox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text.
	Text string

	// Err, if non-nil, is returned instead of a transcript.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text or Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	audio := make([]byte, len(req.Audio))
	copy(audio, req.Audio)
	req.Audio = audio
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	return &stt.Transcript{Text: p.Text, Language: req.Language}, nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or the zero Request.
func (p *Provider) LastRequest() stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return stt.Request{}
	}
	return p.Calls[len(p.Calls)-1].Req
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
