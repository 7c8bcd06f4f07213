// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// The provider POSTs each recording to the server's /inference endpoint as
// multipart/form-data. The server must be started with --convert (ffmpeg) to
// accept containers other than 16 kHz WAV, such as the Ogg/Opus recordings
// the assistant uploads.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, stt.Request{Audio: data, ContentType: "audio/ogg"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/chatterbox/pkg/provider/stt"
)

const defaultLanguage = "en"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the server when the
// request carries none. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. Default: 60 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that talks to the whisper.cpp server at serverURL
// (e.g. "http://localhost:8081").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, stt.FilenameFor(req)))
	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", req.Prompt},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	jsonErr := json.Unmarshal(data, &result)

	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && result.Error != "" {
			return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", jsonErr)
	}
	return &stt.Transcript{Text: strings.TrimSpace(result.Text), Language: lang}, nil
}
