// Package recognition uploads finished recordings to the transcription
// endpoint and returns the recognised text.
//
// Every error returned by [Client.Recognize] is a [*Failure], so callers can
// present a message without inspecting transport details.
package recognition

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

	"github.com/MrWong99/chatterbox/internal/speech"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
)

// DefaultMaxUploadBytes is the largest recording the client will send.
const DefaultMaxUploadBytes = 25 << 20

var (
	// ErrEmptyAudio is returned for zero-byte recordings. No request is made.
	ErrEmptyAudio = errors.New("recognition: empty audio")

	// ErrTooLarge is returned when a recording exceeds the upload ceiling.
	// No request is made.
	ErrTooLarge = errors.New("recognition: audio exceeds upload limit")

	// ErrMalformedResponse is returned when a 2xx response cannot be decoded.
	ErrMalformedResponse = errors.New("recognition: malformed response")
)

// Failure describes a failed recognition. Status is the HTTP status code, or
// zero when no response was received.
type Failure struct {
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("recognition: ")
	if f.Status != 0 {
		fmt.Fprintf(&b, "HTTP %d: ", f.Status)
	}
	b.WriteString(f.Message)
	if f.Err != nil && f.Message != f.Err.Error() {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// Client talks to a transcription endpoint. It is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxBytes   int
	field      string
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Default: 60 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithMaxUploadBytes sets the upload ceiling. Default: [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxBytes = n
		}
	}
}

// WithFieldName sets the multipart field carrying the audio. Default: "file".
func WithFieldName(name string) Option {
	return func(cl *Client) {
		if name != "" {
			cl.field = name
		}
	}
}

// New returns a client posting to endpoint, e.g.
// "http://localhost:8080/api/v1/transcribe".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBytes:   DefaultMaxUploadBytes,
		field:      "file",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Recognize uploads blob and returns the trimmed transcription.
func (c *Client) Recognize(ctx context.Context, blob speech.Blob) (string, error) {
	if len(blob.Data) == 0 {
		return "", &Failure{Message: "empty recording", Err: ErrEmptyAudio}
	}
	if len(blob.Data) > c.maxBytes {
		return "", &Failure{
			Message: fmt.Sprintf("recording is %d bytes, limit is %d", len(blob.Data), c.maxBytes),
			Err:     ErrTooLarge,
		}
	}

	body, contentType, err := c.encodeForm(blob)
	if err != nil {
		return "", &Failure{Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", &Failure{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Failure{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Failure{Status: resp.StatusCode, Message: "read response", Err: err}
	}

	var payload struct {
		Transcription *string `json:"transcription"`
		Error         string  `json:"error"`
	}
	jsonErr := json.Unmarshal(data, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if jsonErr == nil && payload.Error != "" {
			msg = payload.Error
		}
		return "", &Failure{Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil || payload.Transcription == nil {
		return "", &Failure{Status: resp.StatusCode, Message: "unexpected response body", Err: ErrMalformedResponse}
	}
	return strings.TrimSpace(*payload.Transcription), nil
}

func (c *Client) encodeForm(blob speech.Blob) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.field, "recording"+encode.Extension(blob.ContentType)))
	ct := blob.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
