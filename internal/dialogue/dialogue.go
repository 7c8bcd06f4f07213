// Package dialogue sends the user's prompt and the conversation so far to the
// reply endpoint and returns the assistant's text and speech.
//
// The wire format is JSON both ways: the request is {"prompt", "history"}
// and a successful response is {"text", "audio"} with audio base64-encoded.
package dialogue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/chatterbox/pkg/types"
)

// maxResponseBytes bounds the reply body. Base64 speech for a few sentences
// is well under this.
const maxResponseBytes = 32 << 20

var (
	// ErrNoAudio is returned when the reply carries no audio.
	ErrNoAudio = errors.New("dialogue: reply has no audio")

	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("dialogue: malformed response")
)

// Error describes a failed dialogue request. Status is zero when no HTTP
// response was received.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dialogue: ")
	if e.Status != 0 {
		fmt.Fprintf(&b, "HTTP %d: ", e.Status)
	}
	b.WriteString(e.Message)
	if e.Err != nil && e.Message != e.Err.Error() {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Reply is the assistant's answer to one prompt.
type Reply struct {
	Text  string
	Audio []byte
}

// Client talks to the reply endpoint. It is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Default: 90 s timeout, which
// covers a completion plus synthesis.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// New returns a client posting to endpoint, e.g.
// "http://localhost:8080/api/v1/tts".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type request struct {
	Prompt  string       `json:"prompt"`
	History []types.Turn `json:"history"`
}

type response struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
	Error string `json:"error"`
}

// Respond posts prompt with history, oldest first, excluding prompt itself.
func (c *Client) Respond(ctx context.Context, prompt string, history []types.Turn) (Reply, error) {
	if history == nil {
		history = []types.Turn{}
	}
	body, err := json.Marshal(request{Prompt: prompt, History: history})
	if err != nil {
		return Reply{}, &Error{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &Error{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, &Error{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{}, &Error{Status: resp.StatusCode, Message: "read response", Err: err}
	}

	var payload response
	jsonErr := json.Unmarshal(data, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if jsonErr == nil && payload.Error != "" {
			msg = payload.Error
		}
		return Reply{}, &Error{Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return Reply{}, &Error{Status: resp.StatusCode, Message: "unexpected response body", Err: ErrMalformedResponse}
	}
	if payload.Audio == "" {
		return Reply{}, &Error{Status: resp.StatusCode, Message: "no audio in reply", Err: ErrNoAudio}
	}
	audio, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		return Reply{}, &Error{Status: resp.StatusCode, Message: "invalid audio encoding", Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
	}
	if len(audio) == 0 {
		return Reply{}, &Error{Status: resp.StatusCode, Message: "no audio in reply", Err: ErrNoAudio}
	}
	return Reply{Text: payload.Text, Audio: audio}, nil
}
