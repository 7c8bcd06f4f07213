// Package gateway serves the two HTTP endpoints the assistant talks to:
// transcription of a recording and a spoken dialogue reply.
//
//	POST /api/v1/transcribe   multipart "file" → {"transcription": text}
//	POST /api/v1/tts          {"prompt", "history"} → {"text", "audio"}
//
// Every failure is answered with {"error": message}. The provider work is
// delegated to an [engine.Engine].
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/chatterbox/internal/engine"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	"github.com/MrWong99/chatterbox/pkg/types"
)

const (
	// DefaultMaxUploadBytes is the largest accepted recording.
	DefaultMaxUploadBytes = 25 << 20

	// multipartOverhead is the slack allowed on top of the upload limit for
	// multipart boundaries and headers.
	multipartOverhead = 1 << 20

	// maxPromptBody bounds the JSON body of a dialogue request.
	maxPromptBody = 4 << 20
)

// User-visible error messages.
const (
	msgInvalidAudio  = "Invalid or empty audio file"
	msgMissingPrompt = "Missing prompt"
	msgMissingText   = "Missing text"
	msgInvalidBody   = "Invalid request body"
)

// Server implements the gateway endpoints.
type Server struct {
	engine    engine.Engine
	maxUpload int64
	metrics   *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMaxUploadBytes sets the recording size limit.
// Default: [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithMetrics wraps the routes in [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server answering with e.
func New(e engine.Engine, opts ...Option) *Server {
	s := &Server{engine: e, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/v1/tts", s.handleTTS)
}

// Handler returns mux wrapped in the observability middleware when metrics
// are configured.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

type ttsRequest struct {
	Prompt  string       `json:"prompt"`
	History []types.Turn `json:"history"`
}

type ttsResponse struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, s.tooLargeMessage())
			return
		}
		log.Debug("gateway: no audio file", "err", err)
		writeError(w, http.StatusBadRequest, msgInvalidAudio)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if header.Size == 0 || !strings.HasPrefix(contentType, "audio/") {
		writeError(w, http.StatusBadRequest, msgInvalidAudio)
		return
	}
	if header.Size > s.maxUpload {
		writeError(w, http.StatusBadRequest, s.tooLargeMessage())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidAudio)
		return
	}

	text, err := s.engine.Transcribe(r.Context(), stt.Request{
		Audio:       data,
		ContentType: contentType,
		Filename:    header.Filename,
	})
	if err != nil {
		log.Error("gateway: transcription failed", "err", err, "bytes", len(data), "content_type", contentType)
		writeError(w, http.StatusInternalServerError, "Failed to transcribe audio: "+err.Error())
		return
	}
	log.Info("gateway: transcribed", "bytes", len(data), "chars", len(text))
	writeJSON(w, http.StatusOK, transcribeResponse{Transcription: text})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var req ttsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPromptBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	for _, turn := range req.History {
		if !turn.Valid() {
			writeError(w, http.StatusBadRequest, msgInvalidBody)
			return
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, msgMissingPrompt)
		return
	}

	reply, err := s.engine.Respond(r.Context(), engine.Request{
		Prompt:  req.Prompt,
		History: req.History,
	})
	switch {
	case errors.Is(err, engine.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, msgMissingPrompt)
		return
	case errors.Is(err, engine.ErrEmptyReply):
		writeError(w, http.StatusBadRequest, msgMissingText)
		return
	case err != nil:
		log.Error("gateway: reply failed", "err", err, "history", len(req.History))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if reply.DroppedTurns > 0 {
		log.Info("gateway: history trimmed", "dropped_turns", reply.DroppedTurns)
	}
	log.Info("gateway: replied",
		"chars", len(reply.Text),
		"audio_bytes", len(reply.Audio),
		"prompt_tokens", reply.Usage.PromptTokens,
		"completion_tokens", reply.Usage.CompletionTokens,
	)
	writeJSON(w, http.StatusOK, ttsResponse{
		Text:  reply.Text,
		Audio: base64.StdEncoding.EncodeToString(reply.Audio),
	})
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("Audio file exceeds %dMB limit", s.maxUpload>>20)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: write response", "err", err)
	}
}
