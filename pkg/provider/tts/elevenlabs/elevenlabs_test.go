package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// fakeStreamServer accepts the stream-input WebSocket, records every text
// message, and answers the flush with the given MP3 chunks.
type fakeStreamServer struct {
	*httptest.Server
	mu       sync.Mutex
	path     string
	query    string
	messages []textMessage
}

func newFakeStreamServer(t *testing.T, chunks ...[]byte) *fakeStreamServer {
	t.Helper()
	f := &fakeStreamServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/voices" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"voices":[{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
			return
		}
		f.mu.Lock()
		f.path, f.query = r.URL.Path, r.URL.RawQuery
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			f.mu.Lock()
			f.messages = append(f.messages, m)
			f.mu.Unlock()
			if m.Text != "" {
				continue
			}
			for i, c := range chunks {
				resp := audioResponse{Audio: base64.StdEncoding.EncodeToString(c), IsFinal: i == len(chunks)-1}
				b, _ := json.Marshal(resp)
				if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
					return
				}
			}
			if len(chunks) == 0 {
				b, _ := json.Marshal(audioResponse{IsFinal: true})
				_ = conn.Write(ctx, websocket.MessageText, b)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeStreamServer) provider(t *testing.T) *Provider {
	t.Helper()
	wsBase := "ws" + strings.TrimPrefix(f.URL, "http")
	p, err := New("key", WithBaseURLs(wsBase, f.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()

	srv := newFakeStreamServer(t, []byte("ID3"), []byte("frame1"), []byte("frame2"))
	p := srv.provider(t)

	speech, err := p.Synthesize(context.Background(), "Hi!", types.VoiceProfile{ID: "abc123"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio) != "ID3frame1frame2" {
		t.Errorf("audio = %q", speech.Audio)
	}
	if speech.ContentType != tts.ContentTypeMP3 {
		t.Errorf("content type = %q", speech.ContentType)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.path != "/v1/text-to-speech/abc123/stream-input" {
		t.Errorf("path = %q", srv.path)
	}
	if !strings.Contains(srv.query, "output_format=mp3_44100_128") || !strings.Contains(srv.query, "model_id=eleven_flash_v2_5") {
		t.Errorf("query = %q", srv.query)
	}
	if len(srv.messages) != 3 {
		t.Fatalf("messages = %d, want 3 (open, text, flush)", len(srv.messages))
	}
	if srv.messages[0].Text != " " || srv.messages[0].XiAPIKey != "key" || srv.messages[0].VoiceSettings == nil {
		t.Errorf("open message = %+v", srv.messages[0])
	}
	if srv.messages[1].Text != "Hi! " {
		t.Errorf("text message = %q", srv.messages[1].Text)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	srv := newFakeStreamServer(t, []byte("ID3"))
	if _, err := srv.provider(t).Synthesize(context.Background(), "Hi!", types.VoiceProfile{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if want := "/v1/text-to-speech/" + DefaultVoice + "/stream-input"; srv.path != want {
		t.Errorf("path = %q, want %q", srv.path, want)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	srv := newFakeStreamServer(t)
	_, err := srv.provider(t).Synthesize(context.Background(), "Hi!", types.VoiceProfile{ID: "abc123"})
	if !errors.Is(err, tts.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), " ", types.VoiceProfile{ID: "v"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := newFakeStreamServer(t)
	profiles, err := srv.provider(t).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	if profiles[0].ID != "abc123" || profiles[0].Provider != "elevenlabs" {
		t.Errorf("profile = %+v", profiles[0])
	}
	if profiles[0].Metadata["category"] != "premade" || profiles[0].Metadata["accent"] != "american" {
		t.Errorf("metadata = %v", profiles[0].Metadata)
	}
}

func TestToProfiles_NoCategory(t *testing.T) {
	t.Parallel()

	profiles := toProfiles([]elevenLabsVoice{{VoiceID: "x1", Name: "Ghost"}})
	if _, ok := profiles[0].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.outputFormat != defaultOutputFmt {
		t.Errorf("defaults = %q/%q", p.model, p.outputFormat)
	}
	if got := p.streamURL("v 1"); !strings.HasPrefix(got, "wss://api.elevenlabs.io/v1/text-to-speech/v%201/stream-input?") {
		t.Errorf("streamURL = %q", got)
	}
}
