package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chatterbox/internal/app"
	"github.com/MrWong99/chatterbox/internal/capture"
	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/engine"
	enginemock "github.com/MrWong99/chatterbox/internal/engine/mock"
	"github.com/MrWong99/chatterbox/internal/resilience"
	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
	audiomock "github.com/MrWong99/chatterbox/pkg/audio/mock"
	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	llmmock "github.com/MrWong99/chatterbox/pkg/provider/llm/mock"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	sttmock "github.com/MrWong99/chatterbox/pkg/provider/stt/mock"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/chatterbox/pkg/provider/tts/mock"
)

// testConfig returns a defaulted config for tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─── Providers ────────────────────────────────────────────────────────────────

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}, nil
	})
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("bad credentials")
	})
	reg.RegisterSTT("primary", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: "hello"}, nil
	})
	reg.RegisterTTS("primary", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.LLM = config.ProviderEntry{
		Name: "primary",
		Fallbacks: []config.ProviderEntry{
			{Name: "backup"},
			{Name: "broken"},
			{Name: "missing"},
		},
	}
	cfg.Providers.STT = config.ProviderEntry{Name: "primary"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "nobody-registered-this"}

	ps, err := app.BuildProviders(cfg, testRegistry(), resilience.FallbackConfig{})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if _, ok := ps.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT = %T, want the bare mock", ps.STT)
	}
	if ps.TTS != nil {
		t.Errorf("TTS = %T, want nil for an unregistered name", ps.TTS)
	}

	got := ps.Configured()
	want := map[string]bool{"llm": true, "stt": true, "tts": false}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Configured()[%q] = %v, want %v", k, got[k], v)
		}
	}
	if ps.Names.LLM != "primary" {
		t.Errorf("Names.LLM = %q, want primary", ps.Names.LLM)
	}
}

func TestBuildProviders_PrimaryError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.LLM = config.ProviderEntry{Name: "broken"}
	if _, err := app.BuildProviders(cfg, testRegistry(), resilience.FallbackConfig{}); err == nil {
		t.Fatal("BuildProviders: want error for a failing primary")
	}
}

func TestPersonaFromConfig(t *testing.T) {
	t.Parallel()

	def := engine.DefaultPersona()

	p := app.PersonaFromConfig(config.PersonaConfig{})
	if p.Name != def.Name || p.SystemPrompt != def.SystemPrompt || p.Language != def.Language {
		t.Errorf("empty config persona = %+v, want the defaults", p)
	}

	p = app.PersonaFromConfig(config.PersonaConfig{
		Name:  "Pip",
		Voice: config.VoiceConfig{Provider: "elevenlabs", VoiceID: "v1", SpeedFactor: 1.2},
	})
	if p.Name != "Pip" {
		t.Errorf("Name = %q, want Pip", p.Name)
	}
	if p.SystemPrompt != def.SystemPrompt {
		t.Error("SystemPrompt should keep the default")
	}
	if p.Voice.ID != "v1" || p.Voice.Provider != "elevenlabs" || p.Voice.SpeedFactor != 1.2 {
		t.Errorf("Voice = %+v", p.Voice)
	}
}

// ─── Gateway ──────────────────────────────────────────────────────────────────

func TestGateway_ReadyzReportsMissingProviders(t *testing.T) {
	t.Parallel()

	g, err := app.NewGateway(testConfig(t), &app.Providers{LLM: &llmmock.Provider{}},
		app.WithEngine(&enginemock.Engine{}))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stt") {
		t.Errorf("readyz body %q does not name the missing stage", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestGateway_ApplyConfig(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{}
	level := new(slog.LevelVar)
	old := testConfig(t)
	g, err := app.NewGateway(old, nil, app.WithEngine(eng), app.WithLevelVar(level))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	updated := testConfig(t)
	updated.Server.LogLevel = config.LogDebug
	updated.Persona.Name = "Pip"
	updated.Server.ListenAddr = ":9999"
	g.ApplyConfig(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := eng.Persona().Name; got != "Pip" {
		t.Errorf("persona name = %q, want Pip", got)
	}
}

func TestGateway_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	g, err := app.NewGateway(testConfig(t), nil,
		app.WithEngine(&enginemock.Engine{}), app.WithListener(ln))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	waitFor(t, "gateway to serve", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// ─── Assistant ────────────────────────────────────────────────────────────────

// toneWAV encodes d of a 440 Hz tone as WAV.
func toneWAV(t *testing.T, rate int, d time.Duration) []byte {
	t.Helper()
	f := audio.Format{SampleRate: rate, Channels: 1}
	enc, err := encode.NewWAV(f)
	if err != nil {
		t.Fatalf("NewWAV: %v", err)
	}
	samples := make([]float32, int(d.Seconds()*float64(rate)))
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if _, err := enc.Write(audio.Frame{Samples: samples, SampleRate: rate, Channels: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := enc.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	return data
}

func toneFrame(amp float32) audio.Frame {
	const rate, size = 48000, 960
	s := make([]float32, size)
	for i := range s {
		s[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return audio.Frame{Samples: s, SampleRate: rate, Channels: 1}
}

// assistantFixture runs a real gateway over a mock engine and points an
// assistant with mock devices at it.
type assistantFixture struct {
	eng *enginemock.Engine
	in  *audiomock.InputDevice
	out *audiomock.OutputDevice
	a   *app.Assistant

	mu     sync.Mutex
	errors []string
	states []character.State
}

func newAssistantFixture(t *testing.T, opts ...app.AssistantOption) *assistantFixture {
	t.Helper()
	f := &assistantFixture{
		eng: &enginemock.Engine{
			TranscribeResult: "what's up?",
			RespondResult: &engine.Reply{
				Text:        "Not much.",
				Audio:       toneWAV(t, 48000, 50*time.Millisecond),
				ContentType: "audio/wav",
			},
		},
		in:  &audiomock.InputDevice{},
		out: &audiomock.OutputDevice{AutoDrain: true},
	}

	g, err := app.NewGateway(testConfig(t), nil, app.WithEngine(f.eng))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Assistant.GatewayURL = srv.URL
	cfg.Assistant.Encodings = []string{encode.ContentTypeWAV}
	cfg.Assistant.TickInterval = time.Millisecond
	cfg.Assistant.PresenceAddr = "-"

	opts = append([]app.AssistantOption{
		app.WithErrorFunc(func(msg string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.errors = append(f.errors, msg)
		}),
		app.WithTransitionFunc(func(s character.Snapshot) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.states = append(f.states, s.State)
		}),
	}, opts...)
	f.a, err = app.NewAssistant(cfg, f.in, f.out, opts...)
	if err != nil {
		t.Fatalf("NewAssistant: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.a.Shutdown(ctx)
	})
	return f
}

func (f *assistantFixture) sawState(s character.State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.states {
		if got == s {
			return true
		}
	}
	return false
}

// speak pushes tone frames until the presence level shows the microphone
// heard them.
func (f *assistantFixture) speak(t *testing.T) {
	t.Helper()
	waitFor(t, "microphone stream", func() bool { return f.in.Stream() != nil })
	waitFor(t, "speech level", func() bool {
		f.in.Stream().Push(toneFrame(0.6))
		return f.a.Presence().Current().Level > 0.3
	})
}

func TestAssistant_FullTurn(t *testing.T) {
	t.Parallel()

	f := newAssistantFixture(t)
	ctx := context.Background()

	if err := f.a.Press(ctx); err != nil {
		t.Fatalf("first Press: %v", err)
	}
	if got := f.a.Machine().State(); got != character.Listening {
		t.Fatalf("state after first press = %v, want listening", got)
	}
	f.speak(t)

	if err := f.a.Press(ctx); err != nil {
		t.Fatalf("second Press: %v", err)
	}
	f.a.Orchestrator().Wait()
	waitFor(t, "idle", func() bool { return f.a.Machine().State() == character.Idle })

	if !f.sawState(character.Speaking) {
		t.Error("never reached speaking")
	}
	if msg := f.a.Orchestrator().ErrorMessage(); msg != "" {
		t.Errorf("ErrorMessage = %q, want empty", msg)
	}

	uploads := f.eng.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploads))
	}
	if !strings.HasPrefix(uploads[0].ContentType, "audio/wav") {
		t.Errorf("upload content type = %q, want audio/wav", uploads[0].ContentType)
	}
	reqs := f.eng.Requests()
	if len(reqs) != 1 || reqs[0].Prompt != "what's up?" {
		t.Fatalf("requests = %+v, want one with the transcript", reqs)
	}

	hist := f.a.Orchestrator().History().Snapshot()
	if len(hist) != 2 {
		t.Fatalf("history = %+v, want user and assistant turns", hist)
	}
	if hist[1].Content != "Not much." {
		t.Errorf("assistant turn = %q", hist[1].Content)
	}
}

func TestAssistant_SilenceIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newAssistantFixture(t)
	ctx := context.Background()

	if err := f.a.Press(ctx); err != nil {
		t.Fatalf("first Press: %v", err)
	}
	waitFor(t, "microphone stream", func() bool { return f.in.Stream() != nil })
	f.in.Stream().Push(toneFrame(0.01), toneFrame(0.01))
	time.Sleep(20 * time.Millisecond)

	if err := f.a.Press(ctx); err != nil {
		t.Fatalf("second Press: %v", err)
	}
	if got := f.a.Machine().State(); got != character.Idle {
		t.Fatalf("state = %v, want idle", got)
	}
	if n := len(f.eng.Uploads()); n != 0 {
		t.Errorf("uploads = %d, want 0 for silence", n)
	}
}

func TestAssistant_MicrophoneUnavailable(t *testing.T) {
	t.Parallel()

	f := newAssistantFixture(t)
	f.in.OpenError = errors.New("device busy")

	err := f.a.Press(context.Background())
	if !errors.Is(err, capture.ErrNoInputDevice) {
		t.Fatalf("Press error = %v, want ErrNoInputDevice", err)
	}
	if got := f.a.Machine().State(); got != character.Idle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestAssistant_RunReportsGatewayFailure(t *testing.T) {
	t.Parallel()

	f := newAssistantFixture(t)
	f.eng.TranscribeError = errors.New("upstream down")

	ctx, cancel := context.WithCancel(context.Background())
	presses := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx, presses) }()

	presses <- struct{}{}
	waitFor(t, "listening", func() bool { return f.a.Machine().State() == character.Listening })
	f.speak(t)
	presses <- struct{}{}

	waitFor(t, "error report", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.errors) > 0
	})
	f.mu.Lock()
	msg := f.errors[0]
	f.mu.Unlock()
	if msg == "" {
		t.Error("reported an empty message")
	}
	if f.sawState(character.Speaking) {
		t.Error("reached speaking despite the failure")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAssistant_PresenceServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	f := newAssistantFixture(t, app.WithPresenceListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx, nil) }()

	url := "http://" + ln.Addr().String() + "/readyz"
	waitFor(t, "presence server", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewAssistant_NoEncoding(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Assistant.Encodings = []string{"audio/flac"}
	_, err := app.NewAssistant(cfg, &audiomock.InputDevice{}, &audiomock.OutputDevice{})
	if err == nil {
		t.Fatal("NewAssistant: want error when no encoding is available")
	}
}

func TestNewAssistant_NeedsDevices(t *testing.T) {
	t.Parallel()

	if _, err := app.NewAssistant(testConfig(t), nil, &audiomock.OutputDevice{}); err == nil {
		t.Fatal("NewAssistant: want error without an input device")
	}
}
