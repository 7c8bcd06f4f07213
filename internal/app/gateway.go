// Package app wires the subsystems into the two running programs.
//
// [Gateway] serves the transcription and dialogue endpoints on top of the
// configured providers. [Assistant] runs the local voice loop: microphone,
// state machine, orchestrator, playback and the presence feed.
//
// Both own their full lifecycle: a constructor wires everything, Run blocks
// until the context ends, and Shutdown tears down in order. Tests inject
// doubles through functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/engine"
	"github.com/MrWong99/chatterbox/internal/engine/cascade"
	"github.com/MrWong99/chatterbox/internal/gateway"
	"github.com/MrWong99/chatterbox/internal/health"
	"github.com/MrWong99/chatterbox/internal/observe"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Gateway owns the HTTP server that answers the assistant.
type Gateway struct {
	cfg       *config.Config
	providers *Providers
	engine    engine.Engine
	metrics   *observe.Metrics
	level     *slog.LevelVar
	listener  net.Listener

	server *http.Server

	stopOnce sync.Once
}

// GatewayOption is a functional option for [NewGateway].
type GatewayOption func(*Gateway)

// WithEngine injects the dialogue engine instead of building a cascade from
// the providers.
func WithEngine(e engine.Engine) GatewayOption {
	return func(g *Gateway) { g.engine = e }
}

// WithGatewayMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithGatewayMetrics(m *observe.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(v *slog.LevelVar) GatewayOption {
	return func(g *Gateway) { g.level = v }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) GatewayOption {
	return func(g *Gateway) { g.listener = l }
}

// NewGateway wires the gateway. Missing providers do not fail construction;
// /readyz reports them until they are configured.
func NewGateway(cfg *config.Config, providers *Providers, opts ...GatewayOption) (*Gateway, error) {
	if providers == nil {
		providers = &Providers{}
	}
	g := &Gateway{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.engine == nil {
		g.engine = cascade.New(
			providers.STT, providers.LLM, providers.TTS,
			PersonaFromConfig(cfg.Persona),
			cascade.WithMaxOutputTokens(cfg.Gateway.MaxOutputTokens),
			cascade.WithMetrics(g.metrics, providers.Names),
		)
	}

	api := gateway.New(g.engine,
		gateway.WithMaxUploadBytes(cfg.Gateway.MaxUploadBytes),
		gateway.WithMetrics(g.metrics),
	)
	mux := http.NewServeMux()
	api.Register(mux)
	health.New(health.Configured("providers", providers.Configured())).Register(mux)
	mux.Handle("GET /metrics", observe.Handler())

	g.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return g, nil
}

// Handler returns the root handler, for tests.
func (g *Gateway) Handler() http.Handler { return g.server.Handler }

// Engine returns the dialogue engine.
func (g *Gateway) Engine() engine.Engine { return g.engine }

// Run serves until ctx is cancelled, then shuts the server down.
func (g *Gateway) Run(ctx context.Context) error {
	ln := g.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", g.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", g.server.Addr, err)
		}
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// Shutdown stops the HTTP server, waiting for in-flight requests until ctx
// expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	g.stopOnce.Do(func() {
		slog.Info("gateway shutting down")
		err = g.server.Shutdown(ctx)
	})
	return err
}

// ApplyConfig is a [config.Watcher] callback: it applies the persona and log
// level edits and logs everything that needs a restart.
func (g *Gateway) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && g.level != nil {
		g.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		g.engine.SetPersona(PersonaFromConfig(new.Persona))
		slog.Info("persona reloaded",
			"name", new.Persona.Name,
			"prompt_changed", d.Persona.PromptChanged,
			"voice_changed", d.Persona.VoiceChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a configured level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
