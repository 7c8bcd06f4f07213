// Command chatterbox-gateway serves the transcription and dialogue endpoints
// the chatterbox assistant talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatterbox/internal/app"
	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/internal/resilience"
	"github.com/MrWong99/chatterbox/pkg/provider/llm"
	"github.com/MrWong99/chatterbox/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/chatterbox/pkg/provider/llm/openai"
	"github.com/MrWong99/chatterbox/pkg/provider/stt"
	oastt "github.com/MrWong99/chatterbox/pkg/provider/stt/openai"
	"github.com/MrWong99/chatterbox/pkg/provider/stt/whisper"
	"github.com/MrWong99/chatterbox/pkg/provider/tts"
	"github.com/MrWong99/chatterbox/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/chatterbox/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chatterbox-gateway: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chatterbox-gateway: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("chatterbox-gateway starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, "chatterbox-gateway")
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	slog.Debug("providers registered",
		"llm", reg.Names("llm"),
		"stt", reg.Names("stt"),
		"tts", reg.Names("tts"),
	)

	providers, err := app.BuildProviders(cfg, reg, resilience.FallbackConfig{
		Permanent: isPermanent,
	})
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	printStartupSummary(cfg)

	g, err := app.NewGateway(cfg, providers, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise gateway", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, g.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.Run(ctx) })
	if watcher != nil {
		eg.Go(func() error { return reloadOnHangup(ctx, watcher) })
	}
	if err := eg.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("config reload failed", "err", err)
				continue
			}
			slog.Info("config reload requested", "changed", changed)
		}
	}
}

// isPermanent reports errors that a fallback provider would reject as well.
func isPermanent(err error) bool {
	return errors.Is(err, stt.ErrEmptyAudio) || errors.Is(err, tts.ErrEmptyText)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders share the any-llm pattern: optional APIKey and BaseURL.
var anyLLMProviders = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║   chatterbox gateway: startup summary ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("STT", cfg.Providers.STT)
	printProvider("TTS", cfg.Providers.TTS)
	fmt.Printf("║  Persona         : %-19s ║\n", truncate(app.PersonaFromConfig(cfg.Persona).Name))
	fmt.Printf("║  Listen addr     : %-19s ║\n", truncate(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	if value == "" {
		value = "(not configured)"
	} else if e.Model != "" {
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 && e.Name != "" {
		value = fmt.Sprintf("%s +%d", value, n)
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
