// Command chatterbox is the push-to-talk voice assistant. Press Enter to start
// talking, Enter again to send. Pressing Enter while it speaks interrupts it
// and starts a new recording.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatterbox/internal/app"
	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/pkg/audio/native"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatterbox: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, "chatterbox")
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

	// ── Audio devices ─────────────────────────────────────────────────────────
	dev, err := native.New()
	if err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("audio close", "err", err)
		}
	}()

	assistant, err := app.NewAssistant(cfg, dev, dev,
		app.WithErrorFunc(func(msg string) {
			fmt.Printf("! %s\n", msg)
		}),
		app.WithTransitionFunc(printState),
	)
	if err != nil {
		slog.Error("failed to initialise assistant", "err", err)
		return 1
	}

	fmt.Println("Press Enter to talk, Enter again to send. p pauses, r resumes, q quits.")

	presses := make(chan struct{})
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return assistant.Run(ctx, presses) })
	eg.Go(func() error {
		defer close(presses)
		return readCommands(ctx, os.Stdin, presses, assistant)
	})

	err = eg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := assistant.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown error", "err", serr)
		return 1
	}
	if err != nil && !errors.Is(err, errQuit) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// errQuit ends the run loop when the user quits.
var errQuit = errors.New("quit")

// loadConfig reads path, falling back to the defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

// readCommands turns stdin lines into presses and playback controls. It
// returns errQuit on "q" or end of input.
func readCommands(ctx context.Context, r io.Reader, presses chan<- struct{}, a *app.Assistant) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			switch strings.TrimSpace(line) {
			case "q":
				return errQuit
			case "p":
				if err := a.Orchestrator().Suspend(); err != nil {
					slog.Warn("suspend playback", "err", err)
				}
			case "r":
				if err := a.Orchestrator().Resume(); err != nil {
					slog.Warn("resume playback", "err", err)
				}
			default:
				select {
				case presses <- struct{}{}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func printState(s character.Snapshot) {
	switch {
	case s.State == character.Listening:
		fmt.Println("● listening")
	case s.State == character.Speaking && s.Processing:
		fmt.Println("… thinking")
	case s.State == character.Speaking:
		fmt.Println("♪ speaking")
	default:
		fmt.Println("○ idle")
	}
}
