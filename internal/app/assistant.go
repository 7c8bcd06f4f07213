package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatterbox/internal/capture"
	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/internal/config"
	"github.com/MrWong99/chatterbox/internal/conversation"
	"github.com/MrWong99/chatterbox/internal/dialogue"
	"github.com/MrWong99/chatterbox/internal/health"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/internal/playback"
	"github.com/MrWong99/chatterbox/internal/presence"
	"github.com/MrWong99/chatterbox/internal/recognition"
	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// Gateway routes the assistant posts to.
const (
	TranscribePath = "/api/v1/transcribe"
	DialoguePath   = "/api/v1/tts"
)

// presenceDisabled as the presence address turns the feed off.
const presenceDisabled = "-"

// Assistant is the local voice loop.
type Assistant struct {
	cfg     *config.Config
	metrics *observe.Metrics

	input  audio.InputDevice
	output audio.OutputDevice

	machine      *character.Machine
	hub          *presence.Hub
	orch         *conversation.Orchestrator
	micReady     health.Flag
	server       *http.Server
	listener     net.Listener
	unsubscribe  func()
	onError      func(msg string)
	onTransition func(character.Snapshot)

	closers  []func() error
	stopOnce sync.Once
}

// AssistantOption is a functional option for [NewAssistant].
type AssistantOption func(*Assistant)

// WithAssistantMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithAssistantMetrics(m *observe.Metrics) AssistantOption {
	return func(a *Assistant) { a.metrics = m }
}

// WithPresenceListener serves presence on l instead of
// cfg.Assistant.PresenceAddr.
func WithPresenceListener(l net.Listener) AssistantOption {
	return func(a *Assistant) { a.listener = l }
}

// WithErrorFunc is called with every user-visible failure message.
func WithErrorFunc(fn func(msg string)) AssistantOption {
	return func(a *Assistant) { a.onError = fn }
}

// WithTransitionFunc is called after every state transition.
func WithTransitionFunc(fn func(character.Snapshot)) AssistantOption {
	return func(a *Assistant) { a.onTransition = fn }
}

// NewAssistant wires the voice loop on the given devices. It fails when no
// configured capture encoding is available. The microphone is opened on the
// first press; until then /readyz reports it ready.
func NewAssistant(cfg *config.Config, input audio.InputDevice, output audio.OutputDevice, opts ...AssistantOption) (*Assistant, error) {
	if input == nil || output == nil {
		return nil, errors.New("app: assistant needs an input and an output device")
	}
	a := &Assistant{cfg: cfg, input: input, output: output}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	ac := cfg.Assistant

	transcribeURL, err := url.JoinPath(ac.GatewayURL, TranscribePath)
	if err != nil {
		return nil, fmt.Errorf("app: gateway url: %w", err)
	}
	dialogueURL, err := url.JoinPath(ac.GatewayURL, DialoguePath)
	if err != nil {
		return nil, fmt.Errorf("app: gateway url: %w", err)
	}

	format := audio.Format{SampleRate: ac.SampleRate, Channels: 1}
	a.machine = character.New()
	a.hub = presence.New(presence.WithInterval(ac.TickInterval))
	a.unsubscribe = a.hub.Follow(a.machine)
	if a.onTransition != nil {
		cancel := a.machine.Subscribe(a.onTransition)
		a.closers = append(a.closers, func() error { cancel(); return nil })
	}

	capt, err := capture.New(input, a.machine,
		capture.WithFormat(format),
		capture.WithPreferences(ac.Encodings),
		capture.WithThreshold(ac.Threshold),
		capture.WithTickInterval(ac.TickInterval),
		capture.WithLevelFunc(a.hub.SetLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.micReady.Set(true, "")

	player := playback.New(output,
		playback.WithFormat(audio.Format{SampleRate: ac.SampleRate, Channels: 2}),
		playback.WithTap(a.hub.Tap),
		playback.WithMetrics(a.metrics),
	)

	a.orch = conversation.New(a.machine,
		capt,
		recognition.New(transcribeURL, recognition.WithMaxUploadBytes(ac.MaxUploadBytes)),
		dialogue.New(dialogueURL),
		player,
		conversation.WithMetrics(a.metrics),
		conversation.WithTurnFunc(func(t types.Turn) {
			slog.Info("turn", "role", t.Role, "content", t.Content)
		}),
	)
	a.closers = append(a.closers, a.orch.Close)

	if a.listener != nil || ac.PresenceAddr != presenceDisabled {
		mux := http.NewServeMux()
		a.hub.Register(mux)
		health.New(a.micReady.Checker("microphone")).Register(mux)
		mux.Handle("GET /metrics", observe.Handler())
		a.server = &http.Server{
			Addr:              ac.PresenceAddr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	slog.Info("assistant ready",
		"gateway", ac.GatewayURL,
		"content_type", capt.ContentType(),
		"threshold", ac.Threshold,
		"presence", ac.PresenceAddr,
	)
	return a, nil
}

// Machine returns the conversation state machine.
func (a *Assistant) Machine() *character.Machine { return a.machine }

// Orchestrator returns the conversation orchestrator.
func (a *Assistant) Orchestrator() *conversation.Orchestrator { return a.orch }

// Presence returns the presence hub.
func (a *Assistant) Presence() *presence.Hub { return a.hub }

// Press toggles the microphone. A dropped concurrent press is not an error.
func (a *Assistant) Press(ctx context.Context) error {
	err := a.orch.Press(ctx)
	switch {
	case errors.Is(err, conversation.ErrBusy):
		return nil
	case errors.Is(err, capture.ErrNoInputDevice):
		a.micReady.Set(false, err.Error())
		return err
	case err != nil:
		return err
	}
	a.micReady.Set(true, "")
	return nil
}

// Run handles presses until ctx is cancelled or presses is closed, serving
// the presence feed meanwhile. After every press the orchestrator's failure
// message, if any, is reported through the error func once its turn is over.
func (a *Assistant) Run(ctx context.Context, presses <-chan struct{}) error {
	eg, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", a.server.Addr)
			if err != nil {
				return fmt.Errorf("app: presence listen %q: %w", a.server.Addr, err)
			}
		}
		slog.Info("presence listening", "addr", ln.Addr().String())
		eg.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: presence serve: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer func() {
			if a.server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.hub.Close()
				_ = a.server.Shutdown(shutdownCtx)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-presses:
				if !ok {
					return nil
				}
				if err := a.Press(ctx); err != nil {
					slog.Error("press failed", "err", err)
					a.report(err.Error())
					continue
				}
				go a.reportTurn()
			}
		}
	})
	return eg.Wait()
}

// reportTurn waits for the in-flight turn and reports its failure message.
func (a *Assistant) reportTurn() {
	a.orch.Wait()
	if msg := a.orch.ErrorMessage(); msg != "" && a.machine.State() == character.Idle {
		a.report(msg)
	}
}

func (a *Assistant) report(msg string) {
	if a.onError != nil {
		a.onError(msg)
	}
}

// Shutdown stops the voice loop and releases the devices.
func (a *Assistant) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("assistant shutting down")
		a.unsubscribe()
		a.hub.Close()
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
