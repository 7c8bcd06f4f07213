// Package conversation drives one voice conversation: a mic press starts a
// recording, the next press ends it, and an accepted recording becomes a
// turn of transcription, reply and playback.
//
// The [Orchestrator] is the only component that sequences the others. The
// state machine stays authoritative for what the user sees; the orchestrator
// moves it through every transition and owns the turn goroutine, which it
// cancels when the user presses the mic while the assistant is speaking.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/chatterbox/internal/capture"
	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/internal/dialogue"
	"github.com/MrWong99/chatterbox/internal/observe"
	"github.com/MrWong99/chatterbox/internal/playback"
	"github.com/MrWong99/chatterbox/internal/recognition"
	"github.com/MrWong99/chatterbox/internal/speech"
	"github.com/MrWong99/chatterbox/pkg/types"
)

// ErrBusy is returned by Press while another press is still being handled.
var ErrBusy = errors.New("conversation: press already in progress")

// dialogueFailureMessage is shown when the reply could not be obtained.
const dialogueFailureMessage = "Error processing assistant response."

// Capturer records one utterance per Start/Stop pair.
type Capturer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (capture.Recording, error)
	Close() error
}

// Recognizer turns an accepted recording into text.
type Recognizer interface {
	Recognize(ctx context.Context, blob speech.Blob) (string, error)
}

// Responder produces the assistant's reply to a prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []types.Turn) (dialogue.Reply, error)
}

// Player plays reply audio. Play blocks until playback ends and calls
// started once the audio has decoded and the output is live; an error from
// started ends playback and is returned.
type Player interface {
	Play(ctx context.Context, data []byte, started func() error) error
	Stop()
	Suspend() error
	Resume() error
}

// Orchestrator sequences capture, gate, recognition, dialogue and playback.
// It is safe for concurrent use.
type Orchestrator struct {
	machine    *character.Machine
	capture    Capturer
	recognizer Recognizer
	responder  Responder
	player     Player

	history *History
	metrics *observe.Metrics
	onTurn  func(types.Turn)

	// pressMu makes Press single-flight.
	pressMu sync.Mutex

	base       context.Context
	cancelBase context.CancelFunc

	mu         sync.Mutex
	errMsg     string
	cancelTurn context.CancelFunc
	turnDone   chan struct{}
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithHistory injects the conversation history. Default: a new empty one.
func WithHistory(h *History) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.history = h
		}
	}
}

// WithMetrics records gate outcomes, interruptions and turn durations.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTurnFunc registers fn to be called with every turn added to the
// history, from the turn goroutine.
func WithTurnFunc(fn func(types.Turn)) Option {
	return func(o *Orchestrator) { o.onTurn = fn }
}

// New wires an Orchestrator. machine must be the same machine the capturer
// transitions.
func New(machine *character.Machine, c Capturer, r Recognizer, d Responder, p Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		machine:    machine,
		capture:    c,
		recognizer: r,
		responder:  d,
		player:     p,
		history:    &History{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.base, o.cancelBase = context.WithCancel(context.Background())
	return o
}

// History returns the conversation history.
func (o *Orchestrator) History() *History { return o.history }

// ErrorMessage returns the last user-visible failure, or "". It is cleared
// when the next recording starts.
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Press toggles the microphone. From Idle it starts a recording; from
// Listening it ends the recording and, if the gate accepts it, starts a turn;
// from Speaking it interrupts the turn and starts a new recording.
//
// Concurrent presses are dropped with [ErrBusy].
func (o *Orchestrator) Press(ctx context.Context) error {
	if !o.pressMu.TryLock() {
		slog.Info("conversation: press dropped", "state", o.machine.State())
		return ErrBusy
	}
	defer o.pressMu.Unlock()

	switch o.machine.State() {
	case character.Speaking:
		o.interrupt(ctx)
		return o.startCapture(ctx)
	case character.Idle:
		return o.startCapture(ctx)
	case character.Listening:
		return o.stopCapture(ctx)
	}
	return nil
}

// Suspend pauses reply playback, e.g. while the terminal is in the
// background.
func (o *Orchestrator) Suspend() error { return o.player.Suspend() }

// Resume continues playback paused by Suspend.
func (o *Orchestrator) Resume() error { return o.player.Resume() }

// Wait blocks until the in-flight turn, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.turnDone
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close interrupts any turn, discards an active recording and releases the
// microphone.
func (o *Orchestrator) Close() error {
	o.pressMu.Lock()
	defer o.pressMu.Unlock()

	ctx := context.Background()
	switch o.machine.State() {
	case character.Speaking:
		o.interrupt(ctx)
	case character.Listening:
		if _, err := o.capture.Stop(ctx); err != nil {
			slog.Warn("conversation: discard recording", "err", err)
		}
		o.transition("reject", o.machine.Reject)
	}
	o.cancelBase()
	return o.capture.Close()
}

func (o *Orchestrator) startCapture(ctx context.Context) error {
	o.setError("")
	if err := o.capture.Start(ctx); err != nil {
		return fmt.Errorf("conversation: start capture: %w", err)
	}
	return nil
}

func (o *Orchestrator) stopCapture(ctx context.Context) error {
	rec, err := o.capture.Stop(ctx)
	if err != nil {
		o.transition("reject", o.machine.Reject)
		return fmt.Errorf("conversation: stop capture: %w", err)
	}

	d := speech.Evaluate(rec.HadSpeech, rec.Chunks, rec.ContentType)
	if o.metrics != nil {
		o.metrics.RecordGateDecision(ctx, string(d.Reason))
	}
	if !d.Accepted {
		slog.Info("conversation: recording discarded", "reason", d.Reason, "chunks", len(rec.Chunks))
		o.transition("reject", o.machine.Reject)
		return nil
	}

	if err := o.machine.Accept(); err != nil {
		return err
	}
	o.startTurn(d.Blob)
	return nil
}

// interrupt cancels the in-flight turn, stops playback and waits for the
// turn goroutine before forcing Idle.
func (o *Orchestrator) interrupt(ctx context.Context) {
	o.mu.Lock()
	cancel, done := o.cancelTurn, o.turnDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.player.Stop()
	if done != nil {
		<-done
	}
	if o.machine.State() == character.Speaking {
		o.transition("finish", o.machine.Finish)
	}
	if o.metrics != nil {
		o.metrics.RecordInterruption(ctx)
	}
	slog.Info("conversation: turn interrupted")
}

func (o *Orchestrator) startTurn(blob speech.Blob) {
	ctx, cancel := context.WithCancel(o.base)
	done := make(chan struct{})
	o.mu.Lock()
	o.cancelTurn, o.turnDone = cancel, done
	o.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		o.runTurn(ctx, blob)
	}()
}

func (o *Orchestrator) runTurn(ctx context.Context, blob speech.Blob) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "conversation.turn")
	defer span.End()
	log := observe.Logger(ctx)

	text, err := o.recognizer.Recognize(ctx, blob)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn("conversation: transcription failed", "err", err)
		o.setError(recognitionMessage(err))
		o.finish()
		return
	}
	if text == "" {
		log.Info("conversation: empty transcript")
		o.finish()
		return
	}

	prior := o.history.Snapshot()
	o.addTurn(types.RoleUser, text)

	reply, err := o.responder.Respond(ctx, text, prior)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn("conversation: reply failed", "err", err)
		o.setError(dialogueFailureMessage)
		o.finish()
		return
	}
	o.addTurn(types.RoleAssistant, reply.Text)

	// The character only leaves processing once audio is actually audible.
	var beginErr error
	err = o.player.Play(ctx, reply.Audio, func() error {
		beginErr = o.machine.BeginPlayback()
		return beginErr
	})
	switch {
	case beginErr != nil:
		log.Warn("conversation: begin playback", "err", beginErr)
		return
	case errors.Is(err, playback.ErrInterrupted), ctx.Err() != nil:
		return
	case errors.Is(err, playback.ErrDecode):
		log.Error("conversation: reply audio undecodable", "err", err, "bytes", len(reply.Audio))
	case err != nil:
		log.Error("conversation: playback failed", "err", err)
	}
	o.finish()

	if o.metrics != nil {
		o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) addTurn(role, content string) {
	o.history.Append(role, content)
	if o.onTurn != nil {
		o.onTurn(types.Turn{Role: role, Content: content})
	}
}

// finish returns the machine to Idle unless something else already did.
func (o *Orchestrator) finish() {
	if o.machine.State() == character.Speaking {
		o.transition("finish", o.machine.Finish)
	}
}

func (o *Orchestrator) transition(name string, fn func() error) {
	if err := fn(); err != nil {
		slog.Warn("conversation: transition failed", "event", name, "err", err)
	}
}

func (o *Orchestrator) setError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errMsg = msg
}

// recognitionMessage renders a recognition failure for the user.
func recognitionMessage(err error) string {
	var f *recognition.Failure
	if errors.As(err, &f) {
		if f.Status != 0 {
			return fmt.Sprintf("Transcription failed (%d): %s", f.Status, f.Message)
		}
		return "Could not understand audio: " + f.Message
	}
	return "Could not understand audio: " + err.Error()
}
