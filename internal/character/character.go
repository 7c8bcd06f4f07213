// Package character holds the single authoritative conversation state of the
// assistant: Idle, Listening or Speaking.
//
// All mutation goes through guarded transition methods on [Machine]. A
// transition that is not legal from the current state returns
// [ErrIllegalTransition] and leaves the state untouched, so Listening and
// Speaking can never be active at the same time.
package character

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIllegalTransition is returned when a transition is requested from a
// state that does not allow it.
var ErrIllegalTransition = errors.New("character: illegal transition")

// State is the visible conversation state.
type State int

const (
	// Idle means no audio activity. It is the initial state.
	Idle State = iota

	// Listening means the microphone is being recorded.
	Listening

	// Speaking covers both processing a captured utterance and playing the
	// reply. [Machine.Processing] distinguishes the two.
	Speaking
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State      State
	Processing bool
}

// Machine is the conversation state machine. The zero value is not usable;
// create one with [New]. Machine is safe for concurrent use.
type Machine struct {
	mu         sync.Mutex
	state      State
	processing bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
	order  []int
}

// New returns a machine in [Idle].
func New() *Machine {
	return &Machine{subs: make(map[int]func(Snapshot))}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Processing reports whether the machine is Speaking but playback has not
// started yet.
func (m *Machine) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// Snapshot returns the state and processing flag read under one lock.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Processing: m.processing}
}

// BeginListening moves Idle → Listening.
func (m *Machine) BeginListening() error {
	return m.transition("begin_listening", func(s Snapshot) (Snapshot, bool) {
		return Snapshot{State: Listening}, s.State == Idle
	})
}

// Reject moves Listening → Idle after the speech gate discarded a recording.
func (m *Machine) Reject() error {
	return m.transition("reject", func(s Snapshot) (Snapshot, bool) {
		return Snapshot{State: Idle}, s.State == Listening
	})
}

// Accept moves Listening → Speaking with processing set.
func (m *Machine) Accept() error {
	return m.transition("accept", func(s Snapshot) (Snapshot, bool) {
		return Snapshot{State: Speaking, Processing: true}, s.State == Listening
	})
}

// BeginPlayback clears the processing flag once reply audio starts playing.
func (m *Machine) BeginPlayback() error {
	return m.transition("begin_playback", func(s Snapshot) (Snapshot, bool) {
		return Snapshot{State: Speaking}, s.State == Speaking && s.Processing
	})
}

// Finish moves Speaking → Idle. It covers natural end of playback, an
// interruption and a turn that failed while processing.
func (m *Machine) Finish() error {
	return m.transition("finish", func(s Snapshot) (Snapshot, bool) {
		return Snapshot{State: Idle}, s.State == Speaking
	})
}

// Subscribe registers fn to be called with the new snapshot after every
// successful transition. Observers run outside the state lock, in
// registration order, on the goroutine that made the transition.
// The returned function removes the subscription.
func (m *Machine) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.order = append(m.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			for i, v := range m.order {
				if v == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (m *Machine) transition(event string, guard func(Snapshot) (Snapshot, bool)) error {
	m.mu.Lock()
	cur := Snapshot{State: m.state, Processing: m.processing}
	next, ok := guard(cur)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, describe(cur))
	}
	m.state = next.State
	m.processing = next.Processing
	m.mu.Unlock()

	m.notify(next)
	return nil
}

func (m *Machine) notify(s Snapshot) {
	m.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(m.order))
	for _, id := range m.order {
		fns = append(fns, m.subs[id])
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func describe(s Snapshot) string {
	if s.State == Speaking && s.Processing {
		return "speaking(processing)"
	}
	return s.State.String()
}
