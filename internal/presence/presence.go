// Package presence broadcasts the assistant's visible state to animation
// renderers over a websocket.
//
// Every message is a JSON object:
//
//	{"state":"idle|listening|speaking","processing":false,"level":0.42}
//
// A message is sent on every state transition and, throttled to one per
// tick, whenever a new audio level arrives (microphone level while
// listening, playback level while speaking). A client that cannot keep up
// with its send buffer is disconnected rather than slowing down the others.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chatterbox/internal/character"
	"github.com/MrWong99/chatterbox/pkg/audio"
)

const (
	defaultInterval   = 16 * time.Millisecond
	defaultBuffer     = 16
	writeTimeout      = 2 * time.Second
	slowClientClosure = "client too slow"
)

// Snapshot is one presence message.
type Snapshot struct {
	State      string  `json:"state"`
	Processing bool    `json:"processing"`
	Level      float32 `json:"level"`
}

// Hub fans presence snapshots out to every connected client. It implements
// [http.Handler] for the websocket endpoint. Hub is safe for concurrent use.
type Hub struct {
	interval       time.Duration
	buffer         int
	originPatterns []string
	now            func() time.Time

	mu        sync.Mutex
	clients   map[*client]struct{}
	last      Snapshot
	lastLevel time.Time
	closed    bool
}

type client struct {
	send chan []byte
	// gone is closed when the hub drops the client; code and reason are set
	// before.
	gone   chan struct{}
	once   sync.Once
	code   websocket.StatusCode
	reason string
}

func (c *client) drop(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.code, c.reason = code, reason
		close(c.gone)
	})
}

// Option is a functional option for [New].
type Option func(*Hub)

// WithInterval sets the minimum spacing between level updates.
// Default: 16ms.
func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithBuffer sets the per-client send buffer. Default: 16 messages.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients matching the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// New returns an empty hub in the idle state.
func New(opts ...Option) *Hub {
	h := &Hub{
		interval: defaultInterval,
		buffer:   defaultBuffer,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
		last:     Snapshot{State: character.Idle.String()},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the websocket route to mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /presence", h)
}

// Follow subscribes the hub to m and returns the unsubscribe function.
func (h *Hub) Follow(m *character.Machine) (cancel func()) {
	h.SetState(m.Snapshot())
	return m.Subscribe(h.SetState)
}

// SetState broadcasts a state transition. Entering Idle resets the level
// to zero.
func (h *Hub) SetState(s character.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last.State = s.State.String()
	h.last.Processing = s.Processing
	if s.State == character.Idle {
		h.last.Level = 0
	}
	h.broadcastLocked()
}

// SetLevel broadcasts a new audio level, dropping updates that arrive within
// the interval of the previous one.
func (h *Hub) SetLevel(level float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if now.Sub(h.lastLevel) < h.interval {
		return
	}
	h.lastLevel = now
	h.last.Level = level
	h.broadcastLocked()
}

// Tap is a playback tap: it reports the block's peak as the level.
func (h *Hub) Tap(frame []float32) {
	h.SetLevel(audio.Peak(frame))
}

// Current returns the latest snapshot.
func (h *Hub) Current() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.drop(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client
// disconnects or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Debug("presence: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, h.buffer), gone: make(chan struct{})}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	// Clients never send; CloseRead handles control frames and reports the
	// peer going away through ctx.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Debug("presence: write failed", "err", err)
				return
			}
		case <-c.gone:
			conn.Close(c.code, c.reason)
			return
		case <-ctx.Done():
			return
		}
	}
}

// add registers c and queues the current snapshot for it.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if msg, err := json.Marshal(h.last); err == nil {
		c.send <- msg
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// broadcastLocked sends the current snapshot to every client. Must be called
// with h.mu held.
func (h *Hub) broadcastLocked() {
	if len(h.clients) == 0 {
		return
	}
	msg, err := json.Marshal(h.last)
	if err != nil {
		slog.Error("presence: marshal snapshot", "err", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Info("presence: dropping slow client")
			c.drop(websocket.StatusPolicyViolation, slowClientClosure)
			delete(h.clients, c)
		}
	}
}
