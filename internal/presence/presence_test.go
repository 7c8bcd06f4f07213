package presence

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chatterbox/internal/character"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return s
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_InitialSnapshotAndTransitions(t *testing.T) {
	t.Parallel()

	h := New()
	m := character.New()
	defer h.Follow(m)()

	conn := dial(t, h)
	if got := read(t, conn); got != (Snapshot{State: "idle"}) {
		t.Fatalf("initial = %+v, want idle", got)
	}
	waitClients(t, h, 1)

	if err := m.BeginListening(); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.State != "listening" || got.Processing {
		t.Errorf("after BeginListening = %+v", got)
	}

	if err := m.Accept(); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.State != "speaking" || !got.Processing {
		t.Errorf("after Accept = %+v, want speaking+processing", got)
	}

	if err := m.BeginPlayback(); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.State != "speaking" || got.Processing {
		t.Errorf("after BeginPlayback = %+v, want speaking", got)
	}
}

func TestHub_LevelThrottle(t *testing.T) {
	t.Parallel()

	h := New(WithInterval(10 * time.Millisecond))
	now := time.Unix(0, 0)
	h.now = func() time.Time { return now }

	h.Tap([]float32{0.1, -0.5, 0.2})
	if got := h.Current().Level; got != 0.5 {
		t.Fatalf("level = %v, want 0.5", got)
	}

	now = now.Add(5 * time.Millisecond)
	h.SetLevel(0.9)
	if got := h.Current().Level; got != 0.5 {
		t.Errorf("level inside interval = %v, want unchanged 0.5", got)
	}

	now = now.Add(10 * time.Millisecond)
	h.SetLevel(0.9)
	if got := h.Current().Level; got != 0.9 {
		t.Errorf("level after interval = %v, want 0.9", got)
	}

	h.SetState(character.Snapshot{State: character.Idle})
	if got := h.Current().Level; got != 0 {
		t.Errorf("level after idle = %v, want 0", got)
	}
}

func TestHub_LevelReachesClient(t *testing.T) {
	t.Parallel()

	h := New(WithInterval(time.Nanosecond))
	conn := dial(t, h)
	read(t, conn)
	waitClients(t, h, 1)

	h.SetLevel(0.25)
	if got := read(t, conn); got.Level != 0.25 {
		t.Errorf("level = %v, want 0.25", got.Level)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	t.Parallel()

	h := New(WithBuffer(2))
	c := &client{send: make(chan []byte, 2), gone: make(chan struct{})}
	if !h.add(c) {
		t.Fatal("add refused")
	}

	// The initial snapshot occupies one slot; nobody drains the channel.
	h.SetState(character.Snapshot{State: character.Listening})
	if h.Clients() != 1 {
		t.Fatal("client dropped before its buffer filled")
	}
	h.SetState(character.Snapshot{State: character.Idle})

	select {
	case <-c.gone:
	default:
		t.Fatal("slow client not dropped")
	}
	if h.Clients() != 0 {
		t.Errorf("clients = %d, want 0", h.Clients())
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := New()
	conn := dial(t, h)
	read(t, conn)
	waitClients(t, h, 1)

	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("read succeeded after Close")
	}
	if h.add(&client{send: make(chan []byte, 1), gone: make(chan struct{})}) {
		t.Error("add accepted after Close")
	}
}
