package conversation

import (
	"sync"

	"github.com/MrWong99/chatterbox/pkg/types"
)

// History is the append-only record of the conversation. It is safe for
// concurrent use.
type History struct {
	mu    sync.Mutex
	turns []types.Turn
}

// Append records one turn.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, types.Turn{Role: role, Content: content})
}

// Snapshot returns a copy of all turns, oldest first.
func (h *History) Snapshot() []types.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
