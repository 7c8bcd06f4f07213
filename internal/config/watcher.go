package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher keeps the latest valid version of a config file. It polls the
// file's mtime and, when the content changed and still validates, calls
// onChange with the previous and the new config. An invalid edit is logged
// and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads from the poll loop and [Watcher.Reload].
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed; onChange is not called for it.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, st

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload re-reads the file now, ignoring the mtime shortcut. It reports
// whether a new config was applied.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				slog.Warn("config: watcher: reload failed", "path", w.path, "err", err)
			}
		}
	}
}

// reload applies the file if its content changed. Unless forced, an
// unchanged mtime skips reading.
func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if info.ModTime().Equal(prev.mtime) {
			return false, nil
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.hash == prev.hash {
		w.state.mtime = st.mtime
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	slog.Info("config: watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read parses and validates the file and returns its state.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
