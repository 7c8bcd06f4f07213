// Package health provides the /healthz and /readyz handlers shared by both
// chatterbox binaries.
//
// /healthz always returns 200 while the process serves HTTP. /readyz returns
// 200 only when every registered [Checker] passes. Responses are JSON
// objects with a top-level "status" field ("ok" or "fail") and a "checks"
// map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers concurrently on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context and reports 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	// Checker errors are collected rather than returned so that one failure
	// does not cancel the others.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Configured returns a checker that fails while any of the named components
// reports false. The gateway uses it to report readiness once its STT, LLM
// and TTS providers exist.
func Configured(name string, components map[string]bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			var missing []string
			for k, ok := range components {
				if !ok {
					missing = append(missing, k)
				}
			}
			if len(missing) > 0 {
				slices.Sort(missing)
				return fmt.Errorf("not configured: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// Flag is a readiness bit flipped by its owner, for example once the
// microphone stream is open.
type Flag struct {
	ready  atomic.Bool
	reason atomic.Value // string
}

// Set marks the flag ready or not. reason is reported while not ready.
func (f *Flag) Set(ready bool, reason string) {
	f.reason.Store(reason)
	f.ready.Store(ready)
}

// Checker returns a readiness checker reporting the flag.
func (f *Flag) Checker(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if f.ready.Load() {
				return nil
			}
			if r, _ := f.reason.Load().(string); r != "" {
				return errors.New(r)
			}
			return errors.New("not ready")
		},
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
