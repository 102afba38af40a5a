// Package health serves the daemon's liveness and readiness probes.
//
// Two endpoints:
//
//   - /healthz: liveness; a process that can answer HTTP is alive.
//   - /readyz:  readiness; returns 200 only when every registered
//     [Checker] passes. The daemon registers probes for the event log
//     and the NATS connection when those are enabled.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and, for readiness, a "checks" map with each probe's result.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness probe. The slowest probe the
// daemon registers is a local SQLite ping; anything past two seconds is
// already a failure.
const checkTimeout = 2 * time.Second

// Checker is a named readiness probe. Check returns nil when the
// dependency is usable and an error describing the failure otherwise. It
// must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Ping adapts a context-aware ping function, such as the event log's,
// into a Checker.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

// Connected adapts a connection flag, such as the NATS client's, into a
// Checker.
func Connected(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New creates a [Handler] that evaluates the given probes on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{
		checkers: c,
		started:  time.Now(),
	}
}

// Healthz is a liveness probe that always returns 200 OK. The body
// carries the daemon's uptime for quick inspection.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Probes run concurrently, so a stuck dependency costs
// one checkTimeout rather than the sum of all of them.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	type outcome struct {
		name string
		err  error
	}

	outcomes := make(chan outcome, len(h.checkers))
	var wg sync.WaitGroup
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes <- outcome{name: c.Name, err: c.Check(ctx)}
		}()
	}
	wg.Wait()
	close(outcomes)

	checks := make(map[string]string, len(h.checkers))
	allOK := true
	for out := range outcomes {
		if out.err != nil {
			checks[out.name] = "fail: " + out.err.Error()
			allOK = false
		} else {
			checks[out.name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
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

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
