// Package health serves the liveness and readiness probes. /healthz answers
// 200 as long as the process serves HTTP; /readyz evaluates every registered
// [Checker] and answers 503 when any of them fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when healthy; the error
// text is surfaced verbatim in the /readyz response.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers on each /readyz hit.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, "ok", nil)
}

// Readyz runs all checkers concurrently, each under its own timeout, and
// reports 503 when any fails. A voice gateway hiccup should not hide a
// broken sounds dir, so every check always runs.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	failed := false

	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
		}(c)
	}
	wg.Wait()

	if failed {
		writeResult(w, http.StatusServiceUnavailable, "fail", checks)
		return
	}
	writeResult(w, http.StatusOK, "ok", checks)
}

func writeResult(w http.ResponseWriter, status int, overall string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{Status: overall, Checks: checks}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
