// Package health serves liveness and readiness probes next to the metrics
// endpoint.
//
//   - /healthz reports that the process is up and for how long.
//   - /readyz runs every registered probe and fails with 503 if any of
//     them does.
//
// Both respond with a small JSON document so the probes double as a quick
// operator check from curl.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type response struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the probe set
// is fixed at construction.
type Handler struct {
	started  time.Time
	checkers []Checker
}

// New creates a [Handler] evaluating the given probes on each /readyz
// request, in order.
func New(checkers ...Checker) *Handler {
	return &Handler{
		started:  time.Now(),
		checkers: append([]Checker(nil), checkers...),
	}
}

// Healthz answers 200 as long as the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs every probe with a [probeTimeout] deadline derived from the
// request context and answers 503 when any probe fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := response{
		Status: "ok",
		Checks: make(map[string]probeResult, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			resp.Checks[c.Name] = probeResult{Status: "fail", Error: err.Error()}
			resp.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks[c.Name] = probeResult{Status: "ok"}
		}
	}

	writeJSON(w, code, resp)
}

// Register mounts the /healthz and /readyz routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
