// Package statusserver exposes an optional HTTP surface for observing a
// running recipe: a health check and a Server-Sent Events stream of step
// state transitions (spec §2.5 "live-progress server"). Grounded on the
// teacher's internal/server package — chi router setup, health-endpoint
// shape, and SSE polling loop (server.go, handler_health.go,
// handler_sse.go) — narrowed from a multi-submission REST API down to a
// single in-process recipe run.
package statusserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StepState is a step's lifecycle state as observed by the server.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepSuccess StepState = "success"
	StepFailed  StepState = "failed"
	StepSkipped StepState = "skipped"
)

// StepSnapshot is one step's current state, JSON-serializable for both the
// snapshot endpoint and SSE events.
type StepSnapshot struct {
	Label      string    `json:"label"`
	State      StepState `json:"state"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// RunStatus is the live, mutex-guarded state of the recipe run being
// observed. The Step Scheduler calls SetStep as steps progress; the server
// only reads it.
type RunStatus struct {
	mu        sync.RWMutex
	Recipe    string
	StartedAt time.Time
	Steps     map[string]*StepSnapshot
	order     []string
	Done      bool
	Err       string
}

// NewRunStatus creates a RunStatus for a recipe with its steps pre-seeded
// as pending, preserving declaration order.
func NewRunStatus(recipe string, stepLabels []string) *RunStatus {
	rs := &RunStatus{
		Recipe:    recipe,
		StartedAt: time.Now(),
		Steps:     make(map[string]*StepSnapshot, len(stepLabels)),
		order:     append([]string(nil), stepLabels...),
	}
	for _, label := range stepLabels {
		rs.Steps[label] = &StepSnapshot{Label: label, State: StepPending}
	}
	return rs
}

// SetStep records a step's state transition.
func (r *RunStatus) SetStep(label string, state StepState, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.Steps[label]
	if !ok {
		snap = &StepSnapshot{Label: label}
		r.Steps[label] = snap
		r.order = append(r.order, label)
	}
	snap.State = state
	snap.Message = message
	switch state {
	case StepRunning:
		snap.StartedAt = time.Now()
	case StepSuccess, StepFailed, StepSkipped:
		snap.FinishedAt = time.Now()
	}
}

// Finish marks the whole run as complete, with an error message if it failed.
func (r *RunStatus) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Done = true
	if err != nil {
		r.Err = err.Error()
	}
}

type runSnapshot struct {
	Recipe    string          `json:"recipe"`
	StartedAt time.Time       `json:"started_at"`
	Done      bool            `json:"done"`
	Err       string          `json:"error,omitempty"`
	Steps     []*StepSnapshot `json:"steps"`
}

func (r *RunStatus) snapshot() runSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps := make([]*StepSnapshot, 0, len(r.order))
	for _, label := range r.order {
		if snap, ok := r.Steps[label]; ok {
			copy := *snap
			steps = append(steps, &copy)
		}
	}
	return runSnapshot{
		Recipe:    r.Recipe,
		StartedAt: r.StartedAt,
		Done:      r.Done,
		Err:       r.Err,
		Steps:     steps,
	}
}

// Server is the optional live-progress HTTP surface.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	run       *RunStatus
}

// New builds a Server observing run, with routes registered.
func New(run *RunStatus, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "statusserver"),
		startTime: time.Now(),
		run:       run,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/v1/run", s.handleSnapshot)
	s.router.Get("/api/v1/sse/run", s.handleSSE)
}

// ServeHTTP satisfies http.Handler, letting callers embed the Server into
// their own listener setup.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks serving the status API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("status server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Recipe    string `json:"recipe"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Recipe:    s.run.Recipe,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.run.snapshot())
}

// handleSSE streams run-status updates until the run finishes or the client
// disconnects (spec §2.5), polling the shared RunStatus rather than
// receiving pushed events since steps mutate it from arbitrary goroutines.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", s.run.snapshot()); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastJSON string
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap := s.run.snapshot()
			raw, _ := json.Marshal(snap)
			if string(raw) == lastJSON {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
				continue
			}
			lastJSON = string(raw)
			if err := sendSSEEvent(w, flusher, "update", snap); err != nil {
				s.logger.Debug("sse client disconnected")
				return
			}
			if snap.Done {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
