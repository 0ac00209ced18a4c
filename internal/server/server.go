// Package server exposes the task engine over a small JSON API. The
// transport stays thin: it translates scan profiles into argument
// vectors, clamps the caller's wait budget, and maps engine errors to
// status codes. All execution semantics live below it.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/nmap"
	"github.com/scantaskd/scantaskd/internal/task"
)

const (
	minWait      = 5 * time.Second
	maxWaitQuick = 300 * time.Second
	// full and custom scans legitimately run long
	maxWaitFull = 600 * time.Second
)

type Server struct {
	scheduler   *task.Scheduler
	builder     nmap.Builder
	token       string
	defaultWait time.Duration
}

func New(sched *task.Scheduler, builder nmap.Builder, token string, defaultWait time.Duration) *Server {
	return &Server{
		scheduler:   sched,
		builder:     builder,
		token:       token,
		defaultWait: defaultWait,
	}
}

// Handler returns the routed and authenticated API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scans", s.handleSubmit)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleResult)
	mux.HandleFunc("GET /v1/tasks/{id}/status", s.handleStatus)
	return s.authenticate(mux)
}

type scanRequest struct {
	Type        string `json:"type"`
	Target      string `json:"target,omitempty"`
	Command     string `json:"command,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

type statusResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	sub, err := s.toSubmission(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	t, err := s.scheduler.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, model.ErrTooManyTasks):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "scan submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if !model.IsTerminal(t.Status) {
		// degraded to async: the task continues in the background
		status = http.StatusAccepted
	}
	writeJSON(w, status, t)
}

// toSubmission translates a wire request into an engine submission:
// profile to argument vector, wait seconds to a clamped budget.
func (s *Server) toSubmission(req scanRequest) (task.SubmitRequest, error) {
	var (
		taskType model.TaskType
		target   string
		command  []string
	)
	switch model.TaskType(req.Type) {
	case model.TaskTypeQuick:
		if req.Target == "" {
			return task.SubmitRequest{}, errors.New("quick scan requires a target")
		}
		taskType, target = model.TaskTypeQuick, req.Target
		command = s.builder.Quick(req.Target)
	case model.TaskTypeFull:
		if req.Target == "" {
			return task.SubmitRequest{}, errors.New("full scan requires a target")
		}
		taskType, target = model.TaskTypeFull, req.Target
		command = s.builder.Full(req.Target)
	case model.TaskTypeCustom:
		if req.Command == "" {
			return task.SubmitRequest{}, errors.New("custom scan requires a command")
		}
		var err error
		command, err = s.builder.Custom(req.Command)
		if err != nil {
			return task.SubmitRequest{}, err
		}
		taskType, target = model.TaskTypeCustom, nmap.Target(command)
	default:
		return task.SubmitRequest{}, fmt.Errorf("unknown scan type %q", req.Type)
	}

	return task.SubmitRequest{
		Type:    taskType,
		Target:  target,
		Command: command,
		Wait:    s.waitBudget(taskType, req.WaitSeconds),
	}, nil
}

// waitBudget clamps the requested synchronous wait. Unset means the
// configured default; quick scans are capped tighter than full and
// custom ones, which legitimately run long.
func (s *Server) waitBudget(taskType model.TaskType, seconds int) time.Duration {
	wait := s.defaultWait
	if seconds > 0 {
		wait = time.Duration(seconds) * time.Second
	}
	maxWait := maxWaitFull
	if taskType == model.TaskTypeQuick {
		maxWait = maxWaitQuick
	}
	return min(max(wait, minWait), maxWait)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.scheduler.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.scheduler.GetStatus(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: status})
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	slog.ErrorContext(r.Context(), "task lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
