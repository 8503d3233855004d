package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clusterwatch/internal/gateway"
	"clusterwatch/internal/poll"
	"clusterwatch/internal/tracking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeActionError maps a dashboard error to an HTTP status.
func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrActionInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
	case errors.Is(err, gateway.ErrEmptyJobID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failed", "error": err.Error()})
	case errors.Is(err, poll.ErrUnknownView):
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "failed", "error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "failed", "error": err.Error()})
	}
}

// actionContext outlives the browser request. The upstream client timeout
// bounds the action.
func actionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// handleState returns the current application state as JSON.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	snapshot := s.appState.Snapshot()
	json.NewEncoder(w).Encode(snapshot)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePoll starts or stops a view's polling loop.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Active          bool `json:"active"`
		IntervalSeconds int  `json:"intervalSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.IntervalSeconds < 0 {
		http.Error(w, "intervalSeconds must not be negative", http.StatusBadRequest)
		return
	}

	view := poll.View(r.PathValue("view"))
	var err error
	if req.Active {
		err = s.dashboard.StartPolling(view, time.Duration(req.IntervalSeconds)*time.Second)
	} else {
		err = s.dashboard.StopPolling(view)
	}
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"view":   view,
		"active": req.Active,
	})
}

// handleRefresh fetches a view once, outside its polling loop.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	view := poll.View(r.PathValue("view"))
	if err := s.dashboard.Refresh(r.Context(), view); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "view": view})
}

// handleTrack starts tracking a job.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	jobs, err := s.dashboard.TrackJob(actionContext(r), req.ID)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": jobs, "rows": tracking.RowsOf(jobs)})
}

// handleCopyLogs requests a log copy for a job. A forced copy must carry an
// explicit confirmation.
func (s *Server) handleCopyLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Force   bool   `json:"force"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	if req.Force && !req.Confirm {
		writeJSON(w, http.StatusPreconditionRequired, map[string]string{"status": "confirmation required"})
		return
	}

	statuses, err := s.dashboard.CopyLogs(actionContext(r), req.ID, req.Force)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"applications": statuses,
		"patches":      tracking.PatchesOf(strings.TrimSpace(req.ID), statuses),
	})
}

// handleLogs redirects to the upstream log viewer of one application.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, app := r.PathValue("job"), r.PathValue("app")
	slog.Debug("Redirecting to upstream logs", "job", job, "application", app, "component", "Web")
	http.Redirect(w, r, s.dashboard.LogURL(job, app), http.StatusFound)
}
