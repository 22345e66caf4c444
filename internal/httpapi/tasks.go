package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmaretti/crewdeck/internal/queue"
)

// The REST surface mirrors the websocket protocol for tooling and
// scripts: decisions taken here flow through the same gate and reach
// every connected dashboard.

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.store.List()
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if string(task.Status) == status {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
	})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleTaskHistory reads resolved tasks back from the archive. The live
// store forgets everything on restart, so this is the only place old
// decisions can be inspected.
func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	tasks, err := s.store.History(r.Context(), limit)
	if err != nil {
		if errors.Is(err, queue.ErrNoArchive) {
			respondError(w, http.StatusNotImplemented, "archive_disabled", "set DATABASE_URL to keep task history")
			return
		}
		respondError(w, http.StatusBadGateway, "archive_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	task, err := s.store.Get(taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	s.resolveTask(w, r, queue.DecisionApproved)
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	s.resolveTask(w, r, queue.DecisionRejected)
}

type resolveTaskRequest struct {
	ClientID string `json:"client_id"`
}

func (s *Server) resolveTask(w http.ResponseWriter, r *http.Request, decision queue.Decision) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	var req resolveTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = "rest"
	}

	task, err := s.gate.Decide(taskID, decision, clientID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "decision_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}
