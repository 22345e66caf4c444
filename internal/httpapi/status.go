package httpapi

import (
	"net/http"
	"os"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	AgentProvider    string        `json:"agent_provider"`
	RoomEnabled      bool          `json:"room_enabled"`
	ConnectedClients int           `json:"connected_clients"`
	PendingTasks     int           `json:"pending_tasks"`
	Checks           []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	provider := "none"
	if s.chat != nil {
		provider = s.chat.ProviderName()
	}

	pending := 0
	for _, task := range s.store.List() {
		if !task.Resolved() {
			pending++
		}
	}

	checks := make([]statusCheck, 0, 6)

	switch provider {
	case "anthropic":
		checks = append(checks, statusCheck{
			ID:     "agent_provider",
			Status: "ok",
			Label:  "Agent backend",
			Detail: provider,
		})
	case "mock":
		checks = append(checks, statusCheck{
			ID:     "agent_provider",
			Status: "warn",
			Label:  "Agent backend",
			Detail: "mock replies only",
			Fix:    "Set ANTHROPIC_API_KEY to talk to a real model.",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "agent_provider",
			Status: "error",
			Label:  "Agent backend",
			Detail: "not configured",
		})
	}

	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		checks = append(checks, statusCheck{
			ID:     "task_archive",
			Status: "ok",
			Label:  "Task archive",
			Detail: "postgres",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "task_archive",
			Status: "warn",
			Label:  "Task archive",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep a task history across restarts.",
		})
	}

	if info, err := os.Stat(s.cfg.WorkspaceRoot); err != nil || !info.IsDir() {
		checks = append(checks, statusCheck{
			ID:     "workspace",
			Status: "error",
			Label:  "Workspace root",
			Detail: s.cfg.WorkspaceRoot,
			Fix:    "Point APP_WORKSPACE_ROOT at an existing directory.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "workspace",
			Status: "ok",
			Label:  "Workspace root",
			Detail: s.cfg.WorkspaceRoot,
		})
	}

	if s.cfg.RoomEnabled && s.relay != nil {
		checks = append(checks, statusCheck{
			ID:     "room",
			Status: "ok",
			Label:  "Room relay",
			Detail: "enabled",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "room",
			Status: "warn",
			Label:  "Room relay",
			Detail: "disabled",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		AgentProvider:    provider,
		RoomEnabled:      s.cfg.RoomEnabled && s.relay != nil,
		ConnectedClients: s.hub.ActiveCount(),
		PendingTasks:     pending,
		Checks:           checks,
	})
}
