package httpapi

import (
	"net/http"
)

type updateSettingsResponse struct {
	Updated       []string `json:"updated"`
	RestartNeeded bool     `json:"restart_needed"`
}

// Secrets never leave the process in full: GET returns masked values and
// a successful POST echoes only the key names that changed.

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"settings": s.settings.Masked(),
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var partial map[string]string
	if err := decodeJSON(r, &partial); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	changed, restart, err := s.settings.Update(partial)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_write_failed", err.Error())
		return
	}
	if changed == nil {
		changed = []string{}
	}
	respondJSON(w, http.StatusOK, updateSettingsResponse{
		Updated:       changed,
		RestartNeeded: restart,
	})
}
