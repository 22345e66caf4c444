package httpapi

import (
	"net/http"
	"strings"
)

type roomOfferRequest struct {
	SDP string `json:"sdp"`
}

type roomOfferResponse struct {
	SDP string `json:"sdp"`
}

// handleRoomOffer terminates room signaling: one offer in, one complete
// answer out.
func (s *Server) handleRoomOffer(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil || !s.cfg.RoomEnabled {
		respondError(w, http.StatusNotImplemented, "room_disabled", "the room relay is disabled")
		return
	}

	var req roomOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SDP) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sdp is required")
		return
	}

	answer, err := s.relay.Answer(r.Context(), req.SDP)
	if err != nil {
		respondError(w, http.StatusBadGateway, "room_answer_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, roomOfferResponse{SDP: answer})
}
