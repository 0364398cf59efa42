package httpapi

import (
	"net/http"

	"github.com/swapmeet/swapmeet/internal/domain/tracking"
)

type positionRequest struct {
	ProposalID string  `json:"proposalId"`
	SessionID  string  `json:"sessionId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

func (s *Server) pushPosition(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid session id")
		return
	}
	var req positionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.SessionID != "" && req.SessionID != sessionID.String() {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "sessionId does not match path")
		return
	}
	pos, err := s.trackingSvc.PushPosition(r.Context(), s.actor(r), tracking.Update{
		ProposalID: req.ProposalID,
		SessionID:  sessionID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, pos)
}

func (s *Server) counterpartPosition(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid session id")
		return
	}
	pos, err := s.trackingSvc.CounterpartPosition(r.Context(), s.actor(r), sessionID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if pos == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, pos)
}

func (s *Server) distance(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid session id")
		return
	}
	report, err := s.trackingSvc.Distances(r.Context(), s.actor(r), sessionID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
