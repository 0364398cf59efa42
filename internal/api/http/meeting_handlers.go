package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

type locationRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Label     string     `json:"label"`
	Message   *string    `json:"message"`
	MeetAt    *time.Time `json:"meetAt"`
}

func (req locationRequest) input() appMeeting.LocationInput {
	return appMeeting.LocationInput{
		Location: proposal.Location{Latitude: req.Latitude, Longitude: req.Longitude, Label: req.Label},
		Message:  req.Message,
		MeetAt:   req.MeetAt,
	}
}

type trackingResponse struct {
	Active  bool        `json:"active"`
	Session interface{} `json:"session"`
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	session, err := s.meetingSvc.GetSession(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	views, err := s.meetingSvc.ListLocationProposals(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if views == nil {
		views = []proposal.View{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": views})
}

func (s *Server) proposeLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req locationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	view, err := s.meetingSvc.ProposeLocation(r.Context(), s.actor(r), id, req.input())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) counterLocation(w http.ResponseWriter, r *http.Request) {
	id, proposalID, ok := locationParams(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	view, err := s.meetingSvc.CounterLocation(r.Context(), s.actor(r), id, proposalID, req.input())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) acceptLocation(w http.ResponseWriter, r *http.Request) {
	id, proposalID, ok := locationParams(w, r)
	if !ok {
		return
	}
	session, err := s.meetingSvc.AcceptLocation(r.Context(), s.actor(r), id, proposalID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) rejectLocation(w http.ResponseWriter, r *http.Request) {
	id, proposalID, ok := locationParams(w, r)
	if !ok {
		return
	}
	view, err := s.meetingSvc.RejectLocation(r.Context(), s.actor(r), id, proposalID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) activateTracking(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	active, session, err := s.meetingSvc.ActivateTracking(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trackingResponse{Active: active, Session: session})
}

func (s *Server) stopTracking(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	session, err := s.meetingSvc.StopTracking(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trackingResponse{Active: false, Session: session})
}

func (s *Server) completeMeeting(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	session, err := s.meetingSvc.CompleteMeeting(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func locationParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return id, "", false
	}
	proposalID, err := proposal.ParseID(chi.URLParam(r, "proposalId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid proposal id")
		return id, "", false
	}
	return id, proposalID, true
}
