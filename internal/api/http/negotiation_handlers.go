package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	appNegotiation "github.com/swapmeet/swapmeet/internal/application/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

type proposeRequest struct {
	ListingID      string    `json:"listingId"`
	ExchangeType   string    `json:"exchangeType"`
	CounterpartyID string    `json:"counterpartyId"`
	Role           string    `json:"role"`
	ProposedTime   time.Time `json:"proposedTime"`
	Message        *string   `json:"message"`
}

type respondRequest struct {
	RespondingTo    *string `json:"respondingTo"`
	ExpectedVersion *int64  `json:"expectedVersion"`
}

type counterRequest struct {
	respondRequest
	ProposedTime time.Time `json:"proposedTime"`
	Message      *string   `json:"message"`
}

type cancelRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (req respondRequest) input() appNegotiation.RespondInput {
	return appNegotiation.RespondInput{RespondingTo: req.RespondingTo, ExpectedVersion: req.ExpectedVersion}
}

func (s *Server) proposeNegotiation(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	n, err := s.negotiationSvc.Propose(r.Context(), s.actor(r), appNegotiation.ProposeInput{
		ListingID:      req.ListingID,
		ExchangeType:   req.ExchangeType,
		CounterpartyID: req.CounterpartyID,
		Role:           negotiation.Role(strings.ToLower(req.Role)),
		ProposedTime:   req.ProposedTime,
		Message:        req.Message,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	var filter negotiation.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		st := negotiation.Status(strings.ToLower(v))
		filter.Status = &st
	}
	if v := r.URL.Query().Get("listingId"); v != "" {
		filter.ListingID = &v
	}
	items, err := s.negotiationSvc.List(r.Context(), s.actor(r), filter, limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []*negotiation.Negotiation{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	n, err := s.negotiationSvc.Get(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) counterNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req counterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	n, err := s.negotiationSvc.Counter(r.Context(), s.actor(r), id, appNegotiation.CounterInput{
		RespondInput: req.input(),
		ProposedTime: req.ProposedTime,
		Message:      req.Message,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.negotiationSvc.Accept)
}

func (s *Server) rejectNegotiation(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.negotiationSvc.Reject)
}

type respondFunc func(ctx context.Context, actor string, id uuid.UUID, in appNegotiation.RespondInput) (*negotiation.Negotiation, error)

func (s *Server) respond(w http.ResponseWriter, r *http.Request, fn respondFunc) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req respondRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	n, err := fn(r.Context(), s.actor(r), id, req.input())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) cancelNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req cancelRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	n, err := s.negotiationSvc.Cancel(r.Context(), s.actor(r), id, req.ExpectedVersion)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	kind := proposal.Kind(strings.ToLower(r.URL.Query().Get("kind")))
	switch kind {
	case "", proposal.KindTime, proposal.KindLocation:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "kind must be time or location")
		return
	}
	views, err := s.negotiationSvc.Proposals(r.Context(), s.actor(r), id, kind)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if views == nil {
		views = []proposal.View{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": views})
}
