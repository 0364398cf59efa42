package httpapi

import (
	"net/http"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
)

func (s *Server) quotePayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	q, err := s.paymentSvc.Quote(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	res, err := s.paymentSvc.Pay(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyPaid {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	records, err := s.paymentSvc.Records(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if records == nil {
		records = []*payment.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": records})
}
