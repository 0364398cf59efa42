package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/p2p/consensus"
	"github.com/swapmeet/swapmeet/internal/p2p/protocol"
	"github.com/swapmeet/swapmeet/internal/p2p/state"
)

// Node is the slice of a consensus node the HTTP surface needs.
type Node interface {
	ID() string
	RaftAddr() string
	State() string
	LeaderAddr() string
	LeaderNodeID() string
	IsLeader() bool
	Stats() map[string]string
	Machine() *state.Machine
	ApplyTx(ctx context.Context, tx protocol.Tx) error
	AddVoter(ctx context.Context, nodeID, raftAddr string) error
	RemoveServer(ctx context.Context, nodeID string) error
}

// Server provides HTTP endpoints for an authority node.
type Server struct {
	node   Node
	logger zerolog.Logger
}

func NewServer(node Node, logger zerolog.Logger) *Server {
	return &Server{node: node, logger: logger.With().Str("component", "p2p_api").Logger()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Route("/v1/p2p", func(r chi.Router) {
		r.Post("/tx", s.submitTx)
		r.Get("/stats", s.stateStats)
		r.Get("/raft", s.raftStatus)
		r.Post("/raft/join", s.raftJoin)
		r.Post("/raft/remove", s.raftRemove)

		r.Get("/parties/{partyId}/negotiations", s.listNegotiations)

		r.Get("/negotiations/{negotiationId}", s.getNegotiation)
		r.Get("/negotiations/{negotiationId}/proposals", s.listProposals)
		r.Get("/negotiations/{negotiationId}/meeting", s.getMeeting)
		r.Get("/negotiations/{negotiationId}/payments", s.listPayments)
		r.Get("/negotiations/{negotiationId}/events", s.listEvents)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"nodeId":   s.node.ID(),
		"state":    s.node.State(),
		"leader":   s.node.LeaderAddr(),
		"leaderId": s.node.LeaderNodeID(),
	})
}

func (s *Server) submitTx(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.respondNotLeader(w, "submit to leader")
		return
	}
	var tx protocol.Tx
	if err := decodeBody(r, &tx); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.ApplyTx(r.Context(), tx); err != nil {
		if isLeadershipErr(err) {
			s.respondNotLeader(w, err.Error())
			return
		}
		status, code := txErrorCode(err)
		s.logger.Debug().Err(err).Str("tx_id", tx.TxID).Str("op", string(tx.Op)).Msg("tx rejected")
		respondError(w, status, code, err.Error(), map[string]any{"tx_id": tx.TxID})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tx_id":          tx.TxID,
		"negotiation_id": tx.NegotiationID,
		"status":         "APPLIED",
	})
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	partyID := strings.TrimSpace(chi.URLParam(r, "partyId"))
	limit, offset := parseLimitOffset(r, 50, 200)
	respondJSON(w, http.StatusOK, map[string]any{
		"party_id":     partyID,
		"negotiations": s.node.Machine().ListNegotiations(partyID, limit, offset),
	})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	n, ok := s.node.Machine().GetNegotiation(negotiationID)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "negotiation not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	kind := proposal.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind != "" && kind != proposal.KindTime && kind != proposal.KindLocation {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "kind must be time or location", nil)
		return
	}
	views, err := s.node.Machine().ListProposals(negotiationID, kind)
	if err != nil {
		status, code := txErrorCode(err)
		respondError(w, status, code, err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiation_id": negotiationID,
		"proposals":      views,
	})
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	session, ok := s.node.Machine().GetMeeting(negotiationID)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "meeting not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	if _, ok := s.node.Machine().GetNegotiation(negotiationID); !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "negotiation not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiation_id": negotiationID,
		"payments":       s.node.Machine().ListPayments(negotiationID),
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	if _, ok := s.node.Machine().GetNegotiation(negotiationID); !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "negotiation not found", nil)
		return
	}
	limit, offset := parseLimitOffset(r, 100, 500)
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiation_id": negotiationID,
		"events":         s.node.Machine().ListEvents(negotiationID, limit, offset),
	})
}

func (s *Server) stateStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.node.Machine().StateStats())
}

func (s *Server) raftStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"node_id":    s.node.ID(),
		"raft_addr":  s.node.RaftAddr(),
		"state":      s.node.State(),
		"leader":     s.node.LeaderAddr(),
		"leader_id":  s.node.LeaderNodeID(),
		"is_leader":  s.node.IsLeader(),
		"raft_stats": s.node.Stats(),
	})
}

type raftJoinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.respondNotLeader(w, "submit to leader")
		return
	}
	var req raftJoinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.AddVoter(r.Context(), req.NodeID, req.RaftAddr); err != nil {
		if isLeadershipErr(err) {
			s.respondNotLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "JOIN_FAILED", err.Error(), nil)
		return
	}
	s.logger.Info().Str("node_id", req.NodeID).Str("raft_addr", req.RaftAddr).Msg("voter joined")
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

type raftRemoveRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) raftRemove(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.respondNotLeader(w, "submit to leader")
		return
	}
	var req raftRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.RemoveServer(r.Context(), req.NodeID); err != nil {
		if isLeadershipErr(err) {
			s.respondNotLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "REMOVE_FAILED", err.Error(), nil)
		return
	}
	s.logger.Info().Str("node_id", req.NodeID).Msg("server removed")
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

func (s *Server) respondNotLeader(w http.ResponseWriter, message string) {
	respondError(w, http.StatusConflict, "NOT_LEADER", message, map[string]any{
		"leader":    s.node.LeaderAddr(),
		"leader_id": s.node.LeaderNodeID(),
	})
}

func txErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, negotiation.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, negotiation.ErrStaleState):
		return http.StatusConflict, "STALE_STATE"
	case errors.Is(err, negotiation.ErrExpired):
		return http.StatusGone, "EXPIRED"
	case errors.Is(err, negotiation.ErrIllegalTransition):
		return http.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.Is(err, payment.ErrPaymentFailed):
		return http.StatusPaymentRequired, "PAYMENT_FAILED"
	default:
		return http.StatusBadRequest, "TX_REJECTED"
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}

func isLeadershipErr(err error) bool {
	return errors.Is(err, consensus.ErrNotLeader) ||
		errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress)
}
