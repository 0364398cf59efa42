package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAuth "github.com/swapmeet/swapmeet/internal/application/auth"
	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	appNegotiation "github.com/swapmeet/swapmeet/internal/application/negotiation"
	appPayment "github.com/swapmeet/swapmeet/internal/application/payment"
	appTracking "github.com/swapmeet/swapmeet/internal/application/tracking"
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/validation"
	"github.com/swapmeet/swapmeet/internal/infrastructure/sse"
	"github.com/swapmeet/swapmeet/internal/infrastructure/telegram"
	"github.com/swapmeet/swapmeet/internal/infrastructure/ws"
)

// Deps lists what the HTTP layer talks to. AuthSvc and Telegram are optional.
type Deps struct {
	Negotiations  *appNegotiation.Service
	Meetings      *appMeeting.Service
	Payments      *appPayment.Service
	Tracking      *appTracking.Service
	Authenticator party.Authenticator
	AuthSvc       *appAuth.Service
	SSEHub        *sse.Hub
	WSHub         *ws.Hub
	Telegram      *telegram.Notifier

	SessionCookieName    string
	SessionCookieSecure  bool
	WSInsecureSkipVerify bool
	Logger               zerolog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc       *appNegotiation.Service
	meetingSvc           *appMeeting.Service
	paymentSvc           *appPayment.Service
	trackingSvc          *appTracking.Service
	authenticator        party.Authenticator
	authSvc              *appAuth.Service
	sseHub               *sse.Hub
	wsHub                *ws.Hub
	telegram             *telegram.Notifier
	sessionCookieName    string
	sessionCookieSecure  bool
	wsInsecureSkipVerify bool
	logger               zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		negotiationSvc:       d.Negotiations,
		meetingSvc:           d.Meetings,
		paymentSvc:           d.Payments,
		trackingSvc:          d.Tracking,
		authenticator:        d.Authenticator,
		authSvc:              d.AuthSvc,
		sseHub:               d.SSEHub,
		wsHub:                d.WSHub,
		telegram:             d.Telegram,
		sessionCookieName:    d.SessionCookieName,
		sessionCookieSecure:  d.SessionCookieSecure,
		wsInsecureSkipVerify: d.WSInsecureSkipVerify,
		logger:               d.Logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Streams stay open beyond the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/events/sse", s.sseEndpoint)
			r.Get("/events/ws", s.wsEndpoint)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", s.register)
				r.Post("/login", s.login)
				r.Group(func(r chi.Router) {
					r.Use(s.requireAuth)
					r.Post("/logout", s.logout)
					r.Get("/me", s.me)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				r.Route("/negotiations", func(r chi.Router) {
					r.Post("/", s.proposeNegotiation)
					r.Get("/", s.listNegotiations)
					r.Get("/{negotiationId}", s.getNegotiation)
					r.Post("/{negotiationId}/counter", s.counterNegotiation)
					r.Post("/{negotiationId}/accept", s.acceptNegotiation)
					r.Post("/{negotiationId}/reject", s.rejectNegotiation)
					r.Post("/{negotiationId}/cancel", s.cancelNegotiation)
					r.Get("/{negotiationId}/proposals", s.listProposals)

					r.Get("/{negotiationId}/payment/quote", s.quotePayment)
					r.Post("/{negotiationId}/payment", s.pay)
					r.Get("/{negotiationId}/payments", s.listPayments)

					r.Get("/{negotiationId}/meeting", s.getMeeting)
					r.Get("/{negotiationId}/meeting/locations", s.listLocations)
					r.Post("/{negotiationId}/meeting/locations", s.proposeLocation)
					r.Post("/{negotiationId}/meeting/locations/{proposalId}/counter", s.counterLocation)
					r.Post("/{negotiationId}/meeting/locations/{proposalId}/accept", s.acceptLocation)
					r.Post("/{negotiationId}/meeting/locations/{proposalId}/reject", s.rejectLocation)
					r.Post("/{negotiationId}/meeting/tracking", s.activateTracking)
					r.Delete("/{negotiationId}/meeting/tracking", s.stopTracking)
					r.Post("/{negotiationId}/meeting/complete", s.completeMeeting)
				})

				r.Route("/tracking/sessions/{sessionId}", func(r chi.Router) {
					r.Post("/positions", s.pushPosition)
					r.Get("/counterpart", s.counterpartPosition)
					r.Get("/distance", s.distance)
				})

				r.Post("/telegram/link-code", s.telegramLinkCode)
			})
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps core errors onto HTTP statuses. Only input
// validation failures are client errors; anything unrecognised is logged and
// reported as an internal error without its detail.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, party.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, negotiation.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, negotiation.ErrStaleState):
		respondError(w, http.StatusConflict, "STALE_STATE", "state changed, please refresh and retry: "+err.Error())
	case errors.Is(err, negotiation.ErrIllegalTransition), errors.Is(err, meeting.ErrSessionClosed):
		respondError(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
	case errors.Is(err, negotiation.ErrExpired):
		respondError(w, http.StatusGone, "EXPIRED", err.Error())
	case errors.Is(err, payment.ErrPaymentFailed):
		respondError(w, http.StatusPaymentRequired, "PAYMENT_FAILED", err.Error())
	case errors.Is(err, appAuth.ErrHandleTaken):
		respondError(w, http.StatusConflict, "HANDLE_TAKEN", err.Error())
	case errors.Is(err, validation.ErrInvalid):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeBody(r, v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
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
