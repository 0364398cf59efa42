package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const telegramLinkTTL = 10 * time.Minute

func (s *Server) telegramLinkCode(w http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "telegram notifications are not enabled")
		return
	}
	partyID, err := uuid.Parse(s.actor(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "telegram linking needs a registered party")
		return
	}
	code, err := s.telegram.IssueLinkCode(partyID, telegramLinkTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"code":      code,
		"command":   "/start " + code,
		"expiresIn": int(telegramLinkTTL.Seconds()),
	})
}
