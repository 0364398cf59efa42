package meeting

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

// DefaultRadiusMeters is the distance from the agreed point still counted as "at the meeting".
const DefaultRadiusMeters = 150

// CloseReason records why a session stopped.
type CloseReason string

const (
	CloseCompleted CloseReason = "completed"
	CloseRejected  CloseReason = "negotiation_rejected"
	CloseExpired   CloseReason = "negotiation_expired"
	CloseCancelled CloseReason = "negotiation_cancelled"
)

var ErrSessionClosed = errors.New("meeting session is closed")

// Session is the agreed time and location pairing plus tracking state.
type Session struct {
	ID                 int64              `json:"-"`
	SessionID          uuid.UUID          `json:"sessionId"`
	NegotiationID      uuid.UUID          `json:"negotiationId"`
	AgreedTime         *time.Time         `json:"agreedTime"`
	AgreedLocation     *proposal.Location `json:"agreedLocation"`
	AcceptedProposalID *string            `json:"acceptedLocationProposalId"`
	RadiusMeters       float64            `json:"radiusMeters"`
	TrackingActive     bool               `json:"trackingActive"`
	TrackingStartedAt  *time.Time         `json:"trackingStartedAt,omitempty"`
	ClosedAt           *time.Time         `json:"closedAt,omitempty"`
	CloseReason        *CloseReason       `json:"closeReason,omitempty"`
	Version            int64              `json:"version"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Open creates the session when a negotiation reaches agreement.
func Open(negotiationID uuid.UUID, agreedTime time.Time, radiusMeters float64, now time.Time) *Session {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	at := agreedTime.UTC()
	return &Session{
		SessionID:     uuid.New(),
		NegotiationID: negotiationID,
		AgreedTime:    &at,
		RadiusMeters:  radiusMeters,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Session) IsClosed() bool {
	return s.ClosedAt != nil
}

// Trackable reports whether an agreed location and time coexist on an open session.
func (s *Session) Trackable() bool {
	return s.AgreedLocation != nil && s.AgreedTime != nil && !s.IsClosed()
}

// AcceptLocation applies an accepted location proposal. A proposal carrying a
// time also moves the agreed time.
func (s *Session) AcceptLocation(p proposal.Proposal, now time.Time) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}
	if p.Kind != proposal.KindLocation || p.Location == nil {
		return errors.New("not a location proposal")
	}
	loc := *p.Location
	id := p.ProposalID
	s.AgreedLocation = &loc
	s.AcceptedProposalID = &id
	if p.ProposedTime != nil {
		at := p.ProposedTime.UTC()
		s.AgreedTime = &at
	}
	s.touch(now)
	return nil
}

// StartTracking reports whether tracking was switched on by this call.
func (s *Session) StartTracking(now time.Time) (bool, error) {
	if !s.Trackable() {
		return false, errors.New("meeting session is not trackable")
	}
	if s.TrackingActive {
		return false, nil
	}
	started := now
	s.TrackingActive = true
	s.TrackingStartedAt = &started
	s.touch(now)
	return true, nil
}

// StopTracking reports whether tracking was switched off by this call.
func (s *Session) StopTracking(now time.Time) bool {
	if !s.TrackingActive {
		return false
	}
	s.TrackingActive = false
	s.touch(now)
	return true
}

// Close ends the session and stops tracking. Closing twice keeps the first reason.
func (s *Session) Close(reason CloseReason, now time.Time) bool {
	if s.IsClosed() {
		return false
	}
	closed := now
	s.ClosedAt = &closed
	s.CloseReason = &reason
	s.TrackingActive = false
	s.touch(now)
	return true
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
	s.Version++
}
