package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
)

// Service accepts live positions from parties and serves the counterpart's.
type Service struct {
	negotiations negotiation.Repository
	meetings     meeting.Repository
	store        *Store
	publisher    event.Publisher
	unit         domain.Unit
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(negotiations negotiation.Repository, meetings meeting.Repository, store *Store, publisher event.Publisher, unit domain.Unit, logger zerolog.Logger) *Service {
	if unit == "" {
		unit = domain.UnitKilometers
	}
	return &Service{
		negotiations: negotiations,
		meetings:     meetings,
		store:        store,
		publisher:    publisher,
		unit:         unit,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With().Str("service", "tracking").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Report is the derived distance view for one party.
type Report struct {
	SessionID      uuid.UUID            `json:"sessionId"`
	Self           *domain.LivePosition `json:"self,omitempty"`
	Counterpart    *domain.LivePosition `json:"counterpart,omitempty"`
	ToCounterpart  *domain.Distance     `json:"toCounterpart,omitempty"`
	ToMeetingPoint *domain.Distance     `json:"toMeetingPoint,omitempty"`
	WithinRadius   bool                 `json:"withinRadius"`
}

// PushPosition records the caller's position while tracking is active.
func (s *Service) PushPosition(ctx context.Context, actor string, u domain.Update) (domain.LivePosition, error) {
	if err := u.Point().Validate(); err != nil {
		return domain.LivePosition{}, err
	}
	session, n, err := s.load(ctx, actor, u.SessionID)
	if err != nil {
		return domain.LivePosition{}, err
	}
	if !session.TrackingActive {
		return domain.LivePosition{}, &negotiation.TransitionError{Action: "share position for", Status: n.Status, Reason: "tracking is not active"}
	}
	if u.ProposalID != "" && (session.AcceptedProposalID == nil || *session.AcceptedProposalID != u.ProposalID) {
		return domain.LivePosition{}, fmt.Errorf("%w: meeting point changed", negotiation.ErrStaleState)
	}
	pos := domain.LivePosition{
		SessionID:  session.SessionID,
		PartyID:    actor,
		ProposalID: u.ProposalID,
		Latitude:   u.Latitude,
		Longitude:  u.Longitude,
		CapturedAt: s.now(),
	}
	s.store.Put(pos)

	if other, ok := n.Counterparty(actor); ok {
		s.publisher.Publish(ctx, event.New(event.TrackingPosition, n.NegotiationID, actor, []string{other}, pos, pos.CapturedAt))
	}
	return pos, nil
}

// CounterpartPosition returns the counterpart's last known position, or nil.
func (s *Service) CounterpartPosition(ctx context.Context, actor string, sessionID uuid.UUID) (*domain.LivePosition, error) {
	_, n, err := s.load(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	other, _ := n.Counterparty(actor)
	if p, ok := s.store.Get(sessionID, other); ok {
		return &p, nil
	}
	return nil, nil
}

// Distances derives distance to the counterpart and to the meeting point from
// the latest live positions.
func (s *Service) Distances(ctx context.Context, actor string, sessionID uuid.UUID) (Report, error) {
	session, n, err := s.load(ctx, actor, sessionID)
	if err != nil {
		return Report{}, err
	}
	report := Report{SessionID: sessionID}
	self, ok := s.store.Get(sessionID, actor)
	if !ok {
		return report, nil
	}
	report.Self = &self
	other, _ := n.Counterparty(actor)
	if cp, ok := s.store.Get(sessionID, other); ok {
		report.Counterpart = &cp
		d := domain.NewDistance(domain.DistanceKm(self.Point(), cp.Point()), s.unit)
		report.ToCounterpart = &d
	}
	if session.AgreedLocation != nil {
		meetingPoint := domain.Point{Latitude: session.AgreedLocation.Latitude, Longitude: session.AgreedLocation.Longitude}
		km := domain.DistanceKm(self.Point(), meetingPoint)
		d := domain.NewDistance(km, s.unit)
		report.ToMeetingPoint = &d
		report.WithinRadius = km*1000 <= session.RadiusMeters
	}
	return report, nil
}

func (s *Service) load(ctx context.Context, actor string, sessionID uuid.UUID) (*meeting.Session, *negotiation.Negotiation, error) {
	session, err := s.meetings.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, fmt.Errorf("%w: meeting session %s", negotiation.ErrNotFound, sessionID)
	}
	n, err := s.negotiations.GetByID(ctx, session.NegotiationID)
	if err != nil {
		return nil, nil, err
	}
	if n == nil || !n.IsParticipant(actor) {
		return nil, nil, fmt.Errorf("%w: meeting session %s", negotiation.ErrNotFound, sessionID)
	}
	return session, n, nil
}
