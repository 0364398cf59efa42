package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/application/keylock"
	"github.com/swapmeet/swapmeet/internal/application/txn"
	"github.com/swapmeet/swapmeet/internal/domain/event"
	domain "github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

// PositionDiscarder drops live positions when tracking stops.
type PositionDiscarder interface {
	Discard(sessionID uuid.UUID)
}

// Service coordinates the location sub-protocol and tracking activation.
type Service struct {
	negotiations negotiation.Repository
	meetings     domain.Repository
	ledger       proposal.Repository
	tx           txn.Runner
	locks        *keylock.Locker
	policy       *Policy
	positions    PositionDiscarder
	publisher    event.Publisher
	autoStart    bool
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(
	negotiations negotiation.Repository,
	meetings domain.Repository,
	ledger proposal.Repository,
	tx txn.Runner,
	locks *keylock.Locker,
	policy *Policy,
	positions PositionDiscarder,
	publisher event.Publisher,
	autoStart bool,
	logger zerolog.Logger,
) *Service {
	return &Service{
		negotiations: negotiations,
		meetings:     meetings,
		ledger:       ledger,
		tx:           tx,
		locks:        locks,
		policy:       policy,
		positions:    positions,
		publisher:    publisher,
		autoStart:    autoStart,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With().Str("service", "meeting").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LocationInput is a location proposal payload.
type LocationInput struct {
	Location proposal.Location
	Message  *string
	MeetAt   *time.Time
}

type scope struct {
	negotiation *negotiation.Negotiation
	session     *domain.Session
	ledger      *proposal.Ledger
	now         time.Time
}

// ProposeLocation opens a location proposal. Only one may be pending.
func (s *Service) ProposeLocation(ctx context.Context, actor string, negotiationID uuid.UUID, in LocationInput) (proposal.View, error) {
	var view proposal.View
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		if err := requireOpenForLocations(sc); err != nil {
			return nil, err
		}
		p := newLocationProposal(negotiationID, actor, in, nil, sc.now)
		if err := sc.ledger.Open(p); err != nil {
			return nil, ledgerError(err)
		}
		if err := s.ledger.AppendProposal(ctx, &p); err != nil {
			return nil, err
		}
		view, _ = sc.ledger.Get(p.ProposalID)
		return []event.Event{s.locationEvent(event.MeetingLocationProposed, sc, actor, view)}, nil
	})
	return view, err
}

// CounterLocation rejects the pending location proposal and replaces it.
func (s *Service) CounterLocation(ctx context.Context, actor string, negotiationID uuid.UUID, proposalID string, in LocationInput) (proposal.View, error) {
	var view proposal.View
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		pending, err := pendingFor(sc, actor, proposalID, "counter")
		if err != nil {
			return nil, err
		}
		next := newLocationProposal(negotiationID, actor, in, &pending.ProposalID, sc.now)
		rejection := proposal.Response{
			ResponseID:    proposal.NewID(),
			ProposalID:    pending.ProposalID,
			NegotiationID: negotiationID,
			Decision:      proposal.DecisionRejected,
			RespondedBy:   actor,
			SupersededBy:  &next.ProposalID,
			CreatedAt:     sc.now,
		}
		if err := sc.ledger.Counter(rejection, next); err != nil {
			return nil, ledgerError(err)
		}
		if err := s.ledger.AppendResponse(ctx, &rejection); err != nil {
			return nil, err
		}
		if err := s.ledger.AppendProposal(ctx, &next); err != nil {
			return nil, err
		}
		view, _ = sc.ledger.Get(next.ProposalID)
		return []event.Event{s.locationEvent(event.MeetingLocationCountered, sc, actor, view)}, nil
	})
	return view, err
}

// AcceptLocation agrees to the pending location proposal and updates the session.
func (s *Service) AcceptLocation(ctx context.Context, actor string, negotiationID uuid.UUID, proposalID string) (*domain.Session, error) {
	var out *domain.Session
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		pending, err := pendingFor(sc, actor, proposalID, "accept location for")
		if err != nil {
			return nil, err
		}
		r := proposal.Response{
			ResponseID:    proposal.NewID(),
			ProposalID:    pending.ProposalID,
			NegotiationID: negotiationID,
			Decision:      proposal.DecisionAccepted,
			RespondedBy:   actor,
			CreatedAt:     sc.now,
		}
		if err := sc.ledger.Respond(r); err != nil {
			return nil, ledgerError(err)
		}
		if err := s.ledger.AppendResponse(ctx, &r); err != nil {
			return nil, err
		}
		expected := sc.session.Version
		if err := sc.session.AcceptLocation(pending, sc.now); err != nil {
			return nil, err
		}
		if err := s.meetings.Update(ctx, sc.session, expected); err != nil {
			return nil, err
		}
		out = sc.session
		view, _ := sc.ledger.Get(pending.ProposalID)
		return []event.Event{s.locationEvent(event.MeetingLocationAccepted, sc, actor, map[string]any{
			"proposal": view,
			"session":  sc.session,
		})}, nil
	})
	if err == nil && s.autoStart {
		s.autoActivate(ctx, actor, negotiationID)
	}
	return out, err
}

// RejectLocation rejects the pending location proposal. The rejecting party may
// propose a new location right away.
func (s *Service) RejectLocation(ctx context.Context, actor string, negotiationID uuid.UUID, proposalID string) (proposal.View, error) {
	var view proposal.View
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		pending, err := pendingFor(sc, actor, proposalID, "reject location for")
		if err != nil {
			return nil, err
		}
		r := proposal.Response{
			ResponseID:    proposal.NewID(),
			ProposalID:    pending.ProposalID,
			NegotiationID: negotiationID,
			Decision:      proposal.DecisionRejected,
			RespondedBy:   actor,
			CreatedAt:     sc.now,
		}
		if err := sc.ledger.Respond(r); err != nil {
			return nil, ledgerError(err)
		}
		if err := s.ledger.AppendResponse(ctx, &r); err != nil {
			return nil, err
		}
		view, _ = sc.ledger.Get(pending.ProposalID)
		return []event.Event{s.locationEvent(event.MeetingLocationRejected, sc, actor, view)}, nil
	})
	return view, err
}

// GetSession returns the meeting session of a negotiation.
func (s *Service) GetSession(ctx context.Context, actor string, negotiationID uuid.UUID) (*domain.Session, error) {
	_, session, err := s.read(ctx, actor, negotiationID)
	return session, err
}

// ListLocationProposals returns the location ledger in order.
func (s *Service) ListLocationProposals(ctx context.Context, actor string, negotiationID uuid.UUID) ([]proposal.View, error) {
	if _, _, err := s.read(ctx, actor, negotiationID); err != nil {
		return nil, err
	}
	l, err := s.ledger.Load(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	return l.Views(proposal.KindLocation), nil
}

// ActivateTracking switches live tracking on when the session is trackable and
// the policy allows it. It reports whether tracking is active afterwards.
func (s *Service) ActivateTracking(ctx context.Context, actor string, negotiationID uuid.UUID) (bool, *domain.Session, error) {
	var (
		active bool
		out    *domain.Session
	)
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		out = sc.session
		if !sc.session.Trackable() {
			return nil, errUnchanged
		}
		allowed, err := s.policy.Allows(sc.negotiation, sc.session)
		if err != nil {
			return nil, fmt.Errorf("evaluate tracking policy: %w", err)
		}
		if !allowed {
			return nil, errUnchanged
		}
		active = true
		expected := sc.session.Version
		started, err := sc.session.StartTracking(sc.now)
		if err != nil {
			return nil, err
		}
		if !started {
			return nil, errUnchanged
		}
		if err := s.meetings.Update(ctx, sc.session, expected); err != nil {
			return nil, err
		}
		return []event.Event{s.locationEvent(event.MeetingTrackingStarted, sc, actor, sc.session)}, nil
	})
	if err != nil {
		return false, nil, err
	}
	return active, out, nil
}

// StopTracking switches live tracking off and discards live positions.
func (s *Service) StopTracking(ctx context.Context, actor string, negotiationID uuid.UUID) (*domain.Session, error) {
	var out *domain.Session
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		out = sc.session
		expected := sc.session.Version
		if !sc.session.StopTracking(sc.now) {
			return nil, errUnchanged
		}
		if err := s.meetings.Update(ctx, sc.session, expected); err != nil {
			return nil, err
		}
		return []event.Event{s.locationEvent(event.MeetingTrackingStopped, sc, actor, sc.session)}, nil
	})
	if err == nil && out != nil {
		s.discard(out.SessionID)
	}
	return out, err
}

// CompleteMeeting closes the session once the exchange happened.
func (s *Service) CompleteMeeting(ctx context.Context, actor string, negotiationID uuid.UUID) (*domain.Session, error) {
	var out *domain.Session
	err := s.write(ctx, actor, negotiationID, func(ctx context.Context, sc *scope) ([]event.Event, error) {
		out = sc.session
		if sc.negotiation.Status != negotiation.StatusPaidComplete {
			return nil, &negotiation.TransitionError{Action: "complete meeting for", Status: sc.negotiation.Status, Reason: "both parties must pay first"}
		}
		expected := sc.session.Version
		if !sc.session.Close(domain.CloseCompleted, sc.now) {
			return nil, errUnchanged
		}
		if err := s.meetings.Update(ctx, sc.session, expected); err != nil {
			return nil, err
		}
		return []event.Event{s.locationEvent(event.MeetingCompleted, sc, actor, sc.session)}, nil
	})
	if err == nil && out != nil {
		s.discard(out.SessionID)
	}
	return out, err
}

// BothPaid is signalled by the payment gate once the pair is complete. With
// auto start enabled it activates tracking on behalf of the system.
func (s *Service) BothPaid(ctx context.Context, negotiationID uuid.UUID) {
	s.logger.Info().Str("negotiation_id", negotiationID.String()).Msg("tracking unlocked by payment")
	if !s.autoStart {
		return
	}
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil || n == nil {
		s.logger.Warn().Err(err).Str("negotiation_id", negotiationID.String()).Msg("load negotiation for tracking auto start")
		return
	}
	s.autoActivate(ctx, n.BuyerID, negotiationID)
}

// autoActivate starts tracking when the policy already allows it. A meeting
// that is not yet trackable is left alone.
func (s *Service) autoActivate(ctx context.Context, actor string, negotiationID uuid.UUID) {
	active, _, err := s.ActivateTracking(ctx, actor, negotiationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("negotiation_id", negotiationID.String()).Msg("tracking auto start failed")
		return
	}
	s.logger.Debug().Bool("active", active).Str("negotiation_id", negotiationID.String()).Msg("tracking auto start")
}

var errUnchanged = errors.New("unchanged")

type step func(ctx context.Context, sc *scope) ([]event.Event, error)

func (s *Service) write(ctx context.Context, actor string, negotiationID uuid.UUID, fn step) error {
	var (
		events []event.Event
		sc     *scope
	)
	err := func() error {
		unlock := s.locks.Lock(negotiationID.String())
		defer unlock()
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			n, session, err := s.read(ctx, actor, negotiationID)
			if err != nil {
				return err
			}
			l, err := s.ledger.Load(ctx, negotiationID)
			if err != nil {
				return err
			}
			sc = &scope{negotiation: n, session: session, ledger: l, now: s.now()}
			events, err = fn(ctx, sc)
			return err
		})
	}()
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range events {
		s.logger.Info().
			Str("negotiation_id", negotiationID.String()).
			Str("session_id", sc.session.SessionID.String()).
			Str("event", string(e.Type)).
			Msg("meeting updated")
		s.publisher.Publish(ctx, e)
	}
	return nil
}

func (s *Service) read(ctx context.Context, actor string, negotiationID uuid.UUID) (*negotiation.Negotiation, *domain.Session, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, nil, err
	}
	if n == nil || !n.IsParticipant(actor) {
		return nil, nil, fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, negotiationID)
	}
	session, err := s.meetings.GetByNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, fmt.Errorf("%w: no meeting session for negotiation %s", negotiation.ErrNotFound, negotiationID)
	}
	return n, session, nil
}

func (s *Service) discard(sessionID uuid.UUID) {
	if s.positions != nil {
		s.positions.Discard(sessionID)
	}
}

func (s *Service) locationEvent(t event.Type, sc *scope, actor string, payload any) event.Event {
	return event.New(t, sc.negotiation.NegotiationID, actor, sc.negotiation.Participants(), payload, sc.now)
}

func requireOpenForLocations(sc *scope) error {
	if !sc.negotiation.IsAgreed() {
		return &negotiation.TransitionError{Action: "negotiate location for", Status: sc.negotiation.Status, Reason: "time is not agreed"}
	}
	if sc.session.IsClosed() {
		return &negotiation.TransitionError{Action: "negotiate location for", Status: sc.negotiation.Status, Reason: "meeting session is closed"}
	}
	return nil
}

func pendingFor(sc *scope, actor, proposalID, action string) (proposal.Proposal, error) {
	if err := requireOpenForLocations(sc); err != nil {
		return proposal.Proposal{}, err
	}
	view, ok := sc.ledger.Get(proposalID)
	if !ok || view.Kind != proposal.KindLocation {
		return proposal.Proposal{}, fmt.Errorf("%w: location proposal %s", negotiation.ErrNotFound, proposalID)
	}
	if view.Status != proposal.StatusPending {
		return proposal.Proposal{}, fmt.Errorf("%w: location proposal %s is %s", negotiation.ErrStaleState, proposalID, view.Status)
	}
	if view.ProposedBy == actor {
		return proposal.Proposal{}, &negotiation.TransitionError{Action: action, Status: sc.negotiation.Status, Reason: "caller made this proposal"}
	}
	return view.Proposal, nil
}

func newLocationProposal(negotiationID uuid.UUID, actor string, in LocationInput, respondsTo *string, now time.Time) proposal.Proposal {
	loc := in.Location
	p := proposal.Proposal{
		ProposalID:    proposal.NewID(),
		NegotiationID: negotiationID,
		Kind:          proposal.KindLocation,
		Location:      &loc,
		Message:       in.Message,
		ProposedBy:    actor,
		RespondsTo:    respondsTo,
		CreatedAt:     now,
	}
	if in.MeetAt != nil {
		at := in.MeetAt.UTC()
		p.ProposedTime = &at
	}
	return p
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, proposal.ErrNotPending):
		return fmt.Errorf("%w: %v", negotiation.ErrStaleState, err)
	case errors.Is(err, proposal.ErrUnknownProposal):
		return fmt.Errorf("%w: %v", negotiation.ErrNotFound, err)
	case errors.Is(err, proposal.ErrPendingExists):
		return fmt.Errorf("%w: %v", negotiation.ErrIllegalTransition, err)
	default:
		return err
	}
}
