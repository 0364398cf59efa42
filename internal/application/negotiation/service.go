package negotiation

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
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	domain "github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

// PositionDiscarder drops live positions when a meeting session closes.
type PositionDiscarder interface {
	Discard(sessionID uuid.UUID)
}

// Service drives the negotiation state machine. Writes for one negotiation id
// are serialized through the shared key lock and a version check in storage.
type Service struct {
	repo          domain.Repository
	ledger        proposal.Repository
	meetings      meeting.Repository
	tx            txn.Runner
	locks         *keylock.Locker
	publisher     event.Publisher
	positions     PositionDiscarder
	paymentWindow time.Duration
	radiusMeters  float64
	now           func() time.Time
	logger        zerolog.Logger
}

// Settings holds the policy values used by the service.
type Settings struct {
	PaymentWindow time.Duration
	RadiusMeters  float64
}

func NewService(
	repo domain.Repository,
	ledger proposal.Repository,
	meetings meeting.Repository,
	tx txn.Runner,
	locks *keylock.Locker,
	publisher event.Publisher,
	positions PositionDiscarder,
	settings Settings,
	logger zerolog.Logger,
) *Service {
	if settings.PaymentWindow <= 0 {
		settings.PaymentWindow = 24 * time.Hour
	}
	return &Service{
		repo:          repo,
		ledger:        ledger,
		meetings:      meetings,
		tx:            tx,
		locks:         locks,
		publisher:     publisher,
		positions:     positions,
		paymentWindow: settings.PaymentWindow,
		radiusMeters:  settings.RadiusMeters,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With().Str("service", "negotiation").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ProposeInput opens a negotiation with a first time proposal.
type ProposeInput struct {
	ListingID      string
	ExchangeType   string
	CounterpartyID string
	Role           domain.Role
	ProposedTime   time.Time
	Message        *string
}

// RespondInput lets a caller pin the state it saw.
type RespondInput struct {
	RespondingTo    *string
	ExpectedVersion *int64
}

type CounterInput struct {
	RespondInput
	ProposedTime time.Time
	Message      *string
}

// Propose creates a fresh negotiation in proposed.
func (s *Service) Propose(ctx context.Context, actor string, in ProposeInput) (*domain.Negotiation, error) {
	var buyer, seller string
	switch in.Role {
	case domain.RoleBuyer:
		buyer, seller = actor, in.CounterpartyID
	case domain.RoleSeller:
		buyer, seller = in.CounterpartyID, actor
	default:
		return nil, validation.Errorf("invalid role %q", in.Role)
	}

	unlock := s.locks.Lock("listing:" + in.ListingID + ":" + buyer + ":" + seller)
	defer unlock()

	now := s.now()
	n, err := domain.Open(domain.Opening{
		ListingID:    in.ListingID,
		ExchangeType: in.ExchangeType,
		BuyerID:      buyer,
		SellerID:     seller,
		ProposedBy:   actor,
		ProposedTime: in.ProposedTime,
	}, now)
	if err != nil {
		return nil, err
	}
	at := n.CurrentProposedTime
	p := proposal.Proposal{
		ProposalID:    proposal.NewID(),
		NegotiationID: n.NegotiationID,
		Kind:          proposal.KindTime,
		ProposedTime:  &at,
		Message:       in.Message,
		ProposedBy:    actor,
		CreatedAt:     now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindActive(ctx, n.ListingID, buyer, seller)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: negotiation %s is still open for this listing", domain.ErrIllegalTransition, existing.NegotiationID)
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return err
		}
		return s.ledger.AppendProposal(ctx, &p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("negotiation_id", n.NegotiationID.String()).
		Str("listing_id", n.ListingID).
		Str("actor", actor).
		Msg("negotiation proposed")
	s.publisher.Publish(ctx, event.New(event.NegotiationProposed, n.NegotiationID, actor, n.Participants(), proposalPayload(n, p), now))
	return n, nil
}

// Counter rejects the pending time proposal and replaces it with a new one.
func (s *Service) Counter(ctx context.Context, actor string, id uuid.UUID, in CounterInput) (*domain.Negotiation, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error) {
		if err := checkPinned(n, l, in.RespondInput); err != nil {
			return nil, err
		}
		pending, ok := l.Pending(proposal.KindTime)
		if err := n.Counter(actor, in.ProposedTime, now); err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no pending time proposal", domain.ErrStaleState)
		}
		at := n.CurrentProposedTime
		next := proposal.Proposal{
			ProposalID:    proposal.NewID(),
			NegotiationID: id,
			Kind:          proposal.KindTime,
			ProposedTime:  &at,
			Message:       in.Message,
			ProposedBy:    actor,
			RespondsTo:    &pending.ProposalID,
			CreatedAt:     now,
		}
		rejection := proposal.Response{
			ResponseID:    proposal.NewID(),
			ProposalID:    pending.ProposalID,
			NegotiationID: id,
			Decision:      proposal.DecisionRejected,
			RespondedBy:   actor,
			SupersededBy:  &next.ProposalID,
			CreatedAt:     now,
		}
		if err := l.Counter(rejection, next); err != nil {
			return nil, ledgerError(err)
		}
		if err := s.ledger.AppendResponse(ctx, &rejection); err != nil {
			return nil, err
		}
		if err := s.ledger.AppendProposal(ctx, &next); err != nil {
			return nil, err
		}
		return []event.Event{event.New(event.NegotiationCountered, id, actor, n.Participants(), proposalPayload(n, next), now)}, nil
	})
}

// Accept agrees to the pending time proposal and opens the meeting session.
func (s *Service) Accept(ctx context.Context, actor string, id uuid.UUID, in RespondInput) (*domain.Negotiation, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error) {
		if err := checkPinned(n, l, in); err != nil {
			return nil, err
		}
		if err := n.Accept(actor, now, s.paymentWindow); err != nil {
			return nil, err
		}
		if err := s.respondPending(ctx, l, proposal.KindTime, proposal.DecisionAccepted, actor, now); err != nil {
			return nil, err
		}
		session := meeting.Open(id, n.CurrentProposedTime, s.radiusMeters, now)
		if err := s.meetings.Create(ctx, session); err != nil {
			return nil, err
		}
		payload := map[string]any{"negotiation": n, "sessionId": session.SessionID}
		return []event.Event{event.New(event.NegotiationAgreed, id, actor, n.Participants(), payload, now)}, nil
	})
}

// Reject ends the negotiation.
func (s *Service) Reject(ctx context.Context, actor string, id uuid.UUID, in RespondInput) (*domain.Negotiation, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error) {
		if err := checkPinned(n, l, in); err != nil {
			return nil, err
		}
		if err := n.Reject(actor, now); err != nil {
			return nil, err
		}
		if err := s.respondPending(ctx, l, proposal.KindTime, proposal.DecisionRejected, actor, now); err != nil {
			return nil, err
		}
		if err := s.closeSession(ctx, n, l, meeting.CloseRejected, actor, now); err != nil {
			return nil, err
		}
		return []event.Event{event.New(event.NegotiationRejected, id, actor, n.Participants(), n, now)}, nil
	})
}

// Cancel ends the negotiation on behalf of either participant.
func (s *Service) Cancel(ctx context.Context, actor string, id uuid.UUID, expectedVersion *int64) (*domain.Negotiation, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error) {
		if err := checkPinned(n, l, RespondInput{ExpectedVersion: expectedVersion}); err != nil {
			return nil, err
		}
		if err := n.Cancel(actor, now); err != nil {
			return nil, err
		}
		if err := s.closeSession(ctx, n, l, meeting.CloseCancelled, actor, now); err != nil {
			return nil, err
		}
		return []event.Event{event.New(event.NegotiationCancelled, id, actor, n.Participants(), n, now)}, nil
	})
}

// Get returns a negotiation visible to actor.
func (s *Service) Get(ctx context.Context, actor string, id uuid.UUID) (*domain.Negotiation, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil || !n.IsParticipant(actor) {
		return nil, fmt.Errorf("%w: negotiation %s", domain.ErrNotFound, id)
	}
	return n, nil
}

// List returns negotiations the actor takes part in.
func (s *Service) List(ctx context.Context, actor string, filter domain.Filter, limit, offset int) ([]*domain.Negotiation, error) {
	filter.PartyID = &actor
	return s.repo.List(ctx, filter, limit, offset)
}

// Proposals lists the ledger of a negotiation. An empty kind lists every kind.
func (s *Service) Proposals(ctx context.Context, actor string, id uuid.UUID, kind proposal.Kind) ([]proposal.View, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	l, err := s.ledger.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Views(kind), nil
}

// ProcessExpired moves agreed negotiations past their payment deadline to expired.
// Failures are logged per record and do not stop the sweep.
func (s *Service) ProcessExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	candidates, err := s.repo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, err := s.mutate(ctx, sweepActor, c.NegotiationID, func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error) {
			if !n.Expirable(now) {
				return nil, errNothingToDo
			}
			if err := n.Expire(now); err != nil {
				return nil, err
			}
			if err := s.closeSession(ctx, n, l, meeting.CloseExpired, "", now); err != nil {
				return nil, err
			}
			return []event.Event{event.New(event.NegotiationExpired, n.NegotiationID, "", n.Participants(), n, now)}, nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("negotiation_id", c.NegotiationID.String()).Msg("expire negotiation failed")
			continue
		}
		expired++
	}
	return expired, nil
}

var errNothingToDo = errors.New("nothing to do")

// sweepActor is the empty actor of system-driven transitions.
const sweepActor = ""

type mutation func(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, now time.Time) ([]event.Event, error)

// mutate loads, transitions and stores one negotiation under its lock. Callers
// outside the negotiation see it as missing.
func (s *Service) mutate(ctx context.Context, actor string, id uuid.UUID, fn mutation) (*domain.Negotiation, error) {
	var (
		out    *domain.Negotiation
		events []event.Event
	)
	err := func() error {
		unlock := s.locks.Lock(id.String())
		defer unlock()
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			n, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if n == nil || (actor != sweepActor && !n.IsParticipant(actor)) {
				return fmt.Errorf("%w: negotiation %s", domain.ErrNotFound, id)
			}
			l, err := s.ledger.Load(ctx, id)
			if err != nil {
				return err
			}
			expected := n.Version
			events, err = fn(ctx, n, l, s.now())
			if err != nil {
				return err
			}
			if err := s.repo.Update(ctx, n, expected); err != nil {
				return err
			}
			out = n
			return nil
		})
	}()
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		s.logger.Info().
			Str("negotiation_id", id.String()).
			Str("event", string(e.Type)).
			Str("status", string(out.Status)).
			Msg("negotiation transition")
		s.publisher.Publish(ctx, e)
	}
	return out, nil
}

func (s *Service) respondPending(ctx context.Context, l *proposal.Ledger, kind proposal.Kind, decision proposal.Decision, actor string, now time.Time) error {
	pending, ok := l.Pending(kind)
	if !ok {
		return nil
	}
	r := proposal.Response{
		ResponseID:    proposal.NewID(),
		ProposalID:    pending.ProposalID,
		NegotiationID: l.NegotiationID(),
		Decision:      decision,
		RespondedBy:   actor,
		CreatedAt:     now,
	}
	if err := l.Respond(r); err != nil {
		return ledgerError(err)
	}
	return s.ledger.AppendResponse(ctx, &r)
}

// closeSession settles open proposals and closes the meeting session after a
// terminal failure.
func (s *Service) closeSession(ctx context.Context, n *domain.Negotiation, l *proposal.Ledger, reason meeting.CloseReason, actor string, now time.Time) error {
	for _, kind := range []proposal.Kind{proposal.KindTime, proposal.KindLocation} {
		if err := s.respondPending(ctx, l, kind, proposal.DecisionSuperseded, actor, now); err != nil {
			return err
		}
	}
	session, err := s.meetings.GetByNegotiation(ctx, n.NegotiationID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	expected := session.Version
	if !session.Close(reason, now) {
		return nil
	}
	if err := s.meetings.Update(ctx, session, expected); err != nil {
		return err
	}
	if s.positions != nil {
		s.positions.Discard(session.SessionID)
	}
	return nil
}

func checkPinned(n *domain.Negotiation, l *proposal.Ledger, in RespondInput) error {
	if in.ExpectedVersion != nil && *in.ExpectedVersion != n.Version {
		return fmt.Errorf("%w: negotiation is at version %d", domain.ErrStaleState, n.Version)
	}
	if in.RespondingTo != nil {
		pending, ok := l.Pending(proposal.KindTime)
		if !ok || pending.ProposalID != *in.RespondingTo {
			return fmt.Errorf("%w: proposal %s is no longer pending", domain.ErrStaleState, *in.RespondingTo)
		}
	}
	return nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, proposal.ErrNotPending):
		return fmt.Errorf("%w: %v", domain.ErrStaleState, err)
	case errors.Is(err, proposal.ErrUnknownProposal):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, proposal.ErrPendingExists):
		return fmt.Errorf("%w: %v", domain.ErrIllegalTransition, err)
	default:
		return err
	}
}

func proposalPayload(n *domain.Negotiation, p proposal.Proposal) map[string]any {
	return map[string]any{"negotiation": n, "proposal": p}
}
