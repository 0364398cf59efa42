package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/application/keylock"
	"github.com/swapmeet/swapmeet/internal/application/txn"
	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	domain "github.com/swapmeet/swapmeet/internal/domain/payment"
)

// BothPaidSignal is told when a negotiation reaches paid_complete.
type BothPaidSignal interface {
	BothPaid(ctx context.Context, negotiationID uuid.UUID)
}

// Service is the payment gate between agreement and an active exchange.
type Service struct {
	negotiations  negotiation.Repository
	payments      domain.Repository
	processor     domain.Processor
	credits       domain.CreditLedger
	fees          domain.FeePolicy
	tx            txn.Runner
	locks         *keylock.Locker
	publisher     event.Publisher
	signal        BothPaidSignal
	chargeTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

func NewService(
	negotiations negotiation.Repository,
	payments domain.Repository,
	processor domain.Processor,
	credits domain.CreditLedger,
	fees domain.FeePolicy,
	tx txn.Runner,
	locks *keylock.Locker,
	publisher event.Publisher,
	signal BothPaidSignal,
	chargeTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	if chargeTimeout <= 0 {
		chargeTimeout = 15 * time.Second
	}
	return &Service{
		negotiations:  negotiations,
		payments:      payments,
		processor:     processor,
		credits:       credits,
		fees:          fees,
		tx:            tx,
		locks:         locks,
		publisher:     publisher,
		signal:        signal,
		chargeTimeout: chargeTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With().Str("service", "payment").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Result is the outcome of Pay.
type Result struct {
	Record      *domain.Record           `json:"payment"`
	Negotiation *negotiation.Negotiation `json:"negotiation"`
	AlreadyPaid bool                     `json:"alreadyPaid"`
	BothPaid    bool                     `json:"bothPaid"`
}

// Quote computes what actor owes for a negotiation.
func (s *Service) Quote(ctx context.Context, actor string, negotiationID uuid.UUID) (domain.Quote, error) {
	n, err := s.load(ctx, actor, negotiationID)
	if err != nil {
		return domain.Quote{}, err
	}
	return s.quote(ctx, n, actor)
}

// Pay charges actor's amount due and records the payment. Paying twice returns
// the stored record without charging again.
func (s *Service) Pay(ctx context.Context, actor string, negotiationID uuid.UUID) (*Result, error) {
	result, err := s.pay(ctx, actor, negotiationID)
	if err != nil {
		return nil, err
	}
	if result.BothPaid && s.signal != nil {
		s.signal.BothPaid(ctx, negotiationID)
	}
	return result, nil
}

func (s *Service) pay(ctx context.Context, actor string, negotiationID uuid.UUID) (*Result, error) {
	unlock := s.locks.Lock(negotiationID.String())
	defer unlock()

	n, err := s.load(ctx, actor, negotiationID)
	if err != nil {
		return nil, err
	}
	existing, err := s.payments.Get(ctx, negotiationID, actor)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Record: existing, Negotiation: n, AlreadyPaid: true}, nil
	}
	if n.Status != negotiation.StatusAgreed && n.Status != negotiation.StatusPaidPartial {
		return nil, &negotiation.TransitionError{Action: "pay", Status: n.Status}
	}
	now := s.now()
	if n.DeadlinePassed(now) {
		return nil, fmt.Errorf("%w: deadline was %s", negotiation.ErrExpired, n.PaymentDeadline.Format(time.RFC3339))
	}

	q, err := s.quote(ctx, n, actor)
	if err != nil {
		return nil, err
	}
	var txID *string
	if q.AmountDue > 0 {
		id, err := s.charge(ctx, actor, q)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("negotiation_id", negotiationID.String()).
				Str("party_id", actor).
				Str("amount", q.AmountDue.String()).
				Msg("charge failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
		}
		txID = &id
	}

	record := domain.NewRecord(q, txID, now)
	var bothPaid bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		expected := n.Version
		var err error
		bothPaid, err = n.MarkPaid(actor, now)
		if err != nil {
			return err
		}
		if err := s.payments.Create(ctx, record); err != nil {
			return err
		}
		if record.CreditApplied > 0 {
			if err := s.credits.Consume(ctx, actor, record.CreditApplied); err != nil {
				return fmt.Errorf("consume credit: %w", err)
			}
		}
		return s.negotiations.Update(ctx, n, expected)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("negotiation_id", negotiationID.String()).
		Str("party_id", actor).
		Str("charged", record.AmountCharged.String()).
		Str("status", string(n.Status)).
		Msg("payment recorded")
	participants := n.Participants()
	s.publisher.Publish(ctx, event.New(event.PaymentCompleted, negotiationID, actor, participants, map[string]any{
		"payment":     record,
		"negotiation": n,
	}, now))
	if bothPaid {
		s.publisher.Publish(ctx, event.New(event.PaymentBothPaid, negotiationID, actor, participants, n, now))
	}
	return &Result{Record: record, Negotiation: n, BothPaid: bothPaid}, nil
}

func (s *Service) charge(ctx context.Context, actor string, q domain.Quote) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	defer cancel()
	return s.processor.Charge(ctx, actor, q.AmountDue, domain.IdempotencyKey(q.NegotiationID, actor))
}

func (s *Service) quote(ctx context.Context, n *negotiation.Negotiation, actor string) (domain.Quote, error) {
	credit, err := s.credits.AvailableCredit(ctx, actor)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("read credit: %w", err)
	}
	return domain.NewQuote(n.NegotiationID, actor, s.fees.FeeFor(n.ExchangeType), credit), nil
}

// Records lists the payments made for a negotiation.
func (s *Service) Records(ctx context.Context, actor string, negotiationID uuid.UUID) ([]*domain.Record, error) {
	if _, err := s.load(ctx, actor, negotiationID); err != nil {
		return nil, err
	}
	return s.payments.ListByNegotiation(ctx, negotiationID)
}

func (s *Service) load(ctx context.Context, actor string, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil || !n.IsParticipant(actor) {
		return nil, fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, negotiationID)
	}
	return n, nil
}
