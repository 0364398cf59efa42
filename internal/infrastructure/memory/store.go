package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/domain/session"
)

// Store keeps every aggregate in process memory. It backs STORAGE_DRIVER=memory
// and the service tests.
type Store struct {
	mu           sync.RWMutex
	seq          int64
	negotiations map[uuid.UUID]negotiation.Negotiation
	proposals    map[uuid.UUID][]proposal.Proposal
	responses    map[uuid.UUID][]proposal.Response
	meetings     map[uuid.UUID]meeting.Session
	payments     map[string]payment.Record
	parties      map[uuid.UUID]party.Party
	logins       map[string]session.Session
	credits      map[string]payment.Amount
}

func New() *Store {
	return &Store{
		negotiations: map[uuid.UUID]negotiation.Negotiation{},
		proposals:    map[uuid.UUID][]proposal.Proposal{},
		responses:    map[uuid.UUID][]proposal.Response{},
		meetings:     map[uuid.UUID]meeting.Session{},
		payments:     map[string]payment.Record{},
		parties:      map[uuid.UUID]party.Party{},
		logins:       map[string]session.Session{},
		credits:      map[string]payment.Amount{},
	}
}

type txKey struct{}

type undoLog struct {
	fns []func()
}

// WithinTx runs fn and reverts every write it made when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	log := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		for i := len(log.fns) - 1; i >= 0; i-- {
			log.fns[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback must be called with s.mu held.
func (s *Store) onRollback(ctx context.Context, fn func()) {
	if log, ok := ctx.Value(txKey{}).(*undoLog); ok {
		log.fns = append(log.fns, fn)
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) Negotiations() *NegotiationRepository { return &NegotiationRepository{s: s} }
func (s *Store) Proposals() *ProposalRepository       { return &ProposalRepository{s: s} }
func (s *Store) Meetings() *MeetingRepository         { return &MeetingRepository{s: s} }
func (s *Store) Payments() *PaymentRepository         { return &PaymentRepository{s: s} }
func (s *Store) Parties() *PartyRepository            { return &PartyRepository{s: s} }
func (s *Store) Sessions() *SessionRepository         { return &SessionRepository{s: s} }
func (s *Store) Credits() *CreditLedger               { return &CreditLedger{s: s} }
