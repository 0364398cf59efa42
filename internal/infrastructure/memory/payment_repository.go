package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
)

// PaymentRepository implements payment.Repository.
type PaymentRepository struct {
	s *Store
}

func (r *PaymentRepository) Create(ctx context.Context, rec *payment.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := payment.IdempotencyKey(rec.NegotiationID, rec.PartyID)
	if _, ok := r.s.payments[key]; ok {
		return fmt.Errorf("%w: payment for %s already recorded", negotiation.ErrStaleState, key)
	}
	rec.ID = r.s.nextID()
	r.s.payments[key] = *rec
	r.s.onRollback(ctx, func() { delete(r.s.payments, key) })
	return nil
}

func (r *PaymentRepository) Get(_ context.Context, negotiationID uuid.UUID, partyID string) (*payment.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.payments[payment.IdempotencyKey(negotiationID, partyID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *PaymentRepository) ListByNegotiation(_ context.Context, negotiationID uuid.UUID) ([]*payment.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*payment.Record
	for _, rec := range r.s.payments {
		if rec.NegotiationID == negotiationID {
			item := rec
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreditLedger implements payment.CreditLedger from an in-memory balance table.
type CreditLedger struct {
	s *Store
}

func (c *CreditLedger) AvailableCredit(_ context.Context, partyID string) (payment.Amount, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.s.credits[partyID], nil
}

func (c *CreditLedger) Consume(ctx context.Context, partyID string, amount payment.Amount) error {
	if amount <= 0 {
		return nil
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	prev := c.s.credits[partyID]
	if prev < amount {
		return fmt.Errorf("%w: credit for %s below %s", negotiation.ErrStaleState, partyID, amount)
	}
	c.s.credits[partyID] = prev - amount
	c.s.onRollback(ctx, func() { c.s.credits[partyID] = prev })
	return nil
}

func (c *CreditLedger) SetCredit(partyID string, amount payment.Amount) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.credits[partyID] = amount
}
